// Package file implements a blob store as a directory of files,
// one per key,
// each holding the raw bytes of its blob.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store is a file-based implementation of a blob store.
//
// A blob is first written to a temporary file in the same directory
// and becomes visible under its key only once it is complete,
// by hard-linking the temporary file to the key's name.
// The link fails if the name is taken,
// which is what makes Put create-once without any locking.
type Store struct {
	root string
}

// New produces a new Store storing data in the directory `root`,
// which is created if necessary.
func New(root string) (*Store, error) {
	err := os.MkdirAll(root, 0755)
	return &Store{root: root}, errors.Wrapf(err, "ensuring %s exists", root)
}

func (s *Store) path(key fxcache.Key) string {
	return filepath.Join(s.root, key.String())
}

// Get opens the blob stored under `key`.
func (s *Store) Get(_ context.Context, key fxcache.Key) (io.ReadCloser, error) {
	path := s.path(key)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fxcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, nil
}

// Put copies r into a new file for `key`.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	path := s.path(key)

	_, err := os.Lstat(path)
	if err == nil {
		return fxcache.ErrAlreadyExists
	}
	if !os.IsNotExist(err) {
		return errors.Wrapf(err, "checking for %s", path)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithTempDir(s.root), renameio.WithPermissions(0644))
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %s", path)
	}
	defer pf.Cleanup()

	if _, err = io.Copy(pf, ctxReader{ctx: ctx, r: r}); err != nil {
		return errors.Wrapf(err, "writing data for %s", path)
	}
	if err = pf.Sync(); err != nil {
		return errors.Wrapf(err, "syncing data for %s", path)
	}

	err = os.Link(pf.Name(), path)
	if os.IsExist(err) {
		return fxcache.ErrAlreadyExists
	}
	return errors.Wrapf(err, "linking %s", path)
}

// ListKeys produces all keys in the store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.root)
	}

	startHex := start.String()
	index := sort.Search(len(entries), func(n int) bool {
		return entries[n].Name() > startHex
	})
	for i := index; i < len(entries); i++ {
		entry := entries[i]
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		key, err := fxcache.KeyFromHex(entry.Name())
		if err != nil {
			continue
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = f(key); err != nil {
			return err
		}
	}
	return nil
}

// Stops a copy when the context is canceled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root)
	})
}
