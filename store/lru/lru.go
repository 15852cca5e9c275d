// Package lru implements a blob store that acts as a least-recently-used cache for a nested blob store.
package lru

import (
	"bytes"
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// DefaultMaxBlobSize is the largest blob a Store keeps in memory unless told otherwise.
const DefaultMaxBlobSize = 1 << 20

// Store implements a memory-based least-recently-used cache for a blob store.
// Blobs are cached as they are read;
// blobs bigger than the size limit are streamed from the nested store and not cached.
// Writes pass through to the underlying blob store.
type Store struct {
	c       *lru.Cache // Key->[]byte
	s       fxcache.Store
	maxBlob int
}

// New produces a new Store backed by `s` and caching up to `size` blobs
// of at most maxBlob bytes each.
// A maxBlob of zero or less means DefaultMaxBlobSize.
func New(s fxcache.Store, size, maxBlob int) (*Store, error) {
	if maxBlob <= 0 {
		maxBlob = DefaultMaxBlobSize
	}
	c, err := lru.New(size)
	return &Store{s: s, c: c, maxBlob: maxBlob}, err
}

// Get gets the blob stored under `key`.
func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	if got, ok := s.c.Get(key); ok {
		return io.NopCloser(bytes.NewReader(got.([]byte))), nil
	}

	rc, err := s.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	head, err := io.ReadAll(io.LimitReader(rc, int64(s.maxBlob)+1))
	if err != nil {
		rc.Close()
		return nil, errors.Wrapf(err, "reading blob %s", key)
	}
	if len(head) > s.maxBlob {
		return readCloser{Reader: io.MultiReader(bytes.NewReader(head), rc), Closer: rc}, nil
	}
	rc.Close()

	s.c.Add(key, head)
	return io.NopCloser(bytes.NewReader(head)), nil
}

// Put adds a blob to the nested store.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	return s.s.Put(ctx, key, r)
}

// ListKeys produces all keys in the nested store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	return s.s.ListKeys(ctx, start, f)
}

type readCloser struct {
	io.Reader
	io.Closer
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		size, ok := store.IntParam(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		maxBlob, _ := store.IntParam(conf, "max_blob")
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, size, maxBlob)
	})
}

