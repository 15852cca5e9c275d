// Package compress implements a blob store that compresses and uncompresses blobs
// on their way into and out of a nested store.
package compress

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store wraps a nested store, keeping each blob there compressed
// under the same key.
type Store struct {
	s fxcache.Store
	c Compressor
}

// Compressor is the interface for objects that can compress and uncompress blobs.
type Compressor interface {
	Compress([]byte) ([]byte, error)

	// NewReader produces a reader uncompressing the output of Compress.
	NewReader(io.Reader) (io.ReadCloser, error)
}

// New produces a new Store compressing into `s` with `c`.
func New(s fxcache.Store, c Compressor) *Store {
	return &Store{s: s, c: c}
}

// Get opens the blob stored under `key`, uncompressing it as it is read.
func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	rc, err := s.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ur, err := s.c.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, errors.Wrapf(err, "starting to uncompress %s", key)
	}
	return &readCloser{ur: ur, rc: rc}, nil
}

// Put compresses all of r and stores the result in the nested store.
// The whole blob is held in memory while it is compressed.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r); err != nil {
		return errors.Wrap(err, "reading blob")
	}
	compressed, err := s.c.Compress(buf.Bytes())
	if err != nil {
		return errors.Wrapf(err, "compressing %s", key)
	}
	return s.s.Put(ctx, key, bytes.NewReader(compressed))
}

// ListKeys produces all keys in the nested store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	return s.s.ListKeys(ctx, start, f)
}

type readCloser struct {
	ur io.ReadCloser
	rc io.ReadCloser
}

func (r *readCloser) Read(p []byte) (int, error) {
	return r.ur.Read(p)
}

func (r *readCloser) Close() error {
	err := r.ur.Close()
	if err2 := r.rc.Close(); err == nil {
		err = err2
	}
	return err
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		level, _ := store.IntParam(conf, "level")

		var c Compressor
		switch alg, _ := conf["algorithm"].(string); alg {
		case "", "zstd":
			c, err = NewZstd(level)
			if err != nil {
				return nil, err
			}
		case "lz4":
			c = LZ4{Level: level}
		default:
			return nil, errors.Errorf("unknown compression algorithm %q", alg)
		}
		return New(nested, c), nil
	})
}
