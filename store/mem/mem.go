// Package mem implements an in-memory blob store.
package mem

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store is a memory-based implementation of a blob store.
type Store struct {
	mu    sync.Mutex
	blobs map[fxcache.Key][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{
		blobs: make(map[fxcache.Key][]byte),
	}
}

// Get gets the blob stored under `key`.
func (s *Store) Get(_ context.Context, key fxcache.Key) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[key]; ok {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return nil, fxcache.ErrNotFound
}

// Put reads all of r and stores it under `key`.
// Nothing is stored if reading fails.
func (s *Store) Put(_ context.Context, key fxcache.Key, r io.Reader) error {
	if s.has(key) {
		return fxcache.ErrAlreadyExists
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading blob")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check again: another Put may have won while we were reading.
	if _, ok := s.blobs[key]; ok {
		return fxcache.ErrAlreadyExists
	}
	s.blobs[key] = b
	return nil
}

func (s *Store) has(key fxcache.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

// ListKeys produces all keys in the store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	s.mu.Lock()
	keys := make([]fxcache.Key, 0, len(s.blobs))
	for key := range s.blobs {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	index := sort.Search(len(keys), func(n int) bool {
		return start.Less(keys[n])
	})

	for i := index; i < len(keys); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f(keys[i])
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (fxcache.Store, error) {
		return New(), nil
	})
}
