// Package badger implements a blob store in an embedded Badger database.
package badger

import (
	"bytes"
	"context"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store is a Badger-based blob store.
type Store struct {
	db *badger.DB
}

var prefix = []byte("b:")

// New produces a new Store using `db` for storage.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a Badger database in dir and produces a Store in it.
// The caller should Close the Store when done.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger db in %s", dir)
	}
	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func dbKey(key fxcache.Key) []byte {
	return append(append([]byte{}, prefix...), key[:]...)
}

// Get gets the blob stored under `key`.
func (s *Store) Get(_ context.Context, key fxcache.Key) (io.ReadCloser, error) {
	var b []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		b, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fxcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting blob %s", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Put reads all of r and stores it under `key` in a single transaction.
// A concurrent Put of the same key makes one of the two transactions conflict;
// the loser reports fxcache.ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading blob")
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	k := dbKey(key)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return fxcache.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, b)
	})
	if errors.Is(err, fxcache.ErrAlreadyExists) || errors.Is(err, badger.ErrConflict) {
		return fxcache.ErrAlreadyExists
	}
	return errors.Wrapf(err, "storing blob %s", key)
}

// ListKeys produces all keys in the store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		startKey := dbKey(start)
		for it.Seek(startKey); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			if bytes.Equal(k, startKey) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(fxcache.KeyFromBytes(k[len(prefix):])); err != nil {
				return err
			}
		}
		return nil
	})
}

func init() {
	store.Register("badger", func(_ context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		dir, ok := conf["dir"].(string)
		if !ok {
			return nil, errors.New(`missing "dir" parameter`)
		}
		return Open(dir)
	})
}
