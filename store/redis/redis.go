// Package redis implements a blob store in a Redis server.
package redis

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store is a Redis-based blob store.
// Each blob is a plain string value under the key "fxblob:" followed by the hex key.
// Values never expire.
type Store struct {
	client *redis.Client
}

const keyPrefix = "fxblob:"

// New produces a new Store using the given client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func redisKey(key fxcache.Key) string {
	return keyPrefix + key.String()
}

// Get gets the blob stored under `key`.
func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	b, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, fxcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting blob %s", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Put reads all of r and stores it under `key` with SETNX,
// which is what makes it create-once.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading blob")
	}
	ok, err := s.client.SetNX(ctx, redisKey(key), b, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "storing blob %s", key)
	}
	if !ok {
		return fxcache.ErrAlreadyExists
	}
	return nil
}

// ListKeys produces all keys in the store, in lexicographic order.
// Redis does not keep keys in order,
// so this scans all of them before calling f.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	var (
		keys []fxcache.Key
		iter = s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	)
	for iter.Next(ctx) {
		key, err := fxcache.KeyFromHex(strings.TrimPrefix(iter.Val(), keyPrefix))
		if err != nil {
			continue
		}
		if start.Less(key) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "scanning keys")
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	for _, key := range keys {
		if err := f(key); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	store.Register("redis", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		addr, ok := conf["addr"].(string)
		if !ok {
			return nil, errors.New(`missing "addr" parameter`)
		}
		password, _ := conf["password"].(string)
		db, _ := store.IntParam(conf, "db")

		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
		}
		return New(client), nil
	})
}
