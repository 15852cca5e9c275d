// Package gcs implements a blob store on Google Cloud Storage.
package gcs

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store is a Google Cloud Storage-based implementation of a blob store.
// Each blob is one object, named for its key.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

// Get opens the blob stored under `key`.
func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	name := blobObjName(key)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, fxcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading object %s", name)
	}
	return r, nil
}

// Put uploads r as the object for `key`.
// The upload is conditional on the object not existing,
// and an upload that fails partway is abandoned,
// so the object only ever appears complete.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	name := blobObjName(key)
	obj := s.bucket.Object(name)

	_, err := obj.Attrs(ctx)
	if err == nil {
		return fxcache.ErrAlreadyExists
	}
	if !stderrs.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "getting object attrs for %s", name)
	}

	// Canceling the writer's context aborts the upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err = io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return errors.Wrapf(err, "writing object %s", name)
	}

	err = w.Close()
	if isPreconditionFailed(err) {
		return fxcache.ErrAlreadyExists
	}
	return errors.Wrapf(err, "writing object %s", name)
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

// ListKeys produces all keys in the store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	// Google Cloud Storage iterators have no API for starting in the middle of a bucket.
	// But they can filter by object-name prefix.
	// So we take (the hex encoding of) `start` and repeatedly compute prefixes for the objects we want.
	// If `start` is e67a, for example, the sequence of generated prefixes is:
	//   e67b e67c e67d e67e e67f
	//   e68 e69 e6a e6b e6c e6d e6e e6f
	//   e7 e8 e9 ea eb ec ed ee ef
	//   f
	return eachHexPrefix(start.String(), false, func(prefix string) error {
		return s.listKeys(ctx, prefix, f)
	})
}

func (s *Store) listKeys(ctx context.Context, prefix string, f func(fxcache.Key) error) error {
	iter := s.bucket.Objects(ctx, &storage.Query{Prefix: blobPrefix + prefix})
	for {
		obj, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "iterating over blob objects")
		}
		key, err := keyFromBlobObjName(obj.Name)
		if err != nil {
			continue
		}
		if err = f(key); err != nil {
			return err
		}
	}
}

func eachHexPrefix(prefix string, incl bool, f func(string) error) error {
	prefix = strings.ToLower(prefix)
	for len(prefix) > 0 {
		end := hexval(prefix[len(prefix)-1:][0])
		if !incl {
			end++
		}
		prefix = prefix[:len(prefix)-1]
		for c := end; c < 16; c++ {
			err := f(prefix + string(hexdigit(c)))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func hexval(b byte) int {
	switch {
	case '0' <= b && b <= '9':
		return int(b - '0')
	case 'a' <= b && b <= 'f':
		return int(10 + b - 'a')
	case 'A' <= b && b <= 'F':
		return int(10 + b - 'A')
	}
	return 0
}

func hexdigit(n int) byte {
	if n < 10 {
		return byte(n + '0')
	}
	return byte(n - 10 + 'a')
}

const blobPrefix = "b:"

func blobObjName(key fxcache.Key) string {
	return blobPrefix + key.String()
}

func keyFromBlobObjName(name string) (fxcache.Key, error) {
	return fxcache.KeyFromHex(strings.TrimPrefix(name, blobPrefix))
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok {
			options = append(options, option.WithCredentialsFile(creds))
		}
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
