package fxcache

import (
	"context"
	"errors"
	"io"
)

// Getter is a read-only Store (qv).
type Getter interface {
	// Get opens the blob stored under key.
	// The caller must close the result.
	// It returns ErrNotFound if there is no such blob;
	// any other error means the store itself is failing.
	Get(context.Context, Key) (io.ReadCloser, error)

	// ListKeys calls a function for each key in the store in lexicographic order,
	// beginning with the first key _after_ the specified one.
	//
	// If the callback function returns an error,
	// ListKeys exits with that error.
	ListKeys(context.Context, Key, func(Key) error) error
}

// Store is a create-once blob store.
// It stores opaque byte sequences - "blobs" - under a Key.
// A key, once written, is never rewritten.
type Store interface {
	Getter

	// Put consumes r and stores its bytes under key.
	// If key is already present it returns ErrAlreadyExists
	// and leaves the existing blob alone.
	//
	// Put is atomic:
	// if it fails (including when r returns an error)
	// no blob, partial or otherwise, becomes visible under key,
	// and a concurrent Get sees ErrNotFound until Put has completely succeeded.
	Put(ctx context.Context, key Key, r io.Reader) error
}

var (
	// ErrNotFound is the error returned
	// when a Getter tries to access a non-existent key.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is the error returned
	// when a Store is asked to Put a key it already has.
	ErrAlreadyExists = errors.New("already exists")
)
