// Package testutil holds checks that every fxcache.Store implementation should pass.
package testutil

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
)

// Data produces n bytes of deterministic pseudorandom data.
func Data(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

// Key produces a distinct key for each value of n.
func Key(n int) fxcache.Key {
	return fxcache.MediaOrigin{Locator: "testutil", Start: time.Duration(n) * time.Second}.Key()
}

// ReadWrite permits testing a Store implementation
// by writing some data to it,
// then reading it back out to make sure it's the same.
func ReadWrite(ctx context.Context, t *testing.T, store fxcache.Store, data []byte) {
	t.Helper()

	key := fxcache.MediaOrigin{Locator: "readwrite", Length: time.Duration(len(data)) * time.Second}.Key()

	t1 := time.Now()
	err := store.Put(ctx, key, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("wrote %d bytes in %s", len(data), time.Since(t1))

	t2 := time.Now()
	got := get(ctx, t, store, key)
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))

	if len(got) != len(data) {
		t.Errorf("got length %d, want %d", len(got), len(data))
	} else {
		for i := 0; i < len(got); i++ {
			if got[i] != data[i] {
				t.Fatalf("mismatch at position %d (of %d)", i, len(got))
			}
		}
	}
}

// NotFound checks that getting an absent key yields fxcache.ErrNotFound.
func NotFound(ctx context.Context, t *testing.T, store fxcache.Store) {
	t.Helper()

	key := fxcache.MediaOrigin{Locator: "never stored"}.Key()
	rc, err := store.Get(ctx, key)
	if err == nil {
		rc.Close()
		t.Fatal("got a blob for a key that was never stored")
	}
	if !errors.Is(err, fxcache.ErrNotFound) {
		t.Errorf("got error %v, want %v", err, fxcache.ErrNotFound)
	}
}

// CreateOnce checks that a second Put to the same key
// fails with fxcache.ErrAlreadyExists and leaves the first blob alone.
func CreateOnce(ctx context.Context, t *testing.T, store fxcache.Store) {
	t.Helper()

	key := fxcache.MediaOrigin{Locator: "createonce"}.Key()
	if err := store.Put(ctx, key, bytes.NewReader([]byte("first"))); err != nil {
		t.Fatal(err)
	}
	err := store.Put(ctx, key, bytes.NewReader([]byte("second, longer")))
	if !errors.Is(err, fxcache.ErrAlreadyExists) {
		t.Fatalf("got error %v on second put, want %v", err, fxcache.ErrAlreadyExists)
	}
	if got := get(ctx, t, store, key); string(got) != "first" {
		t.Errorf("got %q after second put, want %q", got, "first")
	}
}

// Empty checks that a zero-length blob round-trips
// and is distinct from an absent one.
func Empty(ctx context.Context, t *testing.T, store fxcache.Store) {
	t.Helper()

	key := fxcache.MediaOrigin{Locator: "empty"}.Key()
	if err := store.Put(ctx, key, bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}
	if got := get(ctx, t, store, key); len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}

// FailedPut checks that a Put whose input fails partway
// leaves nothing readable under the key,
// and that the key can be written afterwards.
func FailedPut(ctx context.Context, t *testing.T, store fxcache.Store) {
	t.Helper()

	var (
		key  = fxcache.MediaOrigin{Locator: "failedput"}.Key()
		data = Data(4096)
		boom = errors.New("boom")
	)
	err := store.Put(ctx, key, io.MultiReader(bytes.NewReader(data[:1000]), errReader{err: boom}))
	if err == nil {
		t.Fatal("put succeeded despite failing input")
	}

	rc, err := store.Get(ctx, key)
	if err == nil {
		rc.Close()
		t.Fatal("failed put left a readable blob")
	}
	if !errors.Is(err, fxcache.ErrNotFound) {
		t.Fatalf("got error %v after failed put, want %v", err, fxcache.ErrNotFound)
	}

	if err = store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		t.Fatalf("retrying put after failure: %s", err)
	}
	if got := get(ctx, t, store, key); !bytes.Equal(got, data) {
		t.Error("mismatch after retried put")
	}
}

// GetDuringPut checks that a Get racing an unfinished Put of the same key
// reports fxcache.ErrNotFound rather than a partial blob.
func GetDuringPut(ctx context.Context, t *testing.T, store fxcache.Store) {
	t.Helper()

	var (
		key  = fxcache.MediaOrigin{Locator: "getduringput"}.Key()
		data = Data(8192)
		r    = &pausingReader{
			first:   data[:1024],
			rest:    bytes.NewReader(data[1024:]),
			paused:  make(chan struct{}),
			release: make(chan struct{}),
		}
		putErr = make(chan error, 1)
	)

	go func() {
		putErr <- store.Put(ctx, key, r)
	}()

	select {
	case <-r.paused:
	case err := <-putErr:
		t.Fatalf("put finished (err %v) before consuming its input", err)
	case <-time.After(10 * time.Second):
		close(r.release)
		t.Fatal("put never read past its first chunk")
	}

	rc, err := store.Get(ctx, key)
	switch {
	case err == nil:
		got, _ := io.ReadAll(rc)
		rc.Close()
		t.Errorf("got %d bytes for a key whose put is unfinished, want %v", len(got), fxcache.ErrNotFound)
	case !errors.Is(err, fxcache.ErrNotFound):
		t.Errorf("got error %v during put, want %v", err, fxcache.ErrNotFound)
	}

	close(r.release)
	if err = <-putErr; err != nil {
		t.Fatal(err)
	}
	if got := get(ctx, t, store, key); !bytes.Equal(got, data) {
		t.Error("mismatch after put finished")
	}
}

// All runs every check in this package against a fresh store from newStore.
func All(ctx context.Context, t *testing.T, newStore func() fxcache.Store) {
	t.Run("readwrite", func(t *testing.T) { ReadWrite(ctx, t, newStore(), Data(1<<20)) })
	t.Run("notfound", func(t *testing.T) { NotFound(ctx, t, newStore()) })
	t.Run("createonce", func(t *testing.T) { CreateOnce(ctx, t, newStore()) })
	t.Run("empty", func(t *testing.T) { Empty(ctx, t, newStore()) })
	t.Run("failedput", func(t *testing.T) { FailedPut(ctx, t, newStore()) })
	t.Run("getduringput", func(t *testing.T) { GetDuringPut(ctx, t, newStore()) })
	t.Run("listkeys", func(t *testing.T) { ListKeys(ctx, t, newStore()) })
}

func get(ctx context.Context, t *testing.T, store fxcache.Getter, key fxcache.Key) []byte {
	t.Helper()

	rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}

// Yields first, then blocks until release is closed before yielding the rest.
type pausingReader struct {
	first   []byte
	rest    io.Reader
	sent    bool
	waited  bool
	paused  chan struct{}
	release chan struct{}
}

func (r *pausingReader) Read(p []byte) (int, error) {
	if !r.sent {
		n := copy(p, r.first)
		r.first = r.first[n:]
		if len(r.first) == 0 {
			r.sent = true
		}
		return n, nil
	}
	if !r.waited {
		r.waited = true
		close(r.paused)
		<-r.release
	}
	return r.rest.Read(p)
}
