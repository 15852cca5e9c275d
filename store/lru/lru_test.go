package lru

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store/mem"
	"github.com/bobg/fxcache/testutil"
)

func TestStore(t *testing.T) {
	testutil.All(context.Background(), t, func() fxcache.Store {
		s, err := New(mem.New(), 1000, 0)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

// countingStore counts Gets that reach it.
type countingStore struct {
	fxcache.Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func TestCaching(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = &countingStore{Store: mem.New()}
		small  = testutil.Key(1)
		big    = testutil.Key(2)
	)
	s, err := New(nested, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Put(ctx, small, bytes.NewReader(testutil.Data(100))); err != nil {
		t.Fatal(err)
	}
	if err = s.Put(ctx, big, bytes.NewReader(testutil.Data(101))); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if got := read(ctx, t, s, small); !bytes.Equal(got, testutil.Data(100)) {
			t.Fatal("small blob mismatch")
		}
		if got := read(ctx, t, s, big); !bytes.Equal(got, testutil.Data(101)) {
			t.Fatal("big blob mismatch")
		}
	}

	// One nested Get for the small blob, three for the big one.
	if nested.gets != 4 {
		t.Errorf("got %d nested gets, want 4", nested.gets)
	}
}

func read(ctx context.Context, t *testing.T, s fxcache.Getter, key fxcache.Key) []byte {
	t.Helper()
	rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
