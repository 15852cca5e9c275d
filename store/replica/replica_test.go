package replica

import (
	"bytes"
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/goleak"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store/mem"
	"github.com/bobg/fxcache/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	testutil.All(ctx, t, func() fxcache.Store {
		s := New(ctx, []fxcache.Store{mem.New(), mem.New()}, []fxcache.Store{mem.New()}, 1)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReplicaSets(t *testing.T) {
	ctx := context.Background()

	var (
		m1 = mem.New()
		m2 = mem.New()
		s  = New(ctx, []fxcache.Store{m1, m2}, nil, 1)

		k1 = testutil.Key(1)
		k2 = testutil.Key(2)
		k3 = testutil.Key(3)
	)
	defer s.Close()

	if err := m1.Put(ctx, k1, bytes.NewReader([]byte("foo"))); err != nil {
		t.Fatal(err)
	}
	if err := m2.Put(ctx, k2, bytes.NewReader([]byte("bar"))); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, k3, bytes.NewReader([]byte("baz"))); err != nil {
		t.Fatal(err)
	}

	checkReplica(ctx, t, "m1", m1, k1, k3)
	checkReplica(ctx, t, "m2", m2, k2, k3)
	checkReplica(ctx, t, "replica", s, k1, k2, k3)

	// k1 is already in one of the sync stores but not the other.
	if err := s.Put(ctx, k1, bytes.NewReader([]byte("foo"))); err != nil {
		t.Errorf("got %v, want success when one store lacks the key", err)
	}
	if err := s.Put(ctx, k1, bytes.NewReader([]byte("foo"))); !errors.Is(err, fxcache.ErrAlreadyExists) {
		t.Errorf("got %v, want %v", err, fxcache.ErrAlreadyExists)
	}
	checkReplica(ctx, t, "m2 after", m2, k1, k2, k3)
}

func TestAsync(t *testing.T) {
	ctx := context.Background()

	var (
		a   = mem.New()
		s   = New(ctx, []fxcache.Store{mem.New()}, []fxcache.Store{a}, 4)
		key = testutil.Key(7)
	)
	defer s.Close()

	if err := s.Put(ctx, key, bytes.NewReader([]byte("later"))); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rc, err := a.Get(ctx, key)
		if err == nil {
			got, _ := io.ReadAll(rc)
			rc.Close()
			if string(got) != "later" {
				t.Errorf("got %q, want %q", got, "later")
			}
			return
		}
		if !errors.Is(err, fxcache.ErrNotFound) {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatal("async store never got the blob")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type failingStore struct {
	*mem.Store
}

var errFailingPut = errors.New("put failed")

func (failingStore) Put(context.Context, fxcache.Key, io.Reader) error {
	return errFailingPut
}

func TestAsyncFailure(t *testing.T) {
	ctx := context.Background()

	s := New(ctx, []fxcache.Store{mem.New()}, []fxcache.Store{failingStore{Store: mem.New()}}, 4)

	if err := s.Put(ctx, testutil.Key(1), bytes.NewReader([]byte("x"))); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.checkErr() == nil {
		if time.Now().After(deadline) {
			s.Close()
			t.Fatal("async failure never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Put(ctx, testutil.Key(2), bytes.NewReader([]byte("y"))); !errors.Is(err, errFailingPut) {
		t.Errorf("got %v from Put after async failure, want %v", err, errFailingPut)
	}
	if err := s.Close(); !errors.Is(err, errFailingPut) {
		t.Errorf("got %v from Close, want %v", err, errFailingPut)
	}
}

func checkReplica(ctx context.Context, t *testing.T, name string, s fxcache.Store, want ...fxcache.Key) {
	t.Run(name, func(t *testing.T) {
		var got []fxcache.Key
		err := s.ListKeys(ctx, fxcache.Zero, func(key fxcache.Key) error {
			got = append(got, key)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}
