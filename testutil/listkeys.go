package testutil

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/fxcache"
)

// ListKeys writes a handful of blobs to an empty store
// and makes sure that the right set of keys comes back in a call to ListKeys,
// in order,
// and that the start argument is honored.
func ListKeys(ctx context.Context, t *testing.T, store fxcache.Store) {
	t.Helper()

	var want []fxcache.Key
	for i := 0; i < 20; i++ {
		key := Key(i)
		if err := store.Put(ctx, key, bytes.NewReader(Data(i))); err != nil {
			t.Fatal(err)
		}
		want = append(want, key)
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

	got := listKeys(ctx, t, store, fxcache.Zero)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	got = listKeys(ctx, t, store, want[9])
	if diff := cmp.Diff(want[10:], got); diff != "" {
		t.Errorf("mismatch starting after %s (-want +got):\n%s", want[9], diff)
	}
}

func listKeys(ctx context.Context, t *testing.T, store fxcache.Getter, start fxcache.Key) []fxcache.Key {
	t.Helper()

	var got []fxcache.Key
	err := store.ListKeys(ctx, start, func(k fxcache.Key) error {
		got = append(got, k)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}
