package compress

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
	"github.com/bobg/fxcache/store/mem"
	"github.com/bobg/fxcache/testutil"
)

func compressors(t *testing.T) map[string]Compressor {
	z, err := NewZstd(3)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Compressor{
		"zstd":  z,
		"lz4":   LZ4{},
		"lz4-9": LZ4{Level: 9},
	}
}

func TestStore(t *testing.T) {
	for name, c := range compressors(t) {
		c := c
		t.Run(name, func(t *testing.T) {
			testutil.All(context.Background(), t, func() fxcache.Store {
				return New(mem.New(), c)
			})
		})
	}
}

func TestCompresses(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 10000)

	for name, c := range compressors(t) {
		t.Run(name, func(t *testing.T) {
			var (
				ctx    = context.Background()
				nested = mem.New()
				s      = New(nested, c)
				key    = testutil.Key(1)
			)
			if err := s.Put(ctx, key, bytes.NewReader(data)); err != nil {
				t.Fatal(err)
			}

			rc, err := nested.Get(ctx, key)
			if err != nil {
				t.Fatal(err)
			}
			raw, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatal(err)
			}
			if len(raw) >= len(data) {
				t.Errorf("nested store holds %d bytes, want fewer than %d", len(raw), len(data))
			}

			rc, err = s.Get(ctx, key)
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Error("mismatch after round trip")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	nested := map[string]interface{}{"type": "mem"}

	for _, alg := range []string{"", "zstd", "lz4"} {
		conf := map[string]interface{}{"type": "compress", "algorithm": alg, "nested": nested}
		if _, err := store.Create(ctx, "compress", conf); err != nil {
			t.Errorf("algorithm %q: %s", alg, err)
		}
	}

	conf := map[string]interface{}{"type": "compress", "algorithm": "rot13", "nested": nested}
	if _, err := store.Create(ctx, "compress", conf); err == nil {
		t.Error("got no error for an unknown algorithm")
	}
}
