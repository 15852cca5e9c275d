package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/cached"
	"github.com/bobg/fxcache/store/mem"
)

type fakePipeline struct {
	err error
}

func (f fakePipeline) Create(_ context.Context, origin fxcache.MediaOrigin) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(origin.String())), nil
}

type brokenStore struct {
	*mem.Store
}

func (brokenStore) Get(context.Context, fxcache.Key) (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestClips(t *testing.T) {
	p := cached.New(mem.New(), fakePipeline{})
	h := New(p)

	want := fxcache.MediaOrigin{Locator: "X", Start: 90 * time.Second, Length: 5 * time.Second}

	for _, target := range []string{
		"/clips?locator=X&start=90",
		"/clips?locator=X&start=1m30s&length=5s",
	} {
		rec := get(t, h, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: got status %d, want %d", target, rec.Code, http.StatusOK)
		}
		if got := rec.Body.String(); got != want.String() {
			t.Errorf("%s: got body %q, want %q", target, got, want.String())
		}
		if got := rec.Header().Get("X-Fx-Key"); got != want.Key().String() {
			t.Errorf("%s: got key header %s, want %s", target, got, want.Key())
		}
	}
	p.Wait()

	rec := get(t, h, "/metrics")
	if !bytes.Contains(rec.Body.Bytes(), []byte("fxcache_lookups_total")) {
		t.Error("metrics do not include fxcache_lookups_total")
	}
}

func TestClipErrors(t *testing.T) {
	cases := []struct {
		name   string
		p      fxcache.Pipeline
		target string
		want   int
	}{{
		name:   "no locator",
		p:      fakePipeline{},
		target: "/clips?start=3",
		want:   http.StatusBadRequest,
	}, {
		name:   "bad length",
		p:      fakePipeline{},
		target: "/clips?locator=X&length=soon",
		want:   http.StatusBadRequest,
	}, {
		name:   "negative start",
		p:      fakePipeline{},
		target: "/clips?locator=X&start=-1",
		want:   http.StatusBadRequest,
	}, {
		name:   "launch failure",
		p:      cached.New(mem.New(), fakePipeline{err: &fxcache.LaunchError{Stage: fxcache.FetchStage, Err: errors.New("no youtube-dl")}}),
		target: "/clips?locator=X",
		want:   http.StatusBadGateway,
	}, {
		name:   "cache failure",
		p:      cached.New(brokenStore{Store: mem.New()}, fakePipeline{}),
		target: "/clips?locator=X",
		want:   http.StatusServiceUnavailable,
	}}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := get(t, New(c.p), c.target)
			if rec.Code != c.want {
				t.Errorf("got status %d, want %d", rec.Code, c.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	rec := get(t, New(fakePipeline{}), "/keys?locator=X&length=5")
	want := fxcache.MediaOrigin{Locator: "X", Length: 5 * time.Second}.Key().String() + "\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRateLimit(t *testing.T) {
	h := New(fakePipeline{}, WithRateLimit(1, time.Minute))

	if rec := get(t, h, "/clips?locator=X"); rec.Code != http.StatusOK {
		t.Fatalf("got status %d on first request, want %d", rec.Code, http.StatusOK)
	}
	if rec := get(t, h, "/clips?locator=X"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("got status %d on second request, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("got status %d for healthz, want %d", rec.Code, http.StatusOK)
	}
}
