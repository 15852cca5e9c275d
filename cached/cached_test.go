package cached

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store/mem"
	"github.com/bobg/fxcache/tee"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var origin = fxcache.MediaOrigin{Locator: "X", Length: 5 * time.Second}

// fakePipeline produces the same bytes for every origin
// and counts how often it is invoked.
type fakePipeline struct {
	data  []byte
	err   error // returned from Create
	fail  error // returned from the stream after data
	calls int32
}

func (f *fakePipeline) Create(_ context.Context, _ fxcache.MediaOrigin) (io.ReadCloser, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	var r io.Reader = bytes.NewReader(f.data)
	if f.fail != nil {
		r = io.MultiReader(r, failReader{err: f.fail})
	}
	return io.NopCloser(r), nil
}

type failReader struct{ err error }

func (r failReader) Read([]byte) (int, error) { return 0, r.err }

type persistResults struct {
	mu   sync.Mutex
	errs []error
}

func (pr *persistResults) record(_ fxcache.Key, err error) {
	pr.mu.Lock()
	pr.errs = append(pr.errs, err)
	pr.mu.Unlock()
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestMissThenHit(t *testing.T) {
	var (
		ctx     = context.Background()
		s       = mem.New()
		fp      = &fakePipeline{data: []byte("clip bytes")}
		results persistResults
		p       = New(s, fp, OnPersist(results.record))
	)

	misses := promtest.ToFloat64(lookups.WithLabelValues("miss"))
	hits := promtest.ToFloat64(lookups.WithLabelValues("hit"))

	rc, err := p.Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, rc); !bytes.Equal(got, fp.data) {
		t.Fatalf("got %q, want %q", got, fp.data)
	}
	p.Wait()

	if len(results.errs) != 1 || results.errs[0] != nil {
		t.Fatalf("got persist results %v, want one success", results.errs)
	}

	stored, err := s.Get(ctx, origin.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, stored); !bytes.Equal(got, fp.data) {
		t.Errorf("store holds %q, want %q", got, fp.data)
	}

	rc, err = p.Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, rc); !bytes.Equal(got, fp.data) {
		t.Errorf("on second request got %q, want %q", got, fp.data)
	}
	p.Wait()

	if fp.calls != 1 {
		t.Errorf("pipeline invoked %d times, want 1", fp.calls)
	}
	if len(results.errs) != 1 {
		t.Errorf("got %d persist results, want 1", len(results.errs))
	}
	if got := promtest.ToFloat64(lookups.WithLabelValues("miss")) - misses; got != 1 {
		t.Errorf("counted %v misses, want 1", got)
	}
	if got := promtest.ToFloat64(lookups.WithLabelValues("hit")) - hits; got != 1 {
		t.Errorf("counted %v hits, want 1", got)
	}
}

func TestConcurrentMisses(t *testing.T) {
	var (
		ctx     = context.Background()
		s       = mem.New()
		fp      = &fakePipeline{data: bytes.Repeat([]byte("0123456789"), 1000)}
		results persistResults
		p       = New(s, fp, OnPersist(results.record))
	)

	rc1, err := p.Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	rc2, err := p.Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, rc := range []io.ReadCloser{rc1, rc2} {
		rc := rc
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Error(err)
				return
			}
			if !bytes.Equal(got, fp.data) {
				t.Error("caller got wrong bytes")
			}
		}()
	}
	wg.Wait()
	p.Wait()

	if fp.calls != 2 {
		t.Errorf("pipeline invoked %d times, want 2", fp.calls)
	}

	var stored, exists int
	for _, err := range results.errs {
		switch {
		case err == nil:
			stored++
		case errors.Is(err, fxcache.ErrAlreadyExists):
			exists++
		default:
			t.Errorf("unexpected persist error %v", err)
		}
	}
	if stored != 1 || exists != 1 {
		t.Errorf("got %d stored and %d already-exists, want 1 and 1", stored, exists)
	}

	rc, err := s.Get(ctx, origin.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, rc); !bytes.Equal(got, fp.data) {
		t.Error("stored blob is wrong")
	}
}

type brokenStore struct {
	*mem.Store
}

var errBroken = errors.New("disk on fire")

func (brokenStore) Get(context.Context, fxcache.Key) (io.ReadCloser, error) {
	return nil, errBroken
}

func TestStoreFailure(t *testing.T) {
	fp := &fakePipeline{data: []byte("x")}
	p := New(brokenStore{Store: mem.New()}, fp)

	_, err := p.Create(context.Background(), origin)
	var cerr *fxcache.CacheError
	if !errors.As(err, &cerr) {
		t.Fatalf("got error %v, want a CacheError", err)
	}
	if !errors.Is(err, errBroken) {
		t.Errorf("got error %v, want it to wrap %v", err, errBroken)
	}
	if fp.calls != 0 {
		t.Errorf("pipeline invoked %d times, want 0", fp.calls)
	}
}

func TestPipelineFailure(t *testing.T) {
	launch := &fxcache.LaunchError{Stage: fxcache.TranscodeStage, Err: errors.New("no such file")}
	p := New(mem.New(), &fakePipeline{err: launch})

	_, err := p.Create(context.Background(), origin)
	var cerr *fxcache.CreateError
	if !errors.As(err, &cerr) {
		t.Fatalf("got error %v, want a CreateError", err)
	}
	var lerr *fxcache.LaunchError
	if !errors.As(err, &lerr) {
		t.Fatalf("got error %v, want a LaunchError inside", err)
	}
	if lerr.Stage != fxcache.TranscodeStage {
		t.Errorf("got stage %s, want %s", lerr.Stage, fxcache.TranscodeStage)
	}
}

func TestMidStreamFailure(t *testing.T) {
	var (
		ctx     = context.Background()
		s       = mem.New()
		boom    = errors.New("boom")
		results persistResults
		p       = New(s, &fakePipeline{data: []byte("partial"), fail: boom}, OnPersist(results.record))
	)

	rc, err := p.Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	_, err = io.ReadAll(rc)
	rc.Close()
	if !errors.Is(err, boom) {
		t.Errorf("got read error %v, want %v", err, boom)
	}
	p.Wait()

	if len(results.errs) != 1 || !errors.Is(results.errs[0], boom) {
		t.Errorf("got persist results %v, want one wrapping %v", results.errs, boom)
	}
	if _, err = s.Get(ctx, origin.Key()); !errors.Is(err, fxcache.ErrNotFound) {
		t.Errorf("got %v, want nothing stored", err)
	}
}

func TestAbandon(t *testing.T) {
	var (
		ctx     = context.Background()
		s       = mem.New()
		results persistResults
		p       = New(s, &fakePipeline{data: bytes.Repeat([]byte("x"), 100)}, OnPersist(results.record))
	)

	rc, err := p.Create(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	if _, err = rc.Read(buf); err != nil {
		t.Fatal(err)
	}
	if err = rc.Close(); err != nil {
		t.Fatal(err)
	}
	p.Wait()

	if len(results.errs) != 1 || !errors.Is(results.errs[0], tee.ErrAbandoned) {
		t.Errorf("got persist results %v, want one wrapping %v", results.errs, tee.ErrAbandoned)
	}
	if _, err = s.Get(ctx, origin.Key()); !errors.Is(err, fxcache.ErrNotFound) {
		t.Errorf("got %v, want nothing stored", err)
	}
}
