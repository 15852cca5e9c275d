// Package cached implements a Pipeline that remembers what it produced.
//
// The first request for a clip runs the underlying pipeline
// and streams its output straight back to the caller,
// while a background goroutine copies the same bytes into a store.
// Later requests for the same clip are served from the store.
package cached

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/tee"
)

var _ fxcache.Pipeline = &Pipeline{}

// Pipeline is a caching wrapper around another fxcache.Pipeline.
type Pipeline struct {
	s         fxcache.Store
	p         fxcache.Pipeline
	logger    zerolog.Logger
	onPersist func(fxcache.Key, error)

	wg sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for background persistence.
// The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// OnPersist registers a function to call when a background write finishes.
// It receives the clip's key and the result of the store's Put:
// nil, fxcache.ErrAlreadyExists, or some other failure.
func OnPersist(f func(fxcache.Key, error)) Option {
	return func(p *Pipeline) {
		p.onPersist = f
	}
}

// New produces a Pipeline that serves clips from s when it can
// and from p otherwise.
func New(s fxcache.Store, p fxcache.Pipeline, opts ...Option) *Pipeline {
	result := &Pipeline{
		s:      s,
		p:      p,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

// Create produces the bytes of the clip described by origin.
//
// On a cache hit the stored blob is returned.
// On a miss the underlying pipeline runs,
// and its output is returned while being copied into the store in the background.
// The copy only advances as the caller reads,
// and is discarded if the caller closes the stream before the end
// or the pipeline fails partway through.
//
// A store failure other than a miss is returned as a *fxcache.CacheError;
// a failure to start the pipeline is returned as a *fxcache.CreateError.
func (p *Pipeline) Create(ctx context.Context, origin fxcache.MediaOrigin) (io.ReadCloser, error) {
	key := origin.Key()

	rc, err := p.s.Get(ctx, key)
	if err == nil {
		lookups.WithLabelValues("hit").Inc()
		return rc, nil
	}
	if !errors.Is(err, fxcache.ErrNotFound) {
		lookups.WithLabelValues("error").Inc()
		return nil, &fxcache.CacheError{Err: err}
	}
	lookups.WithLabelValues("miss").Inc()

	src, err := p.p.Create(ctx, origin)
	if err != nil {
		return nil, &fxcache.CreateError{Err: err}
	}

	reg := tee.New(src)
	tap := reg.Tap()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer tap.Close()
		p.persist(context.WithoutCancel(ctx), key, origin, tap)
	}()

	return reg, nil
}

func (p *Pipeline) persist(ctx context.Context, key fxcache.Key, origin fxcache.MediaOrigin, r io.Reader) {
	err := p.s.Put(ctx, key, r)

	logger := p.logger.With().Stringer("key", key).Stringer("origin", origin).Logger()
	switch {
	case err == nil:
		persists.WithLabelValues("stored").Inc()
		logger.Debug().Msg("stored clip")
	case errors.Is(err, fxcache.ErrAlreadyExists):
		persists.WithLabelValues("exists").Inc()
		logger.Info().Msg("clip already stored")
	case errors.Is(err, tee.ErrAbandoned):
		persists.WithLabelValues("aborted").Inc()
		logger.Debug().Msg("clip abandoned before the end, not stored")
	default:
		persists.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("storing clip")
	}

	if p.onPersist != nil {
		p.onPersist(key, err)
	}
}

// Wait blocks until all background writes started so far have finished.
// A write finishes only when its stream has been read to the end or closed.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
