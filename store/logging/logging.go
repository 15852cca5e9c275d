// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

type Store struct {
	s      fxcache.Store
	logger zerolog.Logger
}

func New(s fxcache.Store, logger zerolog.Logger) *Store {
	return &Store{s: s, logger: logger.With().Str("component", "store").Logger()}
}

func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	rc, err := s.s.Get(ctx, key)
	switch {
	case errors.Is(err, fxcache.ErrNotFound):
		s.logger.Debug().Stringer("key", key).Msg("get: not found")
	case err != nil:
		s.logger.Error().Err(err).Stringer("key", key).Msg("get")
	default:
		s.logger.Debug().Stringer("key", key).Msg("get")
	}
	return rc, err
}

func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	s.logger.Debug().Stringer("start", start).Msg("list keys")
	return s.s.ListKeys(ctx, start, func(key fxcache.Key) error {
		err := f(key)
		if err != nil {
			s.logger.Error().Err(err).Stringer("key", key).Msg("list keys callback")
		} else {
			s.logger.Trace().Stringer("key", key).Msg("list keys")
		}
		return err
	})
}

func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	cr := &countingReader{r: r}
	err := s.s.Put(ctx, key, cr)
	switch {
	case errors.Is(err, fxcache.ErrAlreadyExists):
		s.logger.Info().Stringer("key", key).Msg("put: already exists")
	case err != nil:
		s.logger.Error().Err(err).Stringer("key", key).Int64("bytes_read", cr.n).Msg("put")
	default:
		s.logger.Debug().Stringer("key", key).Int64("bytes", cr.n).Msg("put")
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		// The caller's logger, if ctx carries one (see zerolog.Logger.WithContext).
		logger := *zerolog.Ctx(ctx)
		if logger.GetLevel() == zerolog.Disabled {
			logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
		if lvl, ok := conf["level"].(string); ok {
			level, err := zerolog.ParseLevel(lvl)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing level %s", lvl)
			}
			logger = logger.Level(level)
		}
		return New(nested, logger), nil
	})
}
