// Package server exposes a Pipeline over HTTP.
//
//	GET /clips?locator=L&start=S&length=N   the clip's bytes
//	GET /keys?locator=L&start=S&length=N    the clip's cache key, in hex
//	GET /metrics                            Prometheus metrics
//	GET /healthz                            liveness
//
// Start and length are whole seconds or Go durations ("1m30s").
package server

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bobg/fxcache"
)

// DefaultLength is the clip length when a request does not give one.
const DefaultLength = 5 * time.Second

type server struct {
	p      fxcache.Pipeline
	logger zerolog.Logger

	limit  int
	window time.Duration
}

// Option configures the handler produced by New.
type Option func(*server)

// WithLogger sets the logger for requests and streaming failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *server) {
		s.logger = logger
	}
}

// WithRateLimit limits each client IP to n clip requests per window.
// Zero n means no limit.
func WithRateLimit(n int, window time.Duration) Option {
	return func(s *server) {
		s.limit = n
		s.window = window
	}
}

// New produces an http.Handler serving clips from p.
func New(p fxcache.Pipeline, opts ...Option) http.Handler {
	s := &server{
		p:      p,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok\n")
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/keys", s.handleKey)

	r.Group(func(r chi.Router) {
		if s.limit > 0 {
			r.Use(httprate.LimitByIP(s.limit, s.window))
		}
		r.Get("/clips", s.handleClip)
	})

	return r
}

func (s *server) handleClip(w http.ResponseWriter, req *http.Request) {
	origin, err := parseOrigin(req.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rc, err := s.p.Create(req.Context(), origin)
	if err != nil {
		var (
			cerr *fxcache.CacheError
			lerr *fxcache.LaunchError
			code = http.StatusInternalServerError
		)
		switch {
		case errors.As(err, &cerr):
			code = http.StatusServiceUnavailable
		case errors.As(err, &lerr):
			code = http.StatusBadGateway
		}
		s.logger.Error().Err(err).Stringer("origin", origin).Msg("creating clip")
		http.Error(w, http.StatusText(code), code)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("X-Fx-Key", origin.Key().String())
	if _, err = io.Copy(w, rc); err != nil {
		// Too late for a status code.
		s.logger.Warn().Err(err).Stringer("origin", origin).Msg("streaming clip")
	}
}

func (s *server) handleKey(w http.ResponseWriter, req *http.Request) {
	origin, err := parseOrigin(req.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, origin.Key().String()+"\n")
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var (
			start = time.Now()
			ww    = middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		)
		next.ServeHTTP(ww, req)
		s.logger.Info().
			Str("request_id", middleware.GetReqID(req.Context())).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func parseOrigin(q url.Values) (fxcache.MediaOrigin, error) {
	locator := q.Get("locator")
	if locator == "" {
		return fxcache.MediaOrigin{}, errors.New("missing locator")
	}
	start, err := parseDuration(q.Get("start"), 0)
	if err != nil {
		return fxcache.MediaOrigin{}, errors.Wrap(err, "parsing start")
	}
	length, err := parseDuration(q.Get("length"), DefaultLength)
	if err != nil {
		return fxcache.MediaOrigin{}, errors.Wrap(err, "parsing length")
	}
	if start < 0 || length < 0 {
		return fxcache.MediaOrigin{}, errors.New("negative time")
	}
	return fxcache.MediaOrigin{Locator: locator, Start: start, Length: length}, nil
}

func parseDuration(s string, dflt time.Duration) (time.Duration, error) {
	if s == "" {
		return dflt, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
