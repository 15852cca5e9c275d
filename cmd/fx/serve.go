package main

import (
	"context"
	"net/http"
	"time"

	"github.com/bobg/fxcache/server"
)

func (c maincmd) serve(_ context.Context, addr string, limit int, _ []string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(c.p, server.WithLogger(c.logger), server.WithRateLimit(limit, time.Minute)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.logger.Info().Str("addr", addr).Msg("listening")
	return srv.ListenAndServe()
}
