// Command fx produces, caches, and saves sound-effect clips.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"time"

	"github.com/bobg/subcmd"
	"github.com/rs/zerolog"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/cached"
	"github.com/bobg/fxcache/ytdl"

	_ "github.com/bobg/fxcache/store/badger"
	_ "github.com/bobg/fxcache/store/compress"
	_ "github.com/bobg/fxcache/store/file"
	_ "github.com/bobg/fxcache/store/gcs"
	_ "github.com/bobg/fxcache/store/logging"
	_ "github.com/bobg/fxcache/store/lru"
	_ "github.com/bobg/fxcache/store/mem"
	_ "github.com/bobg/fxcache/store/pg"
	_ "github.com/bobg/fxcache/store/redis"
	_ "github.com/bobg/fxcache/store/replica"
	_ "github.com/bobg/fxcache/store/sqlite3"
)

type maincmd struct {
	conf   *config
	s      fxcache.Store
	p      *cached.Pipeline
	logger zerolog.Logger
	stdout io.Writer
}

func main() {
	var (
		configFile = flag.String("config", "fxconf.json", "path to config file")
		verbose    = flag.Bool("v", false, "log debug output")
		jsonLog    = flag.Bool("json", false, "log JSON instead of console text")
	)
	flag.Parse()

	logger := newLogger(*jsonLog)

	if *configFile == "" {
		logger.Fatal().Msg("config value not set")
	}

	conf, err := readConfig(*configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("reading config")
	}

	level, err := conf.level(*verbose)
	if err != nil {
		logger.Fatal().Err(err).Msg("parsing log level")
	}
	logger = logger.Level(level)

	// Stores built from config (such as the logging decorator) log through this.
	ctx := logger.WithContext(context.Background())

	s, err := conf.store(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("creating store")
	}

	c := maincmd{
		conf:   conf,
		s:      s,
		p:      cached.New(s, ytdl.New(conf.Pipeline), cached.WithLogger(logger)),
		logger: logger,
		stdout: os.Stdout,
	}

	err = subcmd.Run(ctx, c, flag.Args())
	// Let background cache writes finish before exiting.
	c.p.Wait()
	if err != nil {
		logger.Fatal().Err(err).Msg("fx")
	}
}

func newLogger(asJSON bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if asJSON {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"cancel", c.cancel, nil,
		"confirm", c.confirm, nil,
		"create", c.create, subcmd.Params(
			"o", subcmd.String, "-", "output file (- for stdout)",
			"start", subcmd.Duration, time.Duration(0), "start of the clip within the source",
			"length", subcmd.Duration, defaultLength, "length of the clip",
		),
		"get", c.get, subcmd.Params(
			"o", subcmd.String, "-", "output file (- for stdout)",
		),
		"key", c.key, subcmd.Params(
			"start", subcmd.Duration, time.Duration(0), "start of the clip within the source",
			"length", subcmd.Duration, defaultLength, "length of the clip",
		),
		"list-keys", c.listKeys, subcmd.Params(
			"start", subcmd.String, "", "start after this key",
		),
		"play", c.play, subcmd.Params(
			"guild", subcmd.String, "", "guild the sound effect belongs to",
			"o", subcmd.String, "-", "output file (- for stdout)",
		),
		"preview", c.preview, subcmd.Params(
			"name", subcmd.String, "", "name of the sound effect",
			"desc", subcmd.String, "", "description of the sound effect",
			"author", subcmd.String, "", "who made it",
			"guild", subcmd.String, "", "guild the sound effect belongs to",
			"o", subcmd.String, "fxout.mp3", "output file for the clip (- for stdout)",
			"start", subcmd.Duration, time.Duration(0), "start of the clip within the source",
			"length", subcmd.Duration, defaultLength, "length of the clip",
		),
		"serve", c.serve, subcmd.Params(
			"addr", subcmd.String, ":8080", "listen address",
			"limit", subcmd.Int, 30, "clip requests per minute per client IP (0 for no limit)",
		),
		"sync", c.sync, nil,
	)
}
