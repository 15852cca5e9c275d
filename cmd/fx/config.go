package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
	"github.com/bobg/fxcache/ytdl"
)

type config struct {
	LogLevel string                 `json:"log_level" yaml:"log_level"`
	Store    map[string]interface{} `json:"store" yaml:"store"`
	Pipeline ytdl.Config            `json:"pipeline" yaml:"pipeline"`
	Drafts   struct {
		Conn string `json:"conn" yaml:"conn"`
	} `json:"drafts" yaml:"drafts"`
}

// Environment variables override the config file.
type envOverrides struct {
	LogLevel   string `env:"FX_LOG_LEVEL"`
	DraftsConn string `env:"FX_DRAFTS_CONN"`
}

const defaultDraftsConn = "fxdrafts.db"

func readConfig(filename string) (*config, error) {
	var conf config
	if err := decodeFile(filename, &conf); err != nil {
		return nil, err
	}
	if conf.Store == nil {
		return nil, errors.Errorf("config file %s missing `store` object", filename)
	}

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	if o.LogLevel != "" {
		conf.LogLevel = o.LogLevel
	}
	if o.DraftsConn != "" {
		conf.Drafts.Conn = o.DraftsConn
	}
	if conf.Drafts.Conn == "" {
		conf.Drafts.Conn = defaultDraftsConn
	}
	return &conf, nil
}

// Decodes YAML (by file extension) or JSON, which may contain comments.
func decodeFile(filename string, v interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "reading config file %s", filename)
	}

	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)

	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		err = dec.Decode(v)
	}
	return errors.Wrapf(err, "decoding config file %s", filename)
}

func (conf *config) store(ctx context.Context) (fxcache.Store, error) {
	return storeFromMap(ctx, conf.Store)
}

func (conf *config) level(verbose bool) (zerolog.Level, error) {
	if verbose {
		return zerolog.DebugLevel, nil
	}
	if conf.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(conf.LogLevel)
}

func storeFromMap(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New("store config missing `type` parameter")
	}
	s, err := store.Create(ctx, typ, conf)
	return s, errors.Wrapf(err, "creating %s-type store", typ)
}

// Reads a config file for sync.
// It may be a full config or just a store object.
func storeFromConfig(ctx context.Context, filename string) (fxcache.Store, error) {
	var conf map[string]interface{}
	if err := decodeFile(filename, &conf); err != nil {
		return nil, err
	}
	if nested, ok := conf["store"].(map[string]interface{}); ok {
		conf = nested
	}
	return storeFromMap(ctx, conf)
}
