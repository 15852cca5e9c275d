// Package store holds a registry of Store implementations,
// selected by name at runtime from configuration,
// and helpers that operate across stores.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
)

// Factory creates a Store from a configuration map.
type Factory func(context.Context, map[string]interface{}) (fxcache.Store, error)

var registry = make(map[string]Factory)

// Register makes a Factory available to Create under the given key.
// Store implementations call it from their init functions.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces a Store of the registered type named by key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (fxcache.Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Nested creates the store described by conf["nested"].
// It is for decorator stores that wrap another one.
func Nested(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	s, err := Create(ctx, nestedType, nested)
	return s, errors.Wrap(err, "creating nested store")
}

// IntParam extracts an integer from a configuration map.
// It accepts plain ints (configs built in code)
// as well as the float64 and json.Number values produced by JSON decoding.
func IntParam(conf map[string]interface{}, name string) (int, bool) {
	switch v := conf[name].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}
