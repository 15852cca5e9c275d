package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

func (c maincmd) get(ctx context.Context, out string, args []string) error {
	if len(args) == 0 {
		return errors.New("missing key")
	}
	key, err := fxcache.KeyFromHex(args[0])
	if err != nil {
		return errors.Wrapf(err, "decoding key %s", args[0])
	}

	rc, err := c.s.Get(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "getting blob %s", key)
	}
	defer rc.Close()

	_, err = writeOutput(out, rc)
	return err
}

func (c maincmd) listKeys(ctx context.Context, start string, _ []string) error {
	var startKey fxcache.Key
	if start != "" {
		var err error
		startKey, err = fxcache.KeyFromHex(start)
		if err != nil {
			return errors.Wrap(err, "parsing start key")
		}
	}

	return c.s.ListKeys(ctx, startKey, func(key fxcache.Key) error {
		fmt.Fprintln(c.stdout, key)
		return nil
	})
}

func (c maincmd) sync(ctx context.Context, args []string) error {
	stores := []fxcache.Store{c.s}
	for _, arg := range args {
		s, err := storeFromConfig(ctx, arg)
		if err != nil {
			return errors.Wrapf(err, "reading %s", arg)
		}
		stores = append(stores, s)
	}
	if len(stores) < 2 {
		return errors.New("nothing to sync with; name at least one other store config file")
	}

	return store.Sync(ctx, stores)
}
