package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
)

const defaultLength = 5 * time.Second

func originFromArgs(start, length time.Duration, args []string) (fxcache.MediaOrigin, error) {
	if len(args) == 0 {
		return fxcache.MediaOrigin{}, errors.New("missing locator")
	}
	if start < 0 || length < 0 {
		return fxcache.MediaOrigin{}, errors.New("negative time")
	}
	return fxcache.MediaOrigin{Locator: args[0], Start: start, Length: length}, nil
}

func (c maincmd) create(ctx context.Context, out string, start, length time.Duration, args []string) error {
	origin, err := originFromArgs(start, length, args)
	if err != nil {
		return err
	}

	rc, err := c.p.Create(ctx, origin)
	if err != nil {
		return errors.Wrapf(err, "creating %s", origin)
	}
	defer rc.Close()

	t0 := time.Now()
	n, err := writeOutput(out, rc)
	if err != nil {
		return err
	}
	c.logger.Info().
		Stringer("origin", origin).
		Str("size", humanize.Bytes(uint64(n))).
		Dur("elapsed", time.Since(t0)).
		Msg("wrote clip")
	return nil
}

func (c maincmd) key(_ context.Context, start, length time.Duration, args []string) error {
	origin, err := originFromArgs(start, length, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, origin.Key())
	return nil
}

func writeOutput(filename string, r io.Reader) (int64, error) {
	if filename == "-" {
		n, err := io.Copy(os.Stdout, r)
		return n, errors.Wrap(err, "writing to stdout")
	}

	f, err := os.Create(filename)
	if err != nil {
		return 0, errors.Wrapf(err, "creating %s", filename)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return n, errors.Wrapf(err, "writing %s", filename)
	}
	return n, f.Close()
}
