package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache/draft"
	"github.com/bobg/fxcache/draft/sqlite3"
)

func (c maincmd) controller(ctx context.Context) (*draft.Controller, func() error, error) {
	repo, err := sqlite3.Open(ctx, c.conf.Drafts.Conn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening drafts db %s", c.conf.Drafts.Conn)
	}
	return draft.NewController(c.p, repo, draft.WithLogger(c.logger)), repo.Close, nil
}

func (c maincmd) preview(ctx context.Context, name, desc, author, guild, out string, start, length time.Duration, args []string) error {
	if len(args) == 0 {
		return errors.New("missing locator")
	}
	rec, err := draft.NewRecord(name, desc, args[0], start, length)
	if err != nil {
		return err
	}
	rec.Author = author
	rec.Guild = guild

	ctrl, done, err := c.controller(ctx)
	if err != nil {
		return err
	}
	defer done()

	preview, err := ctrl.Preview(ctx, rec)
	if err != nil {
		return errors.Wrap(err, "previewing")
	}
	if _, err = writeOutput(out, bytes.NewReader(preview.Media)); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, preview.ID)
	return nil
}

func draftID(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("missing draft id")
	}
	return args[0], nil
}

func (c maincmd) confirm(ctx context.Context, args []string) error {
	id, err := draftID(args)
	if err != nil {
		return err
	}

	ctrl, done, err := c.controller(ctx)
	if err != nil {
		return err
	}
	defer done()

	rec, err := ctrl.Confirm(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s: %s\n", rec.Name, rec.Description)
	return nil
}

func (c maincmd) cancel(ctx context.Context, args []string) error {
	id, err := draftID(args)
	if err != nil {
		return err
	}

	ctrl, done, err := c.controller(ctx)
	if err != nil {
		return err
	}
	defer done()

	return ctrl.Cancel(ctx, id)
}

func (c maincmd) play(ctx context.Context, guild, out string, args []string) error {
	if len(args) == 0 {
		return errors.New("missing name")
	}

	ctrl, done, err := c.controller(ctx)
	if err != nil {
		return err
	}
	defer done()

	clip, err := ctrl.Get(ctx, guild, args[0])
	if err != nil {
		return err
	}
	_, err = writeOutput(out, bytes.NewReader(clip.Media))
	return err
}
