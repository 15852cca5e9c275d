package draft

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/fxcache"
)

// Controller previews, confirms, and plays back sound effects.
type Controller struct {
	p      fxcache.Pipeline
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the Controller's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock sets the function the Controller uses to timestamp drafts.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController produces a Controller
// getting clip bytes from p (normally a cached pipeline)
// and keeping metadata in repo.
func NewController(p fxcache.Pipeline, repo Repository, opts ...Option) *Controller {
	c := &Controller{
		p:      p,
		repo:   repo,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preview is a draft together with its clip.
type Preview struct {
	ID     string
	Record Record
	Media  []byte
}

// Clip is a confirmed record together with its clip.
type Clip struct {
	Record Record
	Media  []byte
}

// Preview produces the clip for rec and saves rec as a draft.
// The returned ID is for a later Confirm or Cancel.
func (c *Controller) Preview(ctx context.Context, rec Record) (*Preview, error) {
	media, err := c.media(ctx, rec.Media)
	if err != nil {
		return nil, err
	}
	if rec.DraftedAt.IsZero() {
		rec.DraftedAt = c.now()
	}
	id, err := c.repo.AddDraft(ctx, rec)
	if err != nil {
		return nil, errors.Wrap(err, "saving draft")
	}
	c.logger.Info().Str("draft", id).Str("name", rec.Name).Stringer("origin", rec.Media).Int("bytes", len(media)).Msg("previewed")
	return &Preview{ID: id, Record: rec, Media: media}, nil
}

// Confirm makes the draft with the given ID permanent and discards the draft.
// If the guild already has a record with that name,
// the result is ErrAlreadyExists and the draft is kept.
func (c *Controller) Confirm(ctx context.Context, id string) (Record, error) {
	rec, err := c.repo.GetDraft(ctx, id)
	if err != nil {
		return Record{}, errors.Wrapf(err, "getting draft %s", id)
	}
	if err = c.repo.Add(ctx, rec); err != nil {
		return Record{}, errors.Wrapf(err, "adding %s", rec.Name)
	}
	if err = c.repo.DeleteDraft(ctx, id); err != nil {
		return Record{}, errors.Wrapf(err, "deleting draft %s", id)
	}
	c.logger.Info().Str("draft", id).Str("name", rec.Name).Str("guild", rec.Guild).Msg("confirmed")
	return rec, nil
}

// Cancel discards the draft with the given ID.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	if err := c.repo.DeleteDraft(ctx, id); err != nil {
		return errors.Wrapf(err, "deleting draft %s", id)
	}
	c.logger.Info().Str("draft", id).Msg("canceled")
	return nil
}

// Get looks up the confirmed record with the given guild and name
// and produces its clip.
func (c *Controller) Get(ctx context.Context, guild, name string) (*Clip, error) {
	rec, err := c.repo.Get(ctx, guild, name)
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s", name)
	}
	media, err := c.media(ctx, rec.Media)
	if err != nil {
		return nil, err
	}
	return &Clip{Record: rec, Media: media}, nil
}

func (c *Controller) media(ctx context.Context, origin fxcache.MediaOrigin) ([]byte, error) {
	rc, err := c.p.Create(ctx, origin)
	if err != nil {
		return nil, errors.Wrapf(err, "producing %s", origin)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	return b, errors.Wrapf(err, "reading %s", origin)
}
