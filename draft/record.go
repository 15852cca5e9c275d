// Package draft turns clips into named, saved sound effects in two steps:
// a preview that produces the clip's bytes and holds its metadata as a draft,
// and a confirmation that makes the draft permanent.
package draft

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
)

// Limits on a clip's time window.
const (
	DefaultLength = 5 * time.Second
	MinLength     = time.Second
	MaxLength     = 20 * time.Second
)

var (
	// ErrNotFound is the error when no draft or record matches.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is the error when a guild already has a record of the same name.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalid is wrapped by errors from NewRecord.
	ErrInvalid = errors.New("invalid record")
)

// Record is the metadata of a saved sound effect.
type Record struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Author      string              `json:"author,omitempty"`
	Guild       string              `json:"guild,omitempty"`
	DraftedAt   time.Time           `json:"drafted_at"`
	Media       fxcache.MediaOrigin `json:"media"`
}

// NewRecord produces a Record for the given clip.
// A zero length means DefaultLength.
// The name, description, and locator must be non-empty,
// the start must not be negative,
// and the length must be between MinLength and MaxLength.
// Author, Guild, and DraftedAt are left for the caller.
func NewRecord(name, description, locator string, start, length time.Duration) (Record, error) {
	switch {
	case name == "":
		return Record{}, errors.Wrap(ErrInvalid, "name is required")
	case description == "":
		return Record{}, errors.Wrap(ErrInvalid, "description is required")
	case locator == "":
		return Record{}, errors.Wrap(ErrInvalid, "media locator is required")
	case start < 0:
		return Record{}, errors.Wrapf(ErrInvalid, "negative start %s", start)
	}
	if length == 0 {
		length = DefaultLength
	}
	if length < MinLength || length > MaxLength {
		return Record{}, errors.Wrapf(ErrInvalid, "length %s not between %s and %s", length, MinLength, MaxLength)
	}
	return Record{
		Name:        name,
		Description: description,
		Media: fxcache.MediaOrigin{
			Locator: locator,
			Start:   start,
			Length:  length,
		},
	}, nil
}

// Repository holds drafts, keyed by an opaque ID,
// and confirmed records, keyed by guild and name.
type Repository interface {
	// AddDraft saves a draft and returns its new ID.
	AddDraft(context.Context, Record) (string, error)

	// GetDraft returns the draft with the given ID, or ErrNotFound.
	GetDraft(ctx context.Context, id string) (Record, error)

	// DeleteDraft removes the draft with the given ID, or returns ErrNotFound.
	DeleteDraft(ctx context.Context, id string) error

	// Add saves a confirmed record.
	// It returns ErrAlreadyExists if the record's guild already has one by that name.
	Add(context.Context, Record) error

	// Get returns the confirmed record with the given guild and name, or ErrNotFound.
	Get(ctx context.Context, guild, name string) (Record, error)
}
