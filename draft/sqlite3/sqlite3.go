// Package sqlite3 implements a draft.Repository in a SQLite database.
package sqlite3

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	sqlite "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/draft"
)

var _ draft.Repository = &Repo{}

// Repo is a SQLite-based draft.Repository.
type Repo struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// Drafts and confirmed records have the same columns;
// records are unique by guild and name.
const Schema = `
CREATE TABLE IF NOT EXISTS drafts (
  id TEXT PRIMARY KEY NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL,
  author TEXT NOT NULL,
  guild TEXT NOT NULL,
  drafted_at INTEGER NOT NULL,
  locator TEXT NOT NULL,
  start_ns INTEGER NOT NULL,
  length_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
  name TEXT NOT NULL,
  description TEXT NOT NULL,
  author TEXT NOT NULL,
  guild TEXT NOT NULL,
  drafted_at INTEGER NOT NULL,
  locator TEXT NOT NULL,
  start_ns INTEGER NOT NULL,
  length_ns INTEGER NOT NULL,
  PRIMARY KEY (guild, name)
);
`

const columns = `name, description, author, guild, drafted_at, locator, start_ns, length_ns`

// New produces a new Repo using `db` for storage,
// creating its tables if they do not exist.
func New(ctx context.Context, db *sql.DB) (*Repo, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Repo{db: db}, errors.Wrap(err, "creating schema")
}

// Open opens the SQLite database at conn and produces a Repo in it.
func Open(ctx context.Context, conn string) (*Repo, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	return New(ctx, db)
}

// Close closes the underlying database.
func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) AddDraft(ctx context.Context, rec draft.Record) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO drafts (id, ` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q, append([]interface{}{id}, values(rec)...)...)
	return id, errors.Wrap(err, "inserting draft")
}

func (r *Repo) GetDraft(ctx context.Context, id string) (draft.Record, error) {
	const q = `SELECT ` + columns + ` FROM drafts WHERE id = $1`
	return scan(r.db.QueryRowContext(ctx, q, id))
}

func (r *Repo) DeleteDraft(ctx context.Context, id string) error {
	const q = `DELETE FROM drafts WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return errors.Wrap(err, "deleting draft")
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return draft.ErrNotFound
	}
	return nil
}

func (r *Repo) Add(ctx context.Context, rec draft.Record) error {
	const q = `INSERT INTO records (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, q, values(rec)...)
	var sqliteErr sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite.ErrConstraintPrimaryKey {
		return draft.ErrAlreadyExists
	}
	return errors.Wrap(err, "inserting record")
}

func (r *Repo) Get(ctx context.Context, guild, name string) (draft.Record, error) {
	const q = `SELECT ` + columns + ` FROM records WHERE guild = $1 AND name = $2`
	return scan(r.db.QueryRowContext(ctx, q, guild, name))
}

func values(rec draft.Record) []interface{} {
	return []interface{}{
		rec.Name,
		rec.Description,
		rec.Author,
		rec.Guild,
		rec.DraftedAt.Unix(),
		rec.Media.Locator,
		int64(rec.Media.Start),
		int64(rec.Media.Length),
	}
}

func scan(row *sql.Row) (draft.Record, error) {
	var (
		rec                      draft.Record
		draftedAt, start, length int64
	)
	err := row.Scan(&rec.Name, &rec.Description, &rec.Author, &rec.Guild, &draftedAt, &rec.Media.Locator, &start, &length)
	if errors.Is(err, sql.ErrNoRows) {
		return draft.Record{}, draft.ErrNotFound
	}
	if err != nil {
		return draft.Record{}, errors.Wrap(err, "scanning row")
	}
	rec.DraftedAt = time.Unix(draftedAt, 0).UTC()
	rec.Media = fxcache.MediaOrigin{
		Locator: rec.Media.Locator,
		Start:   time.Duration(start),
		Length:  time.Duration(length),
	}
	return rec, nil
}
