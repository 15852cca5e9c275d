// Package sqlite3 implements a blob store in a SQLite database.
package sqlite3

import (
	"bytes"
	"context"
	"database/sql"
	stderrs "errors"
	"io"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = &Store{}

// Store is a Sqlite-based blob store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  clip_key BLOB PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);
`

// New produces a new Store using `db` for storage.
// It expects to create table `blobs`,
// or for that table already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// Get gets the blob stored under `key`.
func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	const q = `SELECT data FROM blobs WHERE clip_key = $1`

	var b []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&b)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, fxcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting blob %s", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Put reads all of r and inserts it under `key`.
// The single INSERT is what makes it atomic.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading blob")
	}
	if b == nil {
		b = []byte{}
	}

	const q = `INSERT INTO blobs (clip_key, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, q, key, b)
	if err != nil {
		return errors.Wrap(err, "inserting blob")
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return fxcache.ErrAlreadyExists
	}
	return nil
}

// ListKeys produces all keys in the store, in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	const q = `SELECT clip_key FROM blobs WHERE clip_key > $1 ORDER BY clip_key`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, func(key fxcache.Key) error {
		return f(key)
	})
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
