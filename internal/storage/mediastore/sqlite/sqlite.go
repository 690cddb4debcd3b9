// Package sqlite provides a SQLite-backed implementation of the
// mediastore.Index port.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/storage/mediastore"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ mediastore.Index = (*Index)(nil)

// Index implements mediastore.Index using SQLite (via database/sql). It is
// safe for concurrent use; database/sql manages connection pooling and
// serialization.
type Index struct{ db *sql.DB }

// New constructs an Index, initializing the required schema if absent.
func New(db *sql.DB) (*Index, error) {
	ix := &Index{db: db}
	if err := ix.init(); err != nil {
		return nil, err
	}
	return ix, nil
}

func (i *Index) init() error {
	schema := `CREATE TABLE IF NOT EXISTS media (
id INTEGER PRIMARY KEY AUTOINCREMENT,
collection TEXT NOT NULL,
display_name TEXT NOT NULL,
relative_path TEXT NOT NULL,
mime_type TEXT NOT NULL,
blob TEXT NOT NULL,
size INTEGER NOT NULL,
created_at INTEGER NOT NULL,
updated_at INTEGER NOT NULL,
UNIQUE (collection, relative_path, display_name)
);`
	_, err := i.db.Exec(schema)
	return err
}

const columns = `id, collection, display_name, relative_path, mime_type, blob, size, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanEntry(row scanner) (mediastore.Entry, error) {
	var (
		e                mediastore.Entry
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.Collection, &e.DisplayName, &e.RelativePath, &e.MimeType, &e.Blob, &e.Size, &created, &updated); err != nil {
		return mediastore.Entry{}, err
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.UpdatedAt = time.Unix(updated, 0).UTC()
	return e, nil
}

func missing(err error, coll, rel, name string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s in %s", domain.ErrNotFound, rel, name, coll)
	}
	return err
}

// Lookup returns the entry for name under coll and rel.
func (i *Index) Lookup(ctx context.Context, coll, rel, name string) (mediastore.Entry, error) {
	q := `SELECT ` + columns + ` FROM media WHERE collection=? AND relative_path=? AND display_name=?`
	e, err := scanEntry(i.db.QueryRowContext(ctx, q, coll, rel, name))
	if err != nil {
		return mediastore.Entry{}, missing(err, coll, rel, name)
	}
	return e, nil
}

// Put inserts e or repoints the existing entry at e.Blob in one transaction.
func (i *Index) Put(ctx context.Context, e mediastore.Entry) (id int64, replaced string, err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const sel = `SELECT id, blob FROM media WHERE collection=? AND relative_path=? AND display_name=?`
	err = tx.QueryRowContext(ctx, sel, e.Collection, e.RelativePath, e.DisplayName).Scan(&id, &replaced)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		const ins = `INSERT INTO media (collection, display_name, relative_path, mime_type, blob, size, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?) RETURNING id`
		err = tx.QueryRowContext(ctx, ins, e.Collection, e.DisplayName, e.RelativePath, e.MimeType, e.Blob, e.Size, e.CreatedAt.Unix(), e.UpdatedAt.Unix()).Scan(&id)
		if err != nil {
			return 0, "", err
		}
		replaced = ""
	case err != nil:
		return 0, "", err
	default:
		const upd = `UPDATE media SET mime_type=?, blob=?, size=?, updated_at=? WHERE id=?`
		if _, err = tx.ExecContext(ctx, upd, e.MimeType, e.Blob, e.Size, e.UpdatedAt.Unix(), id); err != nil {
			return 0, "", err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, "", err
	}
	return id, replaced, nil
}

// Remove hard-deletes the entry and returns it.
func (i *Index) Remove(ctx context.Context, coll, rel, name string) (mediastore.Entry, error) {
	q := `DELETE FROM media WHERE collection=? AND relative_path=? AND display_name=? RETURNING ` + columns
	e, err := scanEntry(i.db.QueryRowContext(ctx, q, coll, rel, name))
	if err != nil {
		return mediastore.Entry{}, missing(err, coll, rel, name)
	}
	return e, nil
}

// ListBlobs returns the blob ids of all entries.
func (i *Index) ListBlobs(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT blob FROM media`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
