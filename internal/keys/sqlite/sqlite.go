// Package sqlite provides a SQLite-backed implementation of the keys.Store
// port. The table lives in the same database file as the rest of the service
// state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/haukened/stash/internal/keys"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ keys.Store = (*Store)(nil)

// Store implements keys.Store using SQLite. It is safe for concurrent use.
type Store struct{ db *sql.DB }

// New constructs a Store, initializing the schema if absent.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `CREATE TABLE IF NOT EXISTS keys (
alias TEXT PRIMARY KEY,
material BLOB NOT NULL,
created_at INTEGER NOT NULL
);`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the material stored under alias.
func (s *Store) Load(ctx context.Context, alias string) ([]byte, error) {
	var material []byte
	err := s.db.QueryRowContext(ctx, `SELECT material FROM keys WHERE alias=?`, alias).Scan(&material)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, keys.ErrNoSuchKey
	}
	return material, err
}

// Create inserts material unless alias already exists and returns the row
// that won.
func (s *Store) Create(ctx context.Context, alias string, material []byte) (out []byte, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	const ins = `INSERT INTO keys (alias, material, created_at) VALUES (?,?,?) ON CONFLICT(alias) DO NOTHING`
	if _, err = tx.ExecContext(ctx, ins, alias, material, time.Now().Unix()); err != nil {
		return nil, err
	}
	if err = tx.QueryRowContext(ctx, `SELECT material FROM keys WHERE alias=?`, alias).Scan(&out); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Replace swaps material in only when the row still holds old.
func (s *Store) Replace(ctx context.Context, alias string, old, material []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE keys SET material=? WHERE alias=? AND material=?`, material, alias, old)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.Load(ctx, alias); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}
