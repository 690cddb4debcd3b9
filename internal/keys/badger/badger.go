// Package badger provides a Badger-backed implementation of the keys.Store
// port.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/haukened/stash/internal/keys"
)

var _ keys.Store = (*Store)(nil)

const (
	keyPrefix     = "key/"
	createRetries = 8
)

// Store keeps key material in a Badger database.
type Store struct {
	db *badger.DB
}

// Open opens or creates a Badger database in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger key store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the material stored under alias.
func (s *Store) Load(_ context.Context, alias string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + alias))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return keys.ErrNoSuchKey
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Create stores material unless alias exists. Conflicting transactions are
// retried so the loser observes the winner's key.
func (s *Store) Create(ctx context.Context, alias string, material []byte) ([]byte, error) {
	k := []byte(keyPrefix + alias)
	var out []byte
	var err error
	for i := 0; i < createRetries; i++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			if err == nil {
				out, err = item.ValueCopy(nil)
				return err
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			out = append([]byte(nil), material...)
			return txn.Set(k, out)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return out, err
		}
	}
	return nil, err
}

// Replace swaps material in only when the entry still holds old. A
// conflicting writer wins and Replace reports false.
func (s *Store) Replace(_ context.Context, alias string, old, material []byte) (bool, error) {
	k := []byte(keyPrefix + alias)
	var swapped bool
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return keys.ErrNoSuchKey
		}
		if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, old) {
			return nil
		}
		swapped = true
		return txn.Set(k, append([]byte(nil), material...))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	return swapped, err
}
