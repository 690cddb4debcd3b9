// Package bolt provides a bbolt-backed implementation of the keys.Store port.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/haukened/stash/internal/keys"
	bolt "go.etcd.io/bbolt"
)

var _ keys.Store = (*Store)(nil)

var bucketKeys = []byte("keys")

// Store keeps key material in a single bbolt bucket.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt key store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeys)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the material stored under alias.
func (s *Store) Load(_ context.Context, alias string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKeys).Get([]byte(alias))
		if v == nil {
			return keys.ErrNoSuchKey
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Create stores material unless alias exists. bbolt serialises writers, so
// the read and put in one Update are atomic.
func (s *Store) Create(_ context.Context, alias string, material []byte) ([]byte, error) {
	var out []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		if v := b.Get([]byte(alias)); v != nil {
			out = append([]byte(nil), v...)
			return nil
		}
		out = append([]byte(nil), material...)
		return b.Put([]byte(alias), out)
	})
	return out, err
}

// Replace swaps material in only when the entry still holds old.
func (s *Store) Replace(_ context.Context, alias string, old, material []byte) (bool, error) {
	var swapped bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		v := b.Get([]byte(alias))
		if v == nil {
			return keys.ErrNoSuchKey
		}
		if !bytes.Equal(v, old) {
			return nil
		}
		swapped = true
		return b.Put([]byte(alias), append([]byte(nil), material...))
	})
	return swapped, err
}
