package keys

import (
	"context"
	"errors"
)

// ErrNoSuchKey is returned by a Store when no material exists under an alias.
var ErrNoSuchKey = errors.New("no such key")

// Store is the protected key store. Material handed to a Store is already
// wrapped when a master key is configured; stores never interpret it.
type Store interface {
	// Load returns the material stored under alias, or ErrNoSuchKey.
	Load(ctx context.Context, alias string) ([]byte, error)
	// Create stores material under alias unless an entry already exists, and
	// returns whatever material is stored once the call completes. The
	// lookup and insert must be atomic so concurrent creators converge on a
	// single key.
	Create(ctx context.Context, alias string, material []byte) ([]byte, error)
	// Replace overwrites the entry under alias with material only while it
	// still holds old, and reports whether it did.
	Replace(ctx context.Context, alias string, old, material []byte) (bool, error)
}
