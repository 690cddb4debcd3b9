package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haukened/stash/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Config parameterises a Manager.
type Config struct {
	// MasterKey, when set, wraps key material before it reaches the Store.
	MasterKey []byte
	Logger    *slog.Logger
}

// Manager hands out keys by purpose, creating each one on first use.
type Manager struct {
	store Store
	wrap  *wrapper
	log   *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Key
}

// NewManager returns a Manager over store.
func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", domain.ErrKeyStore)
	}
	w, err := newWrapper(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyStore, err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: store,
		wrap:  w,
		log:   log.With("domain", "keys"),
		cache: make(map[string]*Key),
	}, nil
}

// GetOrCreate returns the key for purpose, generating and storing a fresh
// AES-256 key if none exists. Concurrent first calls for the same purpose
// resolve to one key.
func (m *Manager) GetOrCreate(ctx context.Context, purpose domain.KeyPurpose) (*Key, error) {
	alias, err := purpose.Alias()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	k, ok := m.cache[alias]
	m.mu.RUnlock()
	if ok {
		return k, nil
	}

	// The shared load outlives any single caller; each caller still stops
	// waiting when its own context ends.
	ch := m.group.DoChan(alias, func() (any, error) {
		k, err := m.materialize(context.WithoutCancel(ctx), alias)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cache[alias] = k
		m.mu.Unlock()
		return k, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Key), nil
	}
}

func (m *Manager) materialize(ctx context.Context, alias string) (*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored, err := m.store.Load(ctx, alias)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSuchKey):
		stored, err = m.create(ctx, alias)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: load %s: %v", domain.ErrKeyStore, alias, err)
	}

	material, err := m.wrap.open(alias, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrKeyStore, alias, err)
	}
	if len(material) != KeySize {
		return nil, fmt.Errorf("%w: %s has %d byte key", domain.ErrKeyStore, alias, len(material))
	}
	if m.wrap != nil && stored[0] == formatRaw {
		m.rewrap(ctx, alias, stored, material)
	}
	return &Key{alias: alias, material: material}, nil
}

// rewrap seals a raw entry found while a master key is configured. A failed
// rewrap leaves the raw entry in place and the key usable.
func (m *Manager) rewrap(ctx context.Context, alias string, stored, material []byte) {
	m.log.Warn("unwrapped key under master key", "alias", alias)
	sealed, err := m.wrap.seal(alias, material)
	if err != nil {
		m.log.Error("rewrap key", "alias", alias, "err", err)
		return
	}
	swapped, err := m.store.Replace(ctx, alias, stored, sealed)
	if err != nil {
		m.log.Error("rewrap key", "alias", alias, "err", err)
		return
	}
	if swapped {
		m.log.Info("key rewrapped", "alias", alias)
	}
}

func (m *Manager) create(ctx context.Context, alias string) ([]byte, error) {
	fresh := make([]byte, KeySize)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("%w: generate %s: %v", domain.ErrKeyStore, alias, err)
	}
	sealed, err := m.wrap.seal(alias, fresh)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap %s: %v", domain.ErrKeyStore, alias, err)
	}
	stored, err := m.store.Create(ctx, alias, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrKeyStore, alias, err)
	}
	m.log.Info("key created", "alias", alias, "wrapped", m.wrap != nil)
	return stored, nil
}
