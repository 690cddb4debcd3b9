// Package storage provides the plain FileSource that routes each call to a
// storage strategy by location classification, dispatching all I/O onto a
// bounded pool, and the housekeeping hooks used by the janitor.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
)

var _ app.FileSource = (*LocalSource)(nil)

// Public backends.
const (
	BackendMediaStore = "mediastore"
	BackendLegacy     = "legacy"
)

// plainTextExtensions are the extensions AppendText accepts.
var plainTextExtensions = map[string]struct{}{
	"txt": {}, "text": {}, "log": {}, "conf": {}, "cfg": {}, "ini": {}, "md": {}, "csv": {},
}

// IsPlainText reports whether name carries a plain-text extension.
func IsPlainText(name string) bool {
	_, ok := plainTextExtensions[domain.Extension(name)]
	return ok
}

// Config wires a LocalSource.
type Config struct {
	// AppSpecific serves the private locations.
	AppSpecific app.Strategy
	// MediaStore serves public locations when PublicBackend is mediastore.
	MediaStore app.Strategy
	// Legacy serves public locations otherwise.
	Legacy app.Strategy
	// PublicBackend selects the public strategy, BackendMediaStore or BackendLegacy.
	PublicBackend string
	Pool          *iopool.Pool
	Logger        *slog.Logger
}

// LocalSource is the unencrypted FileSource.
type LocalSource struct {
	private app.Strategy
	public  app.Strategy
	pool    *iopool.Pool
	log     *slog.Logger
}

// NewLocalSource validates cfg and returns a LocalSource.
func NewLocalSource(cfg Config) (*LocalSource, error) {
	if cfg.AppSpecific == nil {
		return nil, errors.New("storage: app-specific strategy is required")
	}
	var public app.Strategy
	switch cfg.PublicBackend {
	case BackendMediaStore, "":
		public = cfg.MediaStore
	case BackendLegacy:
		public = cfg.Legacy
	default:
		return nil, fmt.Errorf("storage: unknown public backend %q", cfg.PublicBackend)
	}
	if public == nil {
		return nil, fmt.Errorf("storage: no strategy configured for public backend %q", cfg.PublicBackend)
	}
	if cfg.Pool == nil {
		cfg.Pool = iopool.New(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &LocalSource{private: cfg.AppSpecific, public: public, pool: cfg.Pool, log: cfg.Logger.With("domain", "storage")}
	s.log.Debug("strategies selected", "private", s.private.Name(), "public", s.public.Name())
	return s, nil
}

// strategy returns the backend for loc.
func (s *LocalSource) strategy(loc domain.StorageLocation) (app.Strategy, error) {
	if !loc.Kind().Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedLocation, loc)
	}
	if loc.IsPublic() {
		return s.public, nil
	}
	return s.private, nil
}

// Save stores r as name in loc.
func (s *LocalSource) Save(ctx context.Context, name string, loc domain.StorageLocation, r io.Reader) (domain.Locator, error) {
	st, err := s.strategy(loc)
	if err != nil {
		return "", err
	}
	return iopool.Value(ctx, s.pool, func(ctx context.Context) (domain.Locator, error) {
		return st.Save(ctx, name, loc, r)
	})
}

// Read opens name in loc.
func (s *LocalSource) Read(ctx context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error) {
	st, err := s.strategy(loc)
	if err != nil {
		return nil, err
	}
	return iopool.Value(ctx, s.pool, func(ctx context.Context) (io.ReadCloser, error) {
		return st.Read(ctx, name, loc)
	})
}

// Delete removes name from loc.
func (s *LocalSource) Delete(ctx context.Context, name string, loc domain.StorageLocation) error {
	st, err := s.strategy(loc)
	if err != nil {
		return err
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return st.Delete(ctx, name, loc)
	})
}

// AppendText appends text to a plain-text file.
func (s *LocalSource) AppendText(ctx context.Context, name string, loc domain.StorageLocation, text string) (domain.Locator, error) {
	if !IsPlainText(name) {
		return "", fmt.Errorf("%w: %s", domain.ErrNotPlainText, name)
	}
	st, err := s.strategy(loc)
	if err != nil {
		return "", err
	}
	return iopool.Value(ctx, s.pool, func(ctx context.Context) (domain.Locator, error) {
		return st.AppendText(ctx, name, loc, text)
	})
}
