// Package filesystem provides storage strategies backed by a plain directory
// tree. AppSpecific serves the private locations from an application data
// directory; Legacy serves the public locations from a shared directory whose
// children are the well-known public folder names.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
)

// Ensure Strategy implements app.Strategy
var _ app.Strategy = (*Strategy)(nil)

// Private location roots below the application data directory.
const (
	FilesDir    = "files"
	CacheDir    = "cache"
	ExternalDir = "external"
)

// Strategy implements app.Strategy over a directory tree.
type Strategy struct {
	name     string
	root     string
	filePerm fs.FileMode
	dirPerm  fs.FileMode
	resolve  func(domain.StorageLocation) (string, error)
}

// NewAppSpecific returns the strategy for internal, cache and external app
// storage rooted at dataDir. Public locations are rejected.
func NewAppSpecific(dataDir string) (*Strategy, error) {
	root, err := prepareRoot(dataDir, 0o700)
	if err != nil {
		return nil, err
	}
	s := &Strategy{name: "app-specific", root: root, filePerm: 0o600, dirPerm: 0o700}
	s.resolve = func(loc domain.StorageLocation) (string, error) {
		switch loc.Kind() {
		case domain.InternalAppStorage:
			return filepath.Join(root, FilesDir), nil
		case domain.InternalAppCache:
			return filepath.Join(root, CacheDir), nil
		case domain.ExternalAppStorage:
			return filepath.Join(root, ExternalDir), nil
		}
		return "", fmt.Errorf("%w: %s is not app storage", domain.ErrUnsupportedLocation, loc)
	}
	return s, nil
}

// NewLegacy returns the strategy writing public locations directly into
// publicDir/<public folder>. Private locations are rejected.
func NewLegacy(publicDir string) (*Strategy, error) {
	root, err := prepareRoot(publicDir, 0o755)
	if err != nil {
		return nil, err
	}
	s := &Strategy{name: "legacy-public", root: root, filePerm: 0o644, dirPerm: 0o755}
	s.resolve = func(loc domain.StorageLocation) (string, error) {
		dir, err := loc.PublicDirectoryName()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, dir), nil
	}
	return s, nil
}

func prepareRoot(dir string, perm fs.FileMode) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, perm); err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", errors.New("storage root is not a directory")
	}
	return abs, nil
}

// Name identifies the strategy in logs.
func (s *Strategy) Name() string { return s.name }

// paths returns the containing directory and full path for name in loc.
func (s *Strategy) paths(loc domain.StorageLocation, name string) (dir, full string, err error) {
	rel, err := domain.ChildPath(loc, name)
	if err != nil {
		return "", "", err
	}
	base, err := s.resolve(loc)
	if err != nil {
		return "", "", err
	}
	full = filepath.Join(base, filepath.FromSlash(rel))
	return filepath.Dir(full), full, nil
}

// Save writes r to a temporary file beside the target and renames it into
// place once synced, so readers never observe a partial file.
func (s *Strategy) Save(ctx context.Context, name string, loc domain.StorageLocation, r io.Reader) (domain.Locator, error) {
	dir, full, err := s.paths(loc, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	fail := func(err error) (domain.Locator, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if _, err := io.Copy(tmp, iopool.ContextReader(ctx, r)); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(s.filePerm); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return domain.FileLocator(full), nil
}

// Read opens the file for reading.
func (s *Strategy) Read(_ context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error) {
	_, full, err := s.paths(loc, name)
	if err != nil {
		return nil, err
	}
	// #nosec G304: path is a validated child of a fixed root.
	f, err := os.Open(full)
	if err != nil {
		return nil, notFound(err, loc, name)
	}
	return f, nil
}

// Delete removes the file.
func (s *Strategy) Delete(_ context.Context, name string, loc domain.StorageLocation) error {
	_, full, err := s.paths(loc, name)
	if err != nil {
		return err
	}
	return notFound(os.Remove(full), loc, name)
}

// AppendText appends text in place, creating the file when missing.
func (s *Strategy) AppendText(_ context.Context, name string, loc domain.StorageLocation, text string) (domain.Locator, error) {
	dir, full, err := s.paths(loc, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return "", err
	}
	// #nosec G304: path is a validated child of a fixed root.
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.filePerm)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(f, text); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return domain.FileLocator(full), nil
}

// PurgeBefore removes cache files last modified before t and returns how many
// were removed. Strategies without a cache location purge nothing.
func (s *Strategy) PurgeBefore(ctx context.Context, t time.Time) (int, error) {
	base, err := s.resolve(domain.NewLocation(domain.InternalAppCache, ""))
	if err != nil {
		return 0, nil
	}
	n := 0
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(t) {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func notFound(err error, loc domain.StorageLocation, name string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s in %s", domain.ErrNotFound, name, loc)
	}
	return err
}
