// Package encrypted provides the FileSource decorator that encrypts payloads
// on their way into an inner FileSource and decrypts them on the way out.
//
// Files in public locations are not encrypted unless AllowPublic is set;
// without it every operation on a public location fails with
// domain.ErrPolicyViolation before any I/O happens.
//
// Every operation runs on an iopool.Pool. Sharing that pool with the inner
// FileSource keeps one bound across both layers, since the inner calls made
// from a held slot run inline.
package encrypted

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
)

var _ app.FileSource = (*Source)(nil)

// StreamCipher encrypts and decrypts byte streams.
type StreamCipher interface {
	Encrypt(ctx context.Context, plain io.Reader) (io.ReadCloser, error)
	Decrypt(ctx context.Context, src io.ReadCloser) (io.ReadCloser, error)
}

// Config parameterises a Source.
type Config struct {
	// AllowPublic permits encryption of files in public locations.
	AllowPublic bool
	// Pool bounds concurrent operations. Nil means a pool of
	// iopool.DefaultSize.
	Pool   *iopool.Pool
	Logger *slog.Logger
}

// Source is the encrypting FileSource.
type Source struct {
	inner       app.FileSource
	cipher      StreamCipher
	allowPublic bool
	pool        *iopool.Pool
	log         *slog.Logger
}

// New decorates inner.
func New(inner app.FileSource, cipher StreamCipher, cfg Config) *Source {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = iopool.New(0)
	}
	return &Source{
		inner:       inner,
		cipher:      cipher,
		allowPublic: cfg.AllowPublic,
		pool:        cfg.Pool,
		log:         cfg.Logger.With("domain", "encrypted"),
	}
}

func (s *Source) gate(loc domain.StorageLocation) error {
	if loc.IsPublic() && !s.allowPublic {
		return fmt.Errorf("%w: %s", domain.ErrPolicyViolation, loc)
	}
	return nil
}

// Save encrypts r and stores the envelope.
func (s *Source) Save(ctx context.Context, name string, loc domain.StorageLocation, r io.Reader) (domain.Locator, error) {
	if err := s.gate(loc); err != nil {
		return "", err
	}
	return iopool.Value(ctx, s.pool, func(ctx context.Context) (domain.Locator, error) {
		return s.save(ctx, name, loc, r)
	})
}

// Read returns a decrypting stream over the stored envelope. The tag is only
// verified once the stream has been read to the end.
func (s *Source) Read(ctx context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error) {
	if err := s.gate(loc); err != nil {
		return nil, err
	}
	return iopool.Value(ctx, s.pool, func(ctx context.Context) (io.ReadCloser, error) {
		return s.open(ctx, name, loc)
	})
}

// Delete removes the stored envelope.
func (s *Source) Delete(ctx context.Context, name string, loc domain.StorageLocation) error {
	if err := s.gate(loc); err != nil {
		return err
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return s.inner.Delete(ctx, name, loc)
	})
}

// AppendText decrypts the existing content, deletes the file and saves the
// existing content followed by text under a fresh IV. A missing file counts
// as empty. The whole rewrite holds one pool slot. It is not atomic:
// concurrent writers to the same file race, and a failure between delete and
// save loses the old content.
func (s *Source) AppendText(ctx context.Context, name string, loc domain.StorageLocation, text string) (domain.Locator, error) {
	if err := s.gate(loc); err != nil {
		return "", err
	}
	return iopool.Value(ctx, s.pool, func(ctx context.Context) (domain.Locator, error) {
		existing, found, err := s.readAll(ctx, name, loc)
		if err != nil {
			return "", err
		}
		if found {
			if err := s.inner.Delete(ctx, name, loc); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return "", err
			}
		}
		s.log.DebugContext(ctx, "rewrite", "file", name, "location", loc.String(), "existing", len(existing), "appended", len(text))
		return s.save(ctx, name, loc, strings.NewReader(existing+text))
	})
}

func (s *Source) save(ctx context.Context, name string, loc domain.StorageLocation, r io.Reader) (domain.Locator, error) {
	enc, err := s.cipher.Encrypt(ctx, r)
	if err != nil {
		return "", err
	}
	defer enc.Close()
	return s.inner.Save(ctx, name, loc, enc)
}

func (s *Source) open(ctx context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error) {
	rc, err := s.inner.Read(ctx, name, loc)
	if err != nil {
		return nil, err
	}
	return s.cipher.Decrypt(ctx, rc)
}

func (s *Source) readAll(ctx context.Context, name string, loc domain.StorageLocation) (string, bool, error) {
	rc, err := s.open(ctx, name, loc)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer rc.Close()
	var b strings.Builder
	if _, err := io.Copy(&b, rc); err != nil {
		return "", true, err
	}
	return b.String(), true, nil
}
