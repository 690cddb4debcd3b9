// Package app defines the application layer "ports" (interfaces) that the
// storage core depends upon, and the Repository that callers use. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (filesystem and media index strategies, the
// encrypting decorator, metrics) provide concrete implementations. No SQL or
// filesystem concerns belong here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/stash/internal/domain"
)

// Clock abstracts time to enable deterministic testing of timestamps and
// cache expiry.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FileSource is the uniform storage contract. Every operation either returns a
// locator (or stream) or an error; ErrNotFound is returned unwrapped or
// wrapped so callers can test for it with errors.Is.
type FileSource interface {
	// Save writes everything read from r as name in loc, replacing any
	// existing file. It returns once the data is durable.
	Save(ctx context.Context, name string, loc domain.StorageLocation, r io.Reader) (domain.Locator, error)

	// Read opens name in loc. The caller must close the returned stream.
	Read(ctx context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error)

	// Delete removes name from loc.
	Delete(ctx context.Context, name string, loc domain.StorageLocation) error

	// AppendText appends text to name in loc, creating the file if missing.
	AppendText(ctx context.Context, name string, loc domain.StorageLocation, text string) (domain.Locator, error)
}

// Strategy is a physical storage backend serving a subset of locations.
// Strategies perform blocking I/O directly; scheduling is the caller's job.
type Strategy interface {
	FileSource

	// Name identifies the strategy in logs.
	Name() string
}

// Recorder receives operational metrics.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// NopRecorder discards metrics.
type NopRecorder struct{}

func (NopRecorder) Inc(string, int64)     {}
func (NopRecorder) Observe(string, int64) {}
