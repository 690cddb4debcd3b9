package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/metrics"
)

// RepositoryConfig parameterises a Repository.
type RepositoryConfig struct {
	// Name labels the repository in logs, e.g. "plain" or "encrypted".
	Name    string
	Metrics Recorder
	Logger  *slog.Logger
}

// Repository is the file repository surface handed to callers. It validates
// names, delegates to a FileSource and records the outcome.
type Repository struct {
	src     FileSource
	metrics Recorder
	log     *slog.Logger
}

var (
	_ FileSource = (*Repository)(nil)
	_ Recorder   = (*metrics.Manager)(nil)
)

// NewRepository wraps src.
func NewRepository(src FileSource, cfg RepositoryConfig) *Repository {
	if cfg.Metrics == nil {
		cfg.Metrics = NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "files"
	}
	return &Repository{
		src:     src,
		metrics: cfg.Metrics,
		log:     cfg.Logger.With("domain", "repository", "repository", cfg.Name),
	}
}

// Save stores r as name in loc.
func (r *Repository) Save(ctx context.Context, name string, loc domain.StorageLocation, src io.Reader) (domain.Locator, error) {
	if err := domain.ValidateFileName(name); err != nil {
		return "", err
	}
	start := time.Now()
	cr := &countingReader{r: src}
	l, err := r.src.Save(ctx, name, loc, cr)
	r.done(ctx, "save", name, loc, start, err)
	if err != nil {
		return "", err
	}
	r.metrics.Inc(metrics.CounterFilesSaved, 1)
	r.metrics.Observe(metrics.SummaryBytesSaved, cr.n)
	return l, nil
}

// Read opens name in loc.
func (r *Repository) Read(ctx context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error) {
	if err := domain.ValidateFileName(name); err != nil {
		return nil, err
	}
	start := time.Now()
	rc, err := r.src.Read(ctx, name, loc)
	r.done(ctx, "read", name, loc, start, err)
	if err != nil {
		return nil, err
	}
	r.metrics.Inc(metrics.CounterFilesRead, 1)
	return rc, nil
}

// Delete removes name from loc.
func (r *Repository) Delete(ctx context.Context, name string, loc domain.StorageLocation) error {
	if err := domain.ValidateFileName(name); err != nil {
		return err
	}
	start := time.Now()
	err := r.src.Delete(ctx, name, loc)
	r.done(ctx, "delete", name, loc, start, err)
	if err == nil {
		r.metrics.Inc(metrics.CounterFilesDeleted, 1)
	}
	return err
}

// AppendText appends text to name in loc.
func (r *Repository) AppendText(ctx context.Context, name string, loc domain.StorageLocation, text string) (domain.Locator, error) {
	if err := domain.ValidateFileName(name); err != nil {
		return "", err
	}
	start := time.Now()
	l, err := r.src.AppendText(ctx, name, loc, text)
	r.done(ctx, "append", name, loc, start, err)
	if err != nil {
		return "", err
	}
	r.metrics.Inc(metrics.CounterTextAppended, 1)
	return l, nil
}

func (r *Repository) done(ctx context.Context, op, name string, loc domain.StorageLocation, start time.Time, err error) {
	attrs := []any{"op", op, "file", name, "location", loc.String(), "elapsed", time.Since(start)}
	switch {
	case err == nil:
		r.log.DebugContext(ctx, "ok", attrs...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.log.DebugContext(ctx, "cancelled", attrs...)
	case errors.Is(err, domain.ErrNotFound):
		r.log.DebugContext(ctx, "not found", attrs...)
	default:
		r.metrics.Inc(metrics.CounterOperationErrors, 1)
		if errors.Is(err, domain.ErrAuthentication) {
			r.metrics.Inc(metrics.CounterAuthFailures, 1)
		}
		r.log.WarnContext(ctx, "failed", append(attrs, "err", err)...)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
