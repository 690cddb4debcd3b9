package storage

import (
	"context"
	"time"
)

// Purger removes cached files older than a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, t time.Time) (int, error)
}

// Reconciler removes payloads no index entry references.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Housekeeper adapts the strategies' maintenance hooks to the janitor. Either
// side may be nil.
type Housekeeper struct {
	Cache  Purger
	Index  Reconciler
	MaxAge time.Duration
}

// PurgeExpired removes cache files older than MaxAge relative to now.
func (h *Housekeeper) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if h.Cache == nil || h.MaxAge <= 0 {
		return 0, nil
	}
	return h.Cache.PurgeBefore(ctx, now.Add(-h.MaxAge))
}

// Reconcile removes orphaned media payloads.
func (h *Housekeeper) Reconcile(ctx context.Context) (int, error) {
	if h.Index == nil {
		return 0, nil
	}
	return h.Index.Reconcile(ctx)
}
