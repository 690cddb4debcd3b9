// Package janitor implements background housekeeping of the storage
// backends: purging stale cache files and deleting media payloads no index
// entry references. It runs independently from the request path so lifecycle
// concerns stay out of the file operations.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/metrics"
)

// Store abstracts the maintenance hooks the Janitor drives.
type Store interface {
	// PurgeExpired removes cache files considered stale at now and returns
	// the number removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	// Reconcile removes orphaned payloads and returns the number removed.
	Reconcile(ctx context.Context) (int, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Clock    app.Clock     // optional clock (defaults to app.SystemClock)
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Purged              uint64
	Orphans             uint64
	Errors              uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64 `json:"cycles"`
	Purged              uint64 `json:"purged"`
	Orphans             uint64 `json:"orphans"`
	Errors              uint64 `json:"errors"`
	CycleLastDurationMS int64  `json:"cycle_last_duration_ms"`
}

func (m *Metrics) record(purged, orphans, errs int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cycles++
	m.Purged += uint64(max(purged, 0))
	m.Orphans += uint64(max(orphans, 0))
	m.Errors += uint64(errs)
	m.CycleLastDurationMS = d.Milliseconds()
}

// Janitor encapsulates the background cleanup loop.
type Janitor struct {
	store    Store
	recorder app.Recorder
	cfg      Config
	metrics  *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. recorder may be nil.
func New(store Store, recorder app.Recorder, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = app.SystemClock{}
	}
	if recorder == nil {
		recorder = app.NopRecorder{}
	}
	return &Janitor{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		metrics:  &Metrics{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stop on a janitor
// that was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// RunOnce performs a single cycle synchronously.
func (j *Janitor) RunOnce(ctx context.Context) MetricsView {
	j.runCycle(ctx)
	return j.MetricsSnapshot()
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		Purged:              j.metrics.Purged,
		Orphans:             j.metrics.Orphans,
		Errors:              j.metrics.Errors,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one purge + reconcile cycle. A failing step is logged and
// does not prevent the other.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	errs := 0
	purged, err := j.store.PurgeExpired(ctx, j.cfg.Clock.Now())
	if err != nil && !errors.Is(err, context.Canceled) {
		errs++
		log.Error("purge", "error", err)
	}
	orphans, rerr := j.store.Reconcile(ctx)
	if rerr != nil && !errors.Is(rerr, context.Canceled) {
		errs++
		log.Error("reconcile", "error", rerr)
	}
	elapsed := time.Since(start)
	j.metrics.record(purged, orphans, errs, elapsed)
	j.recorder.Inc(metrics.CounterCachePurged, int64(purged))
	j.recorder.Inc(metrics.CounterOrphansDeleted, int64(orphans))
	j.recorder.Observe(metrics.SummaryJanitorDeletedPerCycle, int64(purged+orphans))
	log.Info("cycle complete", "purged", purged, "orphans", orphans, "ms", elapsed.Milliseconds())
}
