// Package metrics keeps operation counters and size summaries for stash.
//
// Recorders push events onto a buffered channel and never block; a single
// loop folds them into a pending delta that is added to the SQLite tables on
// every flush. Only monotonic counters and (count,sum,min,max) summaries are
// kept.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Counter names.
const (
	CounterFilesSaved      = "files_saved_total"
	CounterFilesRead       = "files_read_total"
	CounterFilesDeleted    = "files_deleted_total"
	CounterTextAppended    = "text_appended_total"
	CounterOperationErrors = "operation_errors_total"
	CounterAuthFailures    = "auth_failures_total"
	CounterTextEncrypted   = "text_encrypted_total"
	CounterTextDecrypted   = "text_decrypted_total"
	CounterCachePurged     = "cache_files_purged_total"
	CounterOrphansDeleted  = "orphan_blobs_deleted_total"
	// CounterEventsDropped counts events lost to a full queue.
	CounterEventsDropped = "metrics_events_dropped_total"
)

// Summary names.
const (
	SummaryBytesSaved             = "bytes_saved"
	SummaryJanitorDeletedPerCycle = "janitor_deleted_per_cycle"
)

const queueSize = 1024

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metrics_counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metrics_summaries (
		name TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		sum INTEGER NOT NULL,
		min INTEGER NOT NULL,
		max INTEGER NOT NULL
	)`,
}

const (
	upsertCounter = `INSERT INTO metrics_counters(name,value) VALUES(?,?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`
	upsertSummary = `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			count = metrics_summaries.count + excluded.count,
			sum = metrics_summaries.sum + excluded.sum,
			min = MIN(metrics_summaries.min, excluded.min),
			max = MAX(metrics_summaries.max, excluded.max)`
)

// Summary aggregates observations of one value.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// merge combines two aggregates. The zero Summary is the identity.
func (s Summary) merge(o Summary) Summary {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
	return s
}

func single(v int64) Summary { return Summary{Count: 1, Sum: v, Min: v, Max: v} }

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// delta is a set of counter increments and summary aggregates.
type delta struct {
	counters  map[string]int64
	summaries map[string]Summary
}

func newDelta() *delta {
	return &delta{counters: make(map[string]int64), summaries: make(map[string]Summary)}
}

func (d *delta) empty() bool { return len(d.counters) == 0 && len(d.summaries) == 0 }

func (d *delta) record(ev event) {
	switch ev.kind {
	case eventInc:
		d.counters[ev.name] += ev.v
	case eventObserve:
		d.summaries[ev.name] = d.summaries[ev.name].merge(single(ev.v))
	}
}

func (d *delta) merge(o *delta) {
	for n, v := range o.counters {
		d.counters[n] += v
	}
	for n, s := range o.summaries {
		d.summaries[n] = d.summaries[n].merge(s)
	}
}

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Manager aggregates metric events and persists them.
type Manager struct {
	db       *sql.DB
	interval time.Duration
	log      *slog.Logger

	events  chan event
	dropped atomic.Int64
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	halt    sync.Once

	mu      sync.Mutex
	pending *delta
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		db:       db,
		interval: cfg.FlushInterval,
		log:      cfg.Logger.With("domain", "metrics"),
		events:   make(chan event, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  newDelta(),
	}
}

// InitSchema ensures the metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// Inc increments a counter by delta. Non-positive deltas are ignored.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.enqueue(event{kind: eventInc, name: name, v: delta})
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.enqueue(event{kind: eventObserve, name: name, v: value})
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

// Start launches the background loop. Later calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.loop(ctx)
}

// Stop ends the loop, folds in queued events and flushes once more.
func (m *Manager) Stop(ctx context.Context) {
	m.halt.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
	m.drain()
	if err := m.flush(ctx); err != nil {
		m.log.Error("final flush", "error", err)
	}
}

func (m *Manager) loop(ctx context.Context) {
	tick := time.NewTicker(m.interval)
	defer func() {
		tick.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			m.log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.record(ev)
		case <-tick.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("flush", "error", err)
			}
		}
	}
}

// drain folds in events still queued on the channel.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.record(ev)
		default:
			return
		}
	}
}

func (m *Manager) record(ev event) {
	m.mu.Lock()
	m.pending.record(ev)
	m.mu.Unlock()
}

// take hands over the pending delta, including drops counted so far.
func (m *Manager) take() *delta {
	m.mu.Lock()
	d := m.pending
	m.pending = newDelta()
	m.mu.Unlock()
	if n := m.dropped.Swap(0); n > 0 {
		d.counters[CounterEventsDropped] += n
	}
	return d
}

// flush adds the pending delta to the tables in one transaction. On failure
// the delta is put back for the next attempt.
func (m *Manager) flush(ctx context.Context) error {
	d := m.take()
	if d.empty() {
		return nil
	}
	if err := m.persist(ctx, d); err != nil {
		m.mu.Lock()
		m.pending.merge(d)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, d *delta) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if len(d.counters) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertCounter)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for name, v := range d.counters {
			if _, err := stmt.ExecContext(ctx, name, v); err != nil {
				return err
			}
		}
	}
	if len(d.summaries) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertSummary)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for name, s := range d.summaries {
			if _, err := stmt.ExecContext(ctx, name, s.Count, s.Sum, s.Min, s.Max); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Snapshot returns the persisted values with unflushed deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error) {
	d, err := m.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	d.merge(m.pending)
	m.mu.Unlock()
	if n := m.dropped.Load(); n > 0 {
		d.counters[CounterEventsDropped] += n
	}
	return d.counters, d.summaries, nil
}

func (m *Manager) load(ctx context.Context) (*delta, error) {
	d := newDelta()
	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, err
		}
		d.counters[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var name string
		var s Summary
		if err := srows.Scan(&name, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return nil, err
		}
		d.summaries[name] = s
	}
	return d, srows.Err()
}
