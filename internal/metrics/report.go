package metrics

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// SnapshotProvider abstracts Manager for testing.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error)
}

// Report is the JSON document written by WriteReport.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Counters    map[string]int64   `json:"counters"`
	Summaries   map[string]Summary `json:"summaries"`
}

// WriteReport writes an indented JSON snapshot to w.
func WriteReport(ctx context.Context, w io.Writer, provider SnapshotProvider, now time.Time) error {
	counters, summaries, err := provider.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Report{GeneratedAt: now.UTC(), Counters: counters, Summaries: summaries})
}
