// Package monitoring exposes point-in-time operational metrics for the
// lead pipeline.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Task counts by status.
	TasksRunning  int `json:"tasks_running"`
	TasksComplete int `json:"tasks_complete"`
	TasksStopped  int `json:"tasks_stopped"`
	TasksFailed   int `json:"tasks_failed"`

	// Store depth.
	CacheEntries int `json:"cache_entries"`
	Assignments  int `json:"assignments"`
	Results      int `json:"results"`

	// Reveals still waiting on a provider callback.
	PendingReveals int `json:"pending_reveals"`

	CollectedAt time.Time `json:"collected_at"`
}

// PendingCounter reports the in-flight phone-reveal depth.
type PendingCounter interface {
	PendingCount() int
}

// Collector gathers metrics from the store and the correlator.
type Collector struct {
	store   store.Store
	pending PendingCounter
}

// NewCollector creates a metrics collector. pending may be nil when no
// correlator is running (one-shot CLI commands).
func NewCollector(st store.Store, pending PendingCounter) *Collector {
	return &Collector{store: st, pending: pending}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	stats, err := c.store.CollectStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect stats")
	}

	snap := &MetricsSnapshot{
		TasksRunning:  stats.TasksByStatus[model.TaskStatusRunning],
		TasksComplete: stats.TasksByStatus[model.TaskStatusComplete],
		TasksStopped:  stats.TasksByStatus[model.TaskStatusStopped],
		TasksFailed:   stats.TasksByStatus[model.TaskStatusFailed],
		CacheEntries:  stats.CacheEntries,
		Assignments:   stats.Assignments,
		Results:       stats.Results,
		CollectedAt:   time.Now().UTC(),
	}
	if c.pending != nil {
		snap.PendingReveals = c.pending.PendingCount()
	}
	return snap, nil
}
