package store

import (
	"context"
	"time"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status     model.TaskStatus `json:"status,omitempty"`
	CustomerID string           `json:"customer_id,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// Stats is a point-in-time count of the store's tables, consumed by the
// monitoring collector.
type Stats struct {
	TasksByStatus map[model.TaskStatus]int `json:"tasks_by_status"`
	CacheEntries  int                      `json:"cache_entries"`
	Assignments   int                      `json:"assignments"`
	Results       int                      `json:"results"`
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Candidate cache. Get returns (nil, nil) when no fresh entry exists.
	// Put merges candidates into any existing entry; the set never shrinks.
	GetCacheEntry(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, fp model.Fingerprint, candidates []model.Candidate, freshFor time.Duration) error
	DeleteExpiredCache(ctx context.Context) (int, error)

	// Assignment ledger. Append-only; records double as an audit trail.
	ListAssignments(ctx context.Context, fp model.Fingerprint, since time.Time) ([]model.AssignmentRecord, error)
	RecordAssignments(ctx context.Context, fp model.Fingerprint, candidateIDs []string, customerID string) error
	DeleteAssignmentsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Tasks
	CreateTask(ctx context.Context, customerID string, q model.Query, requested int, ageFilter *model.AgeRange) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// Results
	UpsertResult(ctx context.Context, r model.SearchResult) error
	GetResult(ctx context.Context, taskID, candidateID string) (*model.SearchResult, error)
	ListResults(ctx context.Context, taskID string) ([]model.SearchResult, error)
	DeleteResult(ctx context.Context, taskID, candidateID string) error

	// Task log
	AppendLog(ctx context.Context, taskID string, level model.LogLevel, message string) error
	ListLog(ctx context.Context, taskID string) ([]model.TaskLogEntry, error)

	// Lifecycle
	CollectStats(ctx context.Context) (*Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}
