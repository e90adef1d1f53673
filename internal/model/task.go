package model

import "time"

// TaskStatus represents the current state of a search task.
type TaskStatus string

const (
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusStopped  TaskStatus = "stopped"
	TaskStatusFailed   TaskStatus = "failed"
)

// Task is one customer search: the query, how many leads were requested,
// and the optional post-verification age filter.
type Task struct {
	ID             string      `json:"id"`
	CustomerID     string      `json:"customer_id"`
	Query          Query       `json:"query"`
	Fingerprint    Fingerprint `json:"fingerprint"`
	RequestedCount int         `json:"requested_count"`
	AgeFilter      *AgeRange   `json:"age_filter,omitempty"`
	Status         TaskStatus  `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// LogLevel classifies task log entries.
type LogLevel string

const (
	LogInfo LogLevel = "info"
	LogWarn LogLevel = "warn"
)

// TaskLogEntry is one human-readable line of a task's append-only log.
// The customer-facing UI reads these verbatim; failures surface here
// rather than as API errors.
type TaskLogEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
