package syncjob

import (
	"time"

	"github.com/shopmesh/syncd/internal/classify"
)

// JobStatus represents the lifecycle state of a single sync job.
// Transitions are monotonic: queued → running → {success | error}.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// Terminal reports whether the status permits no further transitions
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobError
}

// EventType categorizes entries in a job's event history
type EventType string

const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventWarning EventType = "warning"
)

// Event is one timestamped entry in a job's append-only history.
// Insertion order is the authoritative order.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Message   string
	Detail    map[string]any
}

// Job is one item's sync attempt against one external target
type Job struct {
	SyncID      string
	ItemID      string
	Target      string
	TenantID    string
	Status      JobStatus
	Events      []Event
	StartedAt   time.Time
	CompletedAt *time.Time
	ErrorKind   classify.Kind
	ErrorMsg    string
}

// BatchStatus is derived from the statuses of a batch's jobs, never stored
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchMixed      BatchStatus = "mixed"
)

// JobView is the snapshot returned to polling clients
type JobView struct {
	SyncID      string
	ItemID      string
	Target      string
	Status      JobStatus
	Events      []Event
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// BatchView is the aggregate snapshot returned to polling clients
type BatchView struct {
	BatchID    string
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Queued     int
	Status     BatchStatus
	Percentage int
}

// SuccessRate is a read-only projection, never persisted
func (v BatchView) SuccessRate() float64 {
	if v.Total == 0 {
		return 0
	}
	return float64(v.Completed) / float64(v.Total)
}

// FailureRate is a read-only projection, never persisted
func (v BatchView) FailureRate() float64 {
	if v.Total == 0 {
		return 0
	}
	return float64(v.Failed) / float64(v.Total)
}

// Submission is the result of a batch submit: the batch id plus the created
// jobs in submission order.
type Submission struct {
	BatchID string
	SyncIDs []string
}
