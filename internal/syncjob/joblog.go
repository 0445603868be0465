package syncjob

import (
	"fmt"
	"sync"

	"github.com/shopmesh/syncd/internal/classify"
)

// JobLog is the in-memory registry of jobs and batches plus each job's
// append-only event history. It is the snapshot that polling clients read;
// every mutation is mirrored to the Store through the write-behind writer.
//
// JobLog enforces the lifecycle invariants: status transitions are monotonic,
// terminal states are immutable, and each job gets at most one terminal
// event no matter how often the coordinator retries a stage.
type JobLog struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	batches   map[string][]string // batchID → syncIDs, submission order
	cancelled map[string]bool
	writer    *StoreWriter
	clock     Clock
}

// NewJobLog creates an empty log backed by the given writer
func NewJobLog(writer *StoreWriter, clock Clock) *JobLog {
	return &JobLog{
		jobs:      make(map[string]*Job),
		batches:   make(map[string][]string),
		cancelled: make(map[string]bool),
		writer:    writer,
		clock:     clock,
	}
}

// CreateJob registers a new job and persists the insert
func (l *JobLog) CreateJob(job Job) {
	stored := job
	stored.Events = append([]Event(nil), job.Events...)

	l.mu.Lock()
	l.jobs[job.SyncID] = &stored
	l.mu.Unlock()

	l.writer.enqueue(storeOp{kind: opInsertJob, job: job, syncID: job.SyncID})
}

// CreateBatch registers a batch's ordered job references
func (l *JobLog) CreateBatch(batchID string, syncIDs []string) {
	l.mu.Lock()
	l.batches[batchID] = append([]string(nil), syncIDs...)
	l.mu.Unlock()

	l.writer.enqueue(storeOp{kind: opInsertBatch, batchID: batchID, syncIDs: syncIDs, createdAt: l.clock.Now()})
}

// Append adds an event to a job's history. Terminal jobs are immutable, so
// appends against them are rejected; the terminal event itself goes through
// MarkTerminal.
func (l *JobLog) Append(syncID string, typ EventType, msg string, detail map[string]any) error {
	ev := Event{Timestamp: l.clock.Now(), Type: typ, Message: msg, Detail: detail}

	l.mu.Lock()
	job, ok := l.jobs[syncID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("append event: job %s: %w", syncID, ErrNotFound)
	}
	if job.Status.Terminal() {
		l.mu.Unlock()
		return fmt.Errorf("append event: job %s already terminal", syncID)
	}
	job.Events = append(job.Events, ev)
	l.mu.Unlock()

	l.writer.enqueue(storeOp{kind: opAppendEvent, syncID: syncID, event: ev})
	return nil
}

// MarkRunning moves a queued job to running. Any other starting status is
// left untouched (monotonic transitions only).
func (l *JobLog) MarkRunning(syncID string) bool {
	l.mu.Lock()
	job, ok := l.jobs[syncID]
	if !ok || job.Status != JobQueued {
		l.mu.Unlock()
		return false
	}
	job.Status = JobRunning
	l.mu.Unlock()

	l.writer.enqueue(storeOp{kind: opUpdateStatus, syncID: syncID, status: JobRunning})
	return true
}

// MarkTerminal moves a job to success or error, appending exactly one
// terminal event. Returns false without side effects if the job is unknown
// or already terminal, which is the at-most-one-terminal-write guarantee.
func (l *JobLog) MarkTerminal(syncID string, success bool, errClass classify.Class) bool {
	status := JobSuccess
	ev := Event{Type: EventSuccess, Message: "Sync completed"}
	if !success {
		status = JobError
		ev.Type = EventError
		ev.Message = errClass.Message
		if ev.Message == "" {
			ev.Message = "Sync failed"
		}
		ev.Detail = map[string]any{
			"error_kind": string(errClass.Kind),
			"retry_hint": errClass.Hint(),
		}
	}

	now := l.clock.Now()
	ev.Timestamp = now

	// Persist the same message the in-memory job carries, fallback included
	errMsg := ""
	if !success {
		errMsg = ev.Message
	}

	l.mu.Lock()
	job, ok := l.jobs[syncID]
	if !ok || job.Status.Terminal() {
		l.mu.Unlock()
		return false
	}
	job.Status = status
	job.CompletedAt = &now
	if !success {
		job.ErrorKind = errClass.Kind
		job.ErrorMsg = ev.Message
	}
	job.Events = append(job.Events, ev)
	l.mu.Unlock()

	l.writer.enqueue(storeOp{kind: opAppendEvent, syncID: syncID, event: ev})
	l.writer.enqueue(storeOp{kind: opUpdateStatus, syncID: syncID, status: status,
		errKind: string(errClass.Kind), errMsg: errMsg, completedAt: &now})
	return true
}

// CancelBatch marks a batch cancelled. In-flight stage calls are not
// interrupted; the coordinator observes the flag between stage boundaries.
func (l *JobLog) CancelBatch(batchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.batches[batchID]; !ok {
		return false
	}
	l.cancelled[batchID] = true
	return true
}

// BatchCancelled reports the batch's cooperative cancellation flag
func (l *JobLog) BatchCancelled(batchID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cancelled[batchID]
}

// JobView returns a deep-copied snapshot of one job
func (l *JobLog) JobView(syncID string) (JobView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	job, ok := l.jobs[syncID]
	if !ok {
		return JobView{}, fmt.Errorf("job %s: %w", syncID, ErrNotFound)
	}

	return JobView{
		SyncID:      job.SyncID,
		ItemID:      job.ItemID,
		Target:      job.Target,
		Status:      job.Status,
		Events:      append([]Event(nil), job.Events...),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.ErrorMsg,
	}, nil
}

// BatchView aggregates a batch's jobs into the polling snapshot. Two calls
// with no intervening completions return identical aggregates.
func (l *JobLog) BatchView(batchID string) (BatchView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	syncIDs, ok := l.batches[batchID]
	if !ok {
		return BatchView{}, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}

	statuses := make([]JobStatus, 0, len(syncIDs))
	for _, id := range syncIDs {
		if job, ok := l.jobs[id]; ok {
			statuses = append(statuses, job.Status)
		}
	}

	return Aggregate(batchID, statuses), nil
}

// BatchJobs returns the batch's sync ids in submission order
func (l *JobLog) BatchJobs(batchID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	syncIDs, ok := l.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return append([]string(nil), syncIDs...), nil
}
