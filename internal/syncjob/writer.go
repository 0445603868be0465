package syncjob

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// opKind identifies the persistence operation carried by a storeOp
type opKind int

const (
	opInsertJob opKind = iota
	opInsertBatch
	opAppendEvent
	opUpdateStatus
)

// storeOp is one buffered persistence write
type storeOp struct {
	kind        opKind
	job         Job
	batchID     string
	syncIDs     []string
	syncID      string
	event       Event
	status      JobStatus
	errKind     string
	errMsg      string
	completedAt *time.Time
	createdAt   time.Time
}

// StoreWriter applies job/batch/event writes to the Store from a background
// goroutine, keeping persistence latency out of the dispatch and stage paths.
// A full channel drops the write and counts it rather than stalling execution;
// the in-memory JobLog remains the source of truth for status reads.
type StoreWriter struct {
	store   Store
	ch      chan storeOp
	timeout time.Duration
	logger  *slog.Logger

	dropped  int64
	written  int64
	failed   int64
	shutdown sync.Once
	wg       sync.WaitGroup
}

// WriterStats reports StoreWriter counters
type WriterStats struct {
	Written int64
	Failed  int64
	Dropped int64
	Depth   int
}

// NewStoreWriter creates a writer with the given channel capacity and
// per-enqueue timeout. Start must be called before any enqueue.
func NewStoreWriter(store Store, capacity int, timeout time.Duration, logger *slog.Logger) *StoreWriter {
	return &StoreWriter{
		store:   store,
		ch:      make(chan storeOp, capacity),
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the background write goroutine
func (w *StoreWriter) Start() {
	w.wg.Add(1)
	go w.run()
}

// Shutdown flushes: it closes the channel and waits for the goroutine to
// drain every buffered op. Producers must have stopped first.
func (w *StoreWriter) Shutdown() {
	w.shutdown.Do(func() {
		close(w.ch)
	})
	w.wg.Wait()
}

// Stats returns a copy of the current counters
func (w *StoreWriter) Stats() WriterStats {
	return WriterStats{
		Written: atomic.LoadInt64(&w.written),
		Failed:  atomic.LoadInt64(&w.failed),
		Dropped: atomic.LoadInt64(&w.dropped),
		Depth:   len(w.ch),
	}
}

func (w *StoreWriter) enqueue(op storeOp) {
	select {
	case w.ch <- op:
	case <-time.After(w.timeout):
		atomic.AddInt64(&w.dropped, 1)
		w.logger.Warn("store writer backlogged, dropping write",
			"sync_id", op.syncID,
			"batch_id", op.batchID,
			"depth", len(w.ch))
	}
}

// run drains the channel until it is closed and empty
func (w *StoreWriter) run() {
	defer w.wg.Done()

	for op := range w.ch {
		var err error
		switch op.kind {
		case opInsertJob:
			err = w.store.InsertJob(op.job)
		case opInsertBatch:
			err = w.store.InsertBatch(op.batchID, op.syncIDs, op.createdAt)
		case opAppendEvent:
			err = w.store.AppendEvent(op.syncID, op.event)
		case opUpdateStatus:
			err = w.store.UpdateJobStatus(op.syncID, op.status, op.errKind, op.errMsg, op.completedAt)
		}

		if err != nil {
			atomic.AddInt64(&w.failed, 1)
			w.logger.Error("store write failed",
				"sync_id", op.syncID,
				"batch_id", op.batchID,
				"error", err)
		} else {
			atomic.AddInt64(&w.written, 1)
		}
	}

	w.logger.Debug("store writer drained")
}
