package syncjob_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/syncd/internal/classify"
	"github.com/shopmesh/syncd/internal/syncjob"
	"github.com/shopmesh/syncd/internal/testutil"
)

func newTestLog(t *testing.T) (*syncjob.JobLog, *syncjob.StoreWriter, *testutil.MemorySyncStore, *testutil.MockClock) {
	t.Helper()

	store := testutil.NewMemorySyncStore()
	writer := syncjob.NewStoreWriter(store, 256, time.Second, testutil.DiscardLogger())
	writer.Start()

	clock := testutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return syncjob.NewJobLog(writer, clock), writer, store, clock
}

func queuedJob(syncID string) syncjob.Job {
	return syncjob.Job{
		SyncID:   syncID,
		ItemID:   "item-1",
		Target:   "shopee",
		TenantID: "tenant-1",
		Status:   syncjob.JobQueued,
	}
}

func TestJobLogEventOrderRoundTrip(t *testing.T) {
	log, writer, store, clock := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	log.MarkRunning("sync-1")

	messages := []string{"Stage: fetch/validate data", "Stage: transform pricing", "Stage: upload to platform"}
	for _, msg := range messages {
		clock.Advance(time.Second)
		require.NoError(t, log.Append("sync-1", syncjob.EventInfo, msg, nil))
	}
	log.MarkTerminal("sync-1", true, classify.Class{})

	view, err := log.JobView("sync-1")
	require.NoError(t, err)
	require.Len(t, view.Events, len(messages)+1)
	for i, msg := range messages {
		assert.Equal(t, msg, view.Events[i].Message)
	}
	assert.Equal(t, syncjob.EventSuccess, view.Events[len(messages)].Type)

	// Timestamps never decrease in insertion order
	for i := 1; i < len(view.Events); i++ {
		assert.False(t, view.Events[i].Timestamp.Before(view.Events[i-1].Timestamp))
	}

	// The persisted history matches the in-memory order
	writer.Shutdown()
	persisted := store.Events("sync-1")
	require.Len(t, persisted, len(view.Events))
	for i := range persisted {
		assert.Equal(t, view.Events[i].Message, persisted[i].Message)
	}
}

func TestJobLogAppendUnknownJob(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	err := log.Append("nope", syncjob.EventInfo, "hello", nil)
	assert.ErrorIs(t, err, syncjob.ErrNotFound)
}

func TestJobLogTerminalJobsAreImmutable(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	log.MarkRunning("sync-1")
	require.True(t, log.MarkTerminal("sync-1", true, classify.Class{}))

	err := log.Append("sync-1", syncjob.EventInfo, "late event", nil)
	assert.Error(t, err)

	view, verr := log.JobView("sync-1")
	require.NoError(t, verr)
	assert.Len(t, view.Events, 1)
}

func TestJobLogMarkRunningOnlyFromQueued(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	assert.True(t, log.MarkRunning("sync-1"))
	assert.False(t, log.MarkRunning("sync-1"))
	assert.False(t, log.MarkRunning("unknown"))
}

func TestJobLogAtMostOneTerminalWrite(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	log.MarkRunning("sync-1")

	errClass := classify.Classify(errors.New("429 too many requests"))
	require.True(t, log.MarkTerminal("sync-1", false, errClass))
	assert.False(t, log.MarkTerminal("sync-1", true, classify.Class{}))
	assert.False(t, log.MarkTerminal("sync-1", false, errClass))

	view, err := log.JobView("sync-1")
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobError, view.Status)
	require.Len(t, view.Events, 1)

	terminal := view.Events[0]
	assert.Equal(t, syncjob.EventError, terminal.Type)
	assert.Equal(t, string(classify.KindRateLimit), terminal.Detail["error_kind"])
	assert.Equal(t, "retryable, backoff", terminal.Detail["retry_hint"])
	require.NotNil(t, view.CompletedAt)
}

func TestJobLogViewIsASnapshot(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	log.MarkRunning("sync-1")
	require.NoError(t, log.Append("sync-1", syncjob.EventInfo, "first", nil))

	view, err := log.JobView("sync-1")
	require.NoError(t, err)
	view.Events[0].Message = "tampered"

	again, err := log.JobView("sync-1")
	require.NoError(t, err)
	assert.Equal(t, "first", again.Events[0].Message)
}

func TestJobLogBatchViewAggregates(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	syncIDs := make([]string, 3)
	for i := range syncIDs {
		syncIDs[i] = fmt.Sprintf("sync-%d", i+1)
		log.CreateJob(queuedJob(syncIDs[i]))
	}
	log.CreateBatch("batch-1", syncIDs)

	for _, id := range syncIDs {
		log.MarkRunning(id)
	}
	log.MarkTerminal("sync-1", true, classify.Class{})
	log.MarkTerminal("sync-2", true, classify.Class{})
	log.MarkTerminal("sync-3", false, classify.Classify(errors.New("price rejected")))

	view, err := log.BatchView("batch-1")
	require.NoError(t, err)
	assert.Equal(t, syncjob.BatchMixed, view.Status)
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, 1, view.Failed)
	assert.Equal(t, 100, view.Percentage)

	// Identical snapshot when nothing changed in between
	again, err := log.BatchView("batch-1")
	require.NoError(t, err)
	assert.Equal(t, view, again)

	_, err = log.BatchView("unknown")
	assert.ErrorIs(t, err, syncjob.ErrNotFound)
}

func TestJobLogCancelBatch(t *testing.T) {
	log, _, _, _ := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	log.CreateBatch("batch-1", []string{"sync-1"})

	assert.False(t, log.BatchCancelled("batch-1"))
	assert.True(t, log.CancelBatch("batch-1"))
	assert.True(t, log.BatchCancelled("batch-1"))
	assert.False(t, log.CancelBatch("unknown"))
}

func TestMarkTerminalFallbackMessagePersisted(t *testing.T) {
	log, writer, store, _ := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	require.True(t, log.MarkRunning("sync-1"))
	require.True(t, log.MarkTerminal("sync-1", false, classify.Class{Kind: classify.KindUnknown}))

	view, err := log.JobView("sync-1")
	require.NoError(t, err)
	assert.Equal(t, "Sync failed", view.Error)

	// The persisted row carries the same message the snapshot shows
	writer.Shutdown()
	stored, ok := store.Job("sync-1")
	require.True(t, ok)
	assert.Equal(t, view.Error, stored.ErrorMsg)
}

func TestCreateBatchPersistsClockTime(t *testing.T) {
	log, writer, store, clock := newTestLog(t)

	log.CreateJob(queuedJob("sync-1"))
	log.CreateJob(queuedJob("sync-2"))
	log.CreateBatch("batch-1", []string{"sync-1", "sync-2"})
	writer.Shutdown()

	created, ok := store.BatchCreatedAt("batch-1")
	require.True(t, ok)
	assert.True(t, clock.Now().Equal(created))
}

func TestStoreWriterFlushOnShutdown(t *testing.T) {
	log, writer, store, _ := newTestLog(t)

	for i := 0; i < 20; i++ {
		log.CreateJob(queuedJob(fmt.Sprintf("sync-%d", i)))
	}
	writer.Shutdown()

	assert.Equal(t, 20, store.CountJobs())
	stats := writer.Stats()
	assert.Equal(t, int64(20), stats.Written)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, 0, stats.Depth)
}

func TestStoreWriterCountsFailures(t *testing.T) {
	store := testutil.NewMemorySyncStore()
	store.SetWriteError(errors.New("disk full"))

	writer := syncjob.NewStoreWriter(store, 16, time.Second, testutil.DiscardLogger())
	writer.Start()

	clock := testutil.NewMockClock(time.Now())
	log := syncjob.NewJobLog(writer, clock)
	log.CreateJob(queuedJob("sync-1"))
	writer.Shutdown()

	assert.Equal(t, int64(1), writer.Stats().Failed)
}
