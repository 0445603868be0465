package syncjob_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/syncd/internal/syncjob"
	"github.com/shopmesh/syncd/internal/testutil"
)

func testConfig() syncjob.Config {
	cfg := syncjob.DefaultConfig()
	cfg.InterCallDelay = 0
	cfg.StageTimeout = 500 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestDispatcher(t *testing.T, cfg syncjob.Config, catalog *testutil.MockCatalog, target syncjob.TargetClient) (*syncjob.Dispatcher, *testutil.MemorySyncStore) {
	t.Helper()

	store := testutil.NewMemorySyncStore()
	d, err := syncjob.NewDispatcher(cfg, catalog, target, store, nil, testutil.DiscardLogger())
	require.NoError(t, err)
	d.Start()
	return d, store
}

func TestSubmitSingleSuccess(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	target := testutil.NewMockTarget()
	d, store := newTestDispatcher(t, testConfig(), catalog, target)

	syncID, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)
	require.NotEmpty(t, syncID)

	d.Shutdown()

	view, err := d.GetJobStatus(syncID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobSuccess, view.Status)
	require.NotNil(t, view.CompletedAt)

	// First event announces the sync, last one closes it
	require.NotEmpty(t, view.Events)
	assert.Equal(t, "Starting sync of item-1 to shopee", view.Events[0].Message)
	assert.Equal(t, syncjob.EventSuccess, view.Events[len(view.Events)-1].Type)

	// All three stages ran, in pipeline order
	assert.Equal(t, []string{"validate", "transform", "upload"}, target.CallsFor("item-1"))

	// Outcome mirrored onto the catalog and flushed to the store
	updates := catalog.StatusUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, syncjob.JobSuccess, updates[0].Status)

	stored, ok := store.Job(syncID)
	require.True(t, ok)
	assert.Equal(t, syncjob.JobSuccess, stored.Status)
}

func TestSubmitSingleUnownedItem(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	d, store := newTestDispatcher(t, testConfig(), catalog, testutil.NewMockTarget())

	_, err := d.SubmitSingle(context.Background(), "tenant-2", "item-1", "shopee")
	assert.ErrorIs(t, err, syncjob.ErrOwnership)

	d.Shutdown()
	assert.Equal(t, 0, store.CountJobs())
}

func TestSubmitBatchEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(), testutil.NewMockCatalog(), testutil.NewMockTarget())
	defer d.Shutdown()

	_, err := d.SubmitBatch(context.Background(), "tenant-1", nil, "shopee")
	assert.ErrorIs(t, err, syncjob.ErrEmptyBatch)
}

func TestSubmitBatchTooLargePersistsNothing(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	ids := catalog.SeedItems("tenant-1", 51)
	d, store := newTestDispatcher(t, testConfig(), catalog, testutil.NewMockTarget())

	_, err := d.SubmitBatch(context.Background(), "tenant-1", ids, "shopee")
	assert.ErrorIs(t, err, syncjob.ErrBatchTooLarge)

	d.Shutdown()
	assert.Equal(t, 0, store.CountJobs())
	assert.Equal(t, 0, store.CountBatches())
}

func TestSubmitBatchOwnershipIsAllOrNothing(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	ids := catalog.SeedItems("tenant-1", 2)
	catalog.AddItem(syncjob.Item{ID: "foreign-1", TenantID: "tenant-2"})

	d, store := newTestDispatcher(t, testConfig(), catalog, testutil.NewMockTarget())

	_, err := d.SubmitBatch(context.Background(), "tenant-1", append(ids, "foreign-1"), "shopee")
	assert.ErrorIs(t, err, syncjob.ErrOwnership)

	// The rejected batch must not leave guards behind: the owned items
	// are still submittable.
	sub, err := d.SubmitBatch(context.Background(), "tenant-1", ids, "shopee")
	require.NoError(t, err)
	assert.Len(t, sub.SyncIDs, 2)

	d.Shutdown()
	assert.Equal(t, 2, store.CountJobs())
	assert.Equal(t, 1, store.CountBatches())
}

func TestBatchRunsToQuiescence(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	ids := catalog.SeedItems("tenant-1", 10)
	target := testutil.NewMockTarget()
	target.FailWith("item-3", "upload", errors.New("listing rejected: invalid price"))

	d, _ := newTestDispatcher(t, testConfig(), catalog, target)

	sub, err := d.SubmitBatch(context.Background(), "tenant-1", ids, "shopee")
	require.NoError(t, err)

	d.Shutdown()

	view, err := d.GetBatchStatus(sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 10, view.Total)
	assert.Equal(t, 9, view.Completed)
	assert.Equal(t, 1, view.Failed)
	assert.Equal(t, view.Total, view.Completed+view.Failed)
	assert.Equal(t, 100, view.Percentage)
	assert.Equal(t, syncjob.BatchMixed, view.Status)

	// Polling is idempotent once the batch is quiescent
	again, err := d.GetBatchStatus(sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, view, again)

	// The failing job carries the classified error, its siblings are clean
	for _, syncID := range sub.SyncIDs {
		jv, jerr := d.GetJobStatus(syncID)
		require.NoError(t, jerr)
		if jv.ItemID == "item-3" {
			assert.Equal(t, syncjob.JobError, jv.Status)
			assert.Contains(t, jv.Error, "invalid price")
		} else {
			assert.Equal(t, syncjob.JobSuccess, jv.Status)
		}
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	target := testutil.NewMockTarget()
	target.SetDelay(100 * time.Millisecond)

	d, _ := newTestDispatcher(t, testConfig(), catalog, target)

	_, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)

	// Same (item, target) while the first sync is in flight
	_, err = d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	assert.ErrorIs(t, err, syncjob.ErrDuplicateSubmission)

	// A different target for the same item is fine
	_, err = d.SubmitSingle(context.Background(), "tenant-1", "item-1", "lazada")
	require.NoError(t, err)

	d.Shutdown()
}

func TestSubmitScheduledChunksBySize(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 95)
	d, store := newTestDispatcher(t, testConfig(), catalog, testutil.NewMockTarget())

	batchIDs, err := d.SubmitScheduled(context.Background(), "tenant-1", "store-1", "shopee", 0)
	require.NoError(t, err)
	assert.Len(t, batchIDs, 2) // clamped to the 50-item maximum

	d.Shutdown()
	assert.Equal(t, 95, store.CountJobs())
	assert.Equal(t, 2, store.CountBatches())
}

func TestSubmitScheduledEmptyStore(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(), testutil.NewMockCatalog(), testutil.NewMockTarget())
	defer d.Shutdown()

	batchIDs, err := d.SubmitScheduled(context.Background(), "tenant-1", "store-1", "shopee", 10)
	require.NoError(t, err)
	assert.Empty(t, batchIDs)
}

func TestCancelBatchStopsRemainingJobs(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	ids := catalog.SeedItems("tenant-1", 6)
	target := testutil.NewMockTarget()
	target.SetDelay(30 * time.Millisecond)

	cfg := testConfig()
	cfg.MaxConcurrency = 1
	d, _ := newTestDispatcher(t, cfg, catalog, target)

	sub, err := d.SubmitBatch(context.Background(), "tenant-1", ids, "shopee")
	require.NoError(t, err)
	require.True(t, d.CancelBatch(sub.BatchID))
	assert.False(t, d.CancelBatch("unknown"))

	d.Shutdown()

	// Every job still reaches a terminal state; cancelled ones fail
	view, err := d.GetBatchStatus(sub.BatchID)
	require.NoError(t, err)
	assert.Equal(t, view.Total, view.Completed+view.Failed)
	assert.Equal(t, 100, view.Percentage)
	assert.Positive(t, view.Failed)
}

func TestTransientFailureIsRetried(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	target := testutil.NewMockTarget()
	target.FailWith("item-1", "upload", errors.New("429 too many requests"))

	d, _ := newTestDispatcher(t, testConfig(), catalog, target)

	syncID, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)
	d.Shutdown()

	view, err := d.GetJobStatus(syncID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobSuccess, view.Status)

	// One failed attempt plus the successful retry
	assert.Equal(t, []string{"validate", "transform", "upload", "upload"}, target.CallsFor("item-1"))

	var retried bool
	for _, ev := range view.Events {
		if ev.Type == syncjob.EventWarning {
			retried = true
		}
	}
	assert.True(t, retried, "expected a retry warning event")
}

func TestNonRetryableFailureFailsFast(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	target := testutil.NewMockTarget()
	target.FailWith("item-1", "validate", errors.New("permission denied for shop"))

	d, _ := newTestDispatcher(t, testConfig(), catalog, target)

	syncID, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)
	d.Shutdown()

	view, err := d.GetJobStatus(syncID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobError, view.Status)
	assert.Contains(t, view.Error, "permission denied")

	// No retry, no later stages
	assert.Equal(t, []string{"validate"}, target.CallsFor("item-1"))

	updates := catalog.StatusUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, syncjob.JobError, updates[0].Status)
}

func TestRetriesExhaustTheBudget(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	target := testutil.NewMockTarget()
	// More transient failures than MaxRetries allows
	target.FailWith("item-1", "upload",
		errors.New("request timed out"),
		errors.New("request timed out"),
		errors.New("request timed out"))

	cfg := testConfig()
	cfg.MaxRetries = 2
	d, _ := newTestDispatcher(t, cfg, catalog, target)

	syncID, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)
	d.Shutdown()

	view, err := d.GetJobStatus(syncID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobError, view.Status)
	assert.Equal(t, []string{"validate", "transform", "upload", "upload", "upload"}, target.CallsFor("item-1"))
}

func TestSubmitBatchRejectsRepeatedItems(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 2)
	target := testutil.NewMockTarget()
	d, store := newTestDispatcher(t, testConfig(), catalog, target)

	sub, err := d.SubmitBatch(context.Background(), "tenant-1",
		[]string{"item-1", "item-1", "item-2"}, "shopee")
	require.Error(t, err)
	assert.ErrorIs(t, err, syncjob.ErrDuplicateSubmission)
	assert.Nil(t, sub)
	assert.Equal(t, 0, store.CountJobs())
	assert.Equal(t, 0, store.CountBatches())
	assert.Empty(t, target.Calls())

	// The rejection left no in-flight guard behind
	sub, err = d.SubmitBatch(context.Background(), "tenant-1",
		[]string{"item-1", "item-2"}, "shopee")
	require.NoError(t, err)
	require.Len(t, sub.SyncIDs, 2)
	d.Shutdown()

	assert.Equal(t, 2, store.CountJobs())
	assert.Equal(t, 1, store.CountBatches())
	assert.Equal(t, []string{"validate", "transform", "upload"}, target.CallsFor("item-1"))
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 0

	_, err := syncjob.NewDispatcher(cfg, testutil.NewMockCatalog(), testutil.NewMockTarget(),
		testutil.NewMemorySyncStore(), nil, testutil.DiscardLogger())
	assert.Error(t, err)
}

func TestGetStatusUnknownIDs(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(), testutil.NewMockCatalog(), testutil.NewMockTarget())
	defer d.Shutdown()

	_, err := d.GetJobStatus("nope")
	assert.ErrorIs(t, err, syncjob.ErrNotFound)

	_, err = d.GetBatchStatus(fmt.Sprintf("batch-%d", 42))
	assert.ErrorIs(t, err, syncjob.ErrNotFound)
}
