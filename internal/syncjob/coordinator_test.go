package syncjob_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/syncd/internal/syncjob"
	"github.com/shopmesh/syncd/internal/testutil"
)

// panicTarget blows up in the transform stage
type panicTarget struct {
	testutil.MockTarget
}

func (p *panicTarget) TransformPricing(context.Context, syncjob.Item, string) error {
	panic("pricing model corrupted")
}

func TestCoordinatorContainsStagePanics(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)

	d, _ := newTestDispatcher(t, testConfig(), catalog, &panicTarget{})

	syncID, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)
	d.Shutdown()

	view, err := d.GetJobStatus(syncID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.JobError, view.Status)
	assert.Contains(t, view.Error, "internal failure")
}

func TestCoordinatorReleasesGuardAfterFailure(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	catalog.SeedItems("tenant-1", 1)
	target := testutil.NewMockTarget()
	target.FailWith("item-1", "validate", assert.AnError)

	d, _ := newTestDispatcher(t, testConfig(), catalog, target)

	syncID, err := d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
	require.NoError(t, err)

	// Wait for the failed job to release its (item, target) guard
	deadline := time.Now().Add(2 * time.Second)
	for {
		view, verr := d.GetJobStatus(syncID)
		require.NoError(t, verr)
		if view.Status.Terminal() {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never reached terminal state")
		time.Sleep(5 * time.Millisecond)
	}

	// Terminal status alone is not enough, the deferred release may still
	// be in flight
	var resubmitted string
	for time.Now().Before(deadline) {
		resubmitted, err = d.SubmitSingle(context.Background(), "tenant-1", "item-1", "shopee")
		if err == nil {
			break
		}
		require.ErrorIs(t, err, syncjob.ErrDuplicateSubmission)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NotEmpty(t, resubmitted)

	d.Shutdown()
}

func TestCoordinatorBoundsConcurrency(t *testing.T) {
	catalog := testutil.NewMockCatalog()
	ids := catalog.SeedItems("tenant-1", 8)
	target := testutil.NewMockTarget()
	target.SetDelay(20 * time.Millisecond)

	cfg := testConfig()
	cfg.MaxConcurrency = 2
	d, _ := newTestDispatcher(t, cfg, catalog, target)

	start := time.Now()
	_, err := d.SubmitBatch(context.Background(), "tenant-1", ids, "shopee")
	require.NoError(t, err)
	d.Shutdown()
	elapsed := time.Since(start)

	// 8 jobs of ~60ms each at concurrency 2 cannot finish as fast as a
	// fully parallel run would
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)

	// Every stage call happened exactly once per item
	assert.Len(t, target.Calls(), 8*3)
}
