package syncjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopmesh/syncd/internal/classify"
)

// stage is one step of the fixed sync pipeline
type stage struct {
	name string
	call func(c TargetClient, ctx context.Context, item Item, target string) error
}

// pipeline is the fixed, named stage sequence every job runs through.
// Each stage transition appends exactly one event; the terminal event is
// appended once by MarkTerminal.
var pipeline = []stage{
	{"fetch/validate data", func(c TargetClient, ctx context.Context, item Item, target string) error {
		return c.Validate(ctx, item, target)
	}},
	{"transform pricing", func(c TargetClient, ctx context.Context, item Item, target string) error {
		return c.TransformPricing(ctx, item, target)
	}},
	{"upload to platform", func(c TargetClient, ctx context.Context, item Item, target string) error {
		return c.Upload(ctx, item, target)
	}},
}

// Coordinator drives every job of a batch to a terminal state. Jobs run with
// bounded concurrency and an inter-launch delay so a large batch does not
// hammer the marketplace; a failing job never aborts its siblings.
type Coordinator struct {
	config  Config
	target  TargetClient
	catalog CatalogStore
	log     *JobLog
	logger  *slog.Logger

	// release frees the dispatcher's per-(item,target) in-flight guard
	release func(itemID, target string)

	wg sync.WaitGroup
}

// NewCoordinator wires a coordinator over the shared job log
func NewCoordinator(cfg Config, target TargetClient, catalog CatalogStore, log *JobLog, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		config:  cfg,
		target:  target,
		catalog: catalog,
		log:     log,
		logger:  logger,
		release: func(string, string) {},
	}
}

// Wait blocks until every launched job has reached a terminal state
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RunBatch executes all jobs of a batch asynchronously and returns
// immediately. Pairs of (syncID, item) arrive in submission order.
func (c *Coordinator) RunBatch(batchID string, syncIDs []string, items []Item, target string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		sem := make(chan struct{}, c.config.MaxConcurrency)
		var jobs sync.WaitGroup

		for i, syncID := range syncIDs {
			if i > 0 && c.config.InterCallDelay > 0 {
				time.Sleep(c.config.InterCallDelay)
			}

			sem <- struct{}{}
			jobs.Add(1)
			go func(syncID string, item Item) {
				defer jobs.Done()
				defer func() { <-sem }()
				c.runJob(batchID, syncID, item, target)
			}(syncID, items[i])
		}

		jobs.Wait()

		view, err := c.log.BatchView(batchID)
		if err == nil {
			c.logger.Info("batch finished",
				"batch_id", batchID,
				"status", string(view.Status),
				"completed", view.Completed,
				"failed", view.Failed)
		}
	}()
}

// RunSingle executes one already-running job asynchronously
func (c *Coordinator) RunSingle(syncID string, item Item, target string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runJob("", syncID, item, target)
	}()
}

// runJob walks the stage pipeline for one job. Every exit path lands in
// exactly one terminal write; panics are contained so a bad stage never
// takes down the process.
func (c *Coordinator) runJob(batchID, syncID string, item Item, target string) {
	defer c.release(item.ID, target)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job panic recovered",
				"sync_id", syncID,
				"panic", r)
			c.finish(syncID, item, target, false,
				classify.Class{Kind: classify.KindUnknown, Message: fmt.Sprintf("internal failure: %v", r)})
		}
	}()

	if batchID != "" && c.log.BatchCancelled(batchID) {
		c.log.MarkRunning(syncID)
		c.finish(syncID, item, target, false,
			classify.Class{Kind: classify.KindUnknown, Message: "batch cancelled before start"})
		return
	}

	c.log.MarkRunning(syncID)

	for _, st := range pipeline {
		// Cancellation is cooperative, observed only between stages
		if batchID != "" && c.log.BatchCancelled(batchID) {
			c.log.Append(syncID, EventWarning, "batch cancelled, stopping between stages", nil)
			c.finish(syncID, item, target, false,
				classify.Class{Kind: classify.KindUnknown, Message: "batch cancelled"})
			return
		}

		c.log.Append(syncID, EventInfo, "Stage: "+st.name, nil)

		if errClass, failed := c.runStage(st, syncID, item, target); failed {
			c.finish(syncID, item, target, false, errClass)
			return
		}
	}

	c.finish(syncID, item, target, true, classify.Class{})
}

// runStage executes one stage with a per-call timeout, retrying transient
// failures up to the configured limit. Returns the final classification and
// whether the stage ultimately failed.
func (c *Coordinator) runStage(st stage, syncID string, item Item, target string) (classify.Class, bool) {
	var errClass classify.Class

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.StageTimeout)
		err := st.call(c.target, ctx, item, target)
		cancel()

		if err == nil {
			return classify.Class{}, false
		}

		errClass = classify.Classify(err)
		if !errClass.Retryable || attempt >= c.config.MaxRetries {
			return errClass, true
		}

		backoff := c.config.RetryBackoff
		if errClass.Backoff {
			backoff *= time.Duration(attempt + 2)
		}

		c.log.Append(syncID, EventWarning,
			fmt.Sprintf("Retrying %s after %s error (attempt %d/%d)", st.name, errClass.Kind, attempt+1, c.config.MaxRetries),
			map[string]any{"error": errClass.Message})
		c.logger.Warn("retrying stage",
			"sync_id", syncID,
			"stage", st.name,
			"kind", string(errClass.Kind),
			"attempt", attempt+1)

		time.Sleep(backoff)
	}
}

// finish writes the job's terminal state once and mirrors the outcome onto
// the catalog's per-item sync status.
func (c *Coordinator) finish(syncID string, item Item, target string, success bool, errClass classify.Class) {
	if !c.log.MarkTerminal(syncID, success, errClass) {
		// Already terminal: a retried path raced us here, nothing to write
		return
	}

	status := JobSuccess
	if !success {
		status = JobError
		c.logger.Warn("sync job failed",
			"sync_id", syncID,
			"item_id", item.ID,
			"target", target,
			"kind", string(errClass.Kind),
			"error", errClass.Message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.StageTimeout)
	defer cancel()
	if err := c.catalog.UpdateSyncStatus(ctx, item.ID, target, status, errClass.Message); err != nil {
		c.logger.Error("failed to update catalog sync status",
			"item_id", item.ID,
			"target", target,
			"error", err)
	}
}
