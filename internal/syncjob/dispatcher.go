package syncjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config defines dispatcher and coordinator tuning
type Config struct {
	// Largest number of items accepted in one batch submission
	MaxBatchSize int `toml:"max_batch_size"`

	// Concurrent jobs per batch
	MaxConcurrency int `toml:"max_concurrency"`

	// Delay between job launches within a batch (marketplace rate limits)
	InterCallDelay time.Duration `toml:"inter_call_delay"`

	// Timeout around each marketplace stage call
	StageTimeout time.Duration `toml:"stage_timeout"`

	// Retries per stage for transient (retryable) failures
	MaxRetries int `toml:"max_retries"`

	// Base delay before a stage retry
	RetryBackoff time.Duration `toml:"retry_backoff"`

	// Store writer channel capacity and enqueue timeout
	WriterBuffer  int           `toml:"writer_buffer"`
	WriterTimeout time.Duration `toml:"writer_timeout"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   50,
		MaxConcurrency: 4,
		InterCallDelay: 250 * time.Millisecond,
		StageTimeout:   30 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   time.Second,
		WriterBuffer:   4096,
		WriterTimeout:  2 * time.Second,
	}
}

func validateConfig(cfg Config) error {
	if cfg.MaxBatchSize <= 0 {
		return fmt.Errorf("MaxBatchSize must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.MaxConcurrency <= 0 {
		return fmt.Errorf("MaxConcurrency must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.StageTimeout <= 0 {
		return fmt.Errorf("StageTimeout must be positive, got %v", cfg.StageTimeout)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.WriterBuffer <= 0 {
		return fmt.Errorf("WriterBuffer must be positive, got %d", cfg.WriterBuffer)
	}
	if cfg.WriterTimeout <= 0 {
		return fmt.Errorf("WriterTimeout must be positive, got %v", cfg.WriterTimeout)
	}
	return nil
}

// Dispatcher validates and creates sync submissions, then hands execution to
// the Coordinator. Submission validation is all-or-nothing: a rejected
// request persists nothing.
type Dispatcher struct {
	config  Config
	catalog CatalogStore
	clock   Clock
	logger  *slog.Logger

	writer *StoreWriter
	log    *JobLog
	coord  *Coordinator

	mu       sync.Mutex
	inflight map[string]string // "itemID|target" → syncID
}

// NewDispatcher builds the dispatcher, its job log, write-behind store
// writer, and batch coordinator.
func NewDispatcher(cfg Config, catalog CatalogStore, target TargetClient, store Store, clock Clock, logger *slog.Logger) (*Dispatcher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}

	writer := NewStoreWriter(store, cfg.WriterBuffer, cfg.WriterTimeout, logger)
	log := NewJobLog(writer, clock)

	d := &Dispatcher{
		config:   cfg,
		catalog:  catalog,
		clock:    clock,
		logger:   logger,
		writer:   writer,
		log:      log,
		coord:    NewCoordinator(cfg, target, catalog, log, logger),
		inflight: make(map[string]string),
	}
	d.coord.release = d.releaseInflight

	return d, nil
}

// Start launches the background store writer
func (d *Dispatcher) Start() {
	d.writer.Start()
}

// Shutdown waits for in-flight jobs to reach terminal state, then drains
// the store writer.
func (d *Dispatcher) Shutdown() {
	d.coord.Wait()
	d.writer.Shutdown()
}

// SubmitSingle creates and starts one sync job for an owned item. The job is
// created already running, with its starting event appended, before this
// returns; execution continues asynchronously.
func (d *Dispatcher) SubmitSingle(ctx context.Context, tenantID, itemID, target string) (string, error) {
	items, err := d.catalog.LookupOwned(ctx, tenantID, []string{itemID})
	if err != nil {
		return "", fmt.Errorf("submit single: %w", err)
	}
	if len(items) != 1 {
		return "", fmt.Errorf("submit single: item %s: %w", itemID, ErrOwnership)
	}
	item := items[0]

	syncID := uuid.New().String()
	if err := d.acquireInflight(map[string]string{inflightKey(itemID, target): syncID}); err != nil {
		return "", err
	}

	now := d.clock.Now()
	d.log.CreateJob(Job{
		SyncID:    syncID,
		ItemID:    itemID,
		Target:    target,
		TenantID:  tenantID,
		Status:    JobRunning,
		StartedAt: now,
		Events: []Event{{
			Timestamp: now,
			Type:      EventInfo,
			Message:   fmt.Sprintf("Starting sync of %s to %s", itemID, target),
		}},
	})

	d.logger.Info("sync job submitted",
		"sync_id", syncID,
		"item_id", itemID,
		"target", target)

	d.coord.RunSingle(syncID, item, target)
	return syncID, nil
}

// SubmitBatch creates one batch of individually tracked jobs. Every item
// must belong to the tenant, checked as a single precondition before any
// job is created, so a failed batch persists nothing.
func (d *Dispatcher) SubmitBatch(ctx context.Context, tenantID string, itemIDs []string, target string) (*Submission, error) {
	if len(itemIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(itemIDs) > d.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d items, maximum %d", ErrBatchTooLarge, len(itemIDs), d.config.MaxBatchSize)
	}

	// A repeated item would collapse onto one in-flight guard key while
	// creating two racing jobs for the same (item, target).
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: item %s listed more than once in batch", ErrDuplicateSubmission, id)
		}
		seen[id] = struct{}{}
	}

	items, err := d.catalog.LookupOwned(ctx, tenantID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	if len(items) != len(itemIDs) {
		return nil, fmt.Errorf("submit batch: %d of %d items resolved: %w", len(items), len(itemIDs), ErrOwnership)
	}

	return d.startBatch(tenantID, items, target)
}

// SubmitScheduled runs a schedule's full-store sync: list the store's items
// and submit them in batches of batchSize. Used by the schedule registry.
func (d *Dispatcher) SubmitScheduled(ctx context.Context, tenantID, storeID, target string, batchSize int) ([]string, error) {
	items, err := d.catalog.ListItems(ctx, tenantID, storeID)
	if err != nil {
		return nil, fmt.Errorf("submit scheduled: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	if batchSize <= 0 || batchSize > d.config.MaxBatchSize {
		batchSize = d.config.MaxBatchSize
	}

	var batchIDs []string
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		sub, err := d.startBatch(tenantID, items[start:end], target)
		if err != nil {
			// Items already syncing are skipped, not a schedule failure
			d.logger.Warn("scheduled batch skipped",
				"tenant_id", tenantID,
				"store_id", storeID,
				"error", err)
			continue
		}
		batchIDs = append(batchIDs, sub.BatchID)
	}

	return batchIDs, nil
}

// startBatch creates the batch and its queued jobs, then hands off to the
// coordinator. Items are already ownership-checked.
func (d *Dispatcher) startBatch(tenantID string, items []Item, target string) (*Submission, error) {
	batchID := uuid.New().String()

	keys := make(map[string]string, len(items))
	syncIDs := make([]string, len(items))
	for i, item := range items {
		syncIDs[i] = uuid.New().String()
		keys[inflightKey(item.ID, target)] = syncIDs[i]
	}

	// All-or-nothing: a duplicate in-flight (item, target) rejects the
	// whole batch before anything is created.
	if err := d.acquireInflight(keys); err != nil {
		return nil, err
	}

	now := d.clock.Now()
	for i, item := range items {
		d.log.CreateJob(Job{
			SyncID:    syncIDs[i],
			ItemID:    item.ID,
			Target:    target,
			TenantID:  tenantID,
			Status:    JobQueued,
			StartedAt: now,
		})
	}
	d.log.CreateBatch(batchID, syncIDs)

	d.logger.Info("batch submitted",
		"batch_id", batchID,
		"jobs", len(items),
		"target", target)

	d.coord.RunBatch(batchID, syncIDs, items, target)

	return &Submission{BatchID: batchID, SyncIDs: syncIDs}, nil
}

// CancelBatch marks a batch cancelled; jobs observe the flag between stages
func (d *Dispatcher) CancelBatch(batchID string) bool {
	return d.log.CancelBatch(batchID)
}

// GetJobStatus returns the polling snapshot for one job
func (d *Dispatcher) GetJobStatus(syncID string) (JobView, error) {
	return d.log.JobView(syncID)
}

// GetBatchStatus returns the aggregate snapshot for one batch
func (d *Dispatcher) GetBatchStatus(batchID string) (BatchView, error) {
	return d.log.BatchView(batchID)
}

func inflightKey(itemID, target string) string {
	return itemID + "|" + target
}

// acquireInflight claims every key or none of them
func (d *Dispatcher) acquireInflight(keys map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key := range keys {
		if existing, ok := d.inflight[key]; ok {
			return fmt.Errorf("%w: %s held by sync %s", ErrDuplicateSubmission, key, existing)
		}
	}
	for key, syncID := range keys {
		d.inflight[key] = syncID
	}
	return nil
}

func (d *Dispatcher) releaseInflight(itemID, target string) {
	d.mu.Lock()
	delete(d.inflight, inflightKey(itemID, target))
	d.mu.Unlock()
}
