package syncjob

import (
	"context"
	"time"
)

// Item is the catalog view of one sellable product/listing
type Item struct {
	ID       string
	TenantID string
	SKU      string
	Title    string
	Price    int64 // minor currency units
}

// CatalogStore is the catalog/mapping collaborator. Implementations live
// outside this core; tests use the in-memory mock from testutil.
type CatalogStore interface {
	// LookupOwned resolves itemIDs for a tenant. It fails with an
	// ownership error if any id does not belong to the tenant; on success
	// the returned items are in itemIDs order.
	LookupOwned(ctx context.Context, tenantID string, itemIDs []string) ([]Item, error)

	// ListItems returns every syncable item for a tenant's store,
	// used by scheduled full syncs.
	ListItems(ctx context.Context, tenantID, storeID string) ([]Item, error)

	// UpdateSyncStatus records an item's latest sync outcome for a target.
	// Must be atomic per record.
	UpdateSyncStatus(ctx context.Context, itemID, target string, status JobStatus, errMsg string) error
}

// TargetClient performs the marketplace-facing stage calls. One method per
// pipeline stage; each call must honor ctx so stage timeouts bound latency.
type TargetClient interface {
	// Validate checks the item data against the target's listing rules
	Validate(ctx context.Context, item Item, target string) error

	// TransformPricing converts the item's pricing into the target's model
	TransformPricing(ctx context.Context, item Item, target string) error

	// Upload pushes the prepared listing to the target platform
	Upload(ctx context.Context, item Item, target string) error
}

// Store is the persistence collaborator for jobs, batches and events.
// Writes arrive through the write-behind StoreWriter; reads for polling
// clients come from the in-memory JobLog, not from here.
type Store interface {
	InsertJob(job Job) error
	InsertBatch(batchID string, syncIDs []string, createdAt time.Time) error
	AppendEvent(syncID string, ev Event) error
	UpdateJobStatus(syncID string, status JobStatus, errKind, errMsg string, completedAt *time.Time) error
}

// Clock abstracts the time source so event timestamps are testable
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock time source
func SystemClock() Clock { return systemClock{} }
