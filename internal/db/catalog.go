package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopmesh/syncd/internal/syncjob"
)

// Catalog is the sqlite-backed catalog collaborator. It satisfies
// syncjob.CatalogStore.
type Catalog struct {
	db *DB
}

// NewCatalog wraps the database for catalog access
func NewCatalog(db *DB) *Catalog {
	return &Catalog{db: db}
}

// UpsertItem inserts or replaces one catalog item
func (c *Catalog) UpsertItem(item syncjob.Item, storeID string) error {
	_, err := c.db.Exec(`
		INSERT INTO catalog_items (id, tenant_id, store_id, sku, title, price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			store_id = excluded.store_id,
			sku = excluded.sku,
			title = excluded.title,
			price = excluded.price
	`, item.ID, item.TenantID, storeID, item.SKU, item.Title, item.Price)
	return err
}

// LookupOwned resolves itemIDs for a tenant. Items that do not exist or
// belong to another tenant are simply absent from the result; the caller
// treats a count mismatch as an ownership failure.
func (c *Catalog) LookupOwned(ctx context.Context, tenantID string, itemIDs []string) ([]syncjob.Item, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(itemIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(itemIDs)+1)
	args = append(args, tenantID)
	for _, id := range itemIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, sku, title, price
		FROM catalog_items
		WHERE tenant_id = ? AND id IN (%s)
	`, placeholders)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]syncjob.Item)
	for rows.Next() {
		var item syncjob.Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.SKU, &item.Title, &item.Price); err != nil {
			return nil, err
		}
		byID[item.ID] = item
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the requested order
	items := make([]syncjob.Item, 0, len(byID))
	for _, id := range itemIDs {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// ListItems returns every item of a tenant's store
func (c *Catalog) ListItems(ctx context.Context, tenantID, storeID string) ([]syncjob.Item, error) {
	query := `
		SELECT id, tenant_id, sku, title, price
		FROM catalog_items
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if storeID != "" {
		query += ` AND store_id = ?`
		args = append(args, storeID)
	}
	query += ` ORDER BY id ASC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []syncjob.Item
	for rows.Next() {
		var item syncjob.Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.SKU, &item.Title, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// UpdateSyncStatus records an item's latest sync outcome for a target.
// One row per (item, target), replaced atomically.
func (c *Catalog) UpdateSyncStatus(ctx context.Context, itemID, target string, status syncjob.JobStatus, errMsg string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO item_sync_status (item_id, target, status, error_msg, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id, target) DO UPDATE SET
			status = excluded.status,
			error_msg = excluded.error_msg,
			updated_at = excluded.updated_at
	`, itemID, target, string(status), errMsg, time.Now().UTC())
	return err
}

// SyncStatus reads back an item's recorded outcome for a target
func (c *Catalog) SyncStatus(ctx context.Context, itemID, target string) (syncjob.JobStatus, string, error) {
	var (
		status string
		errMsg string
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT status, error_msg FROM item_sync_status
		WHERE item_id = ? AND target = ?
	`, itemID, target).Scan(&status, &errMsg)
	if err != nil {
		if IsNotFound(err) {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	return syncjob.JobStatus(status), errMsg, nil
}
