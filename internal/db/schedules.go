package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopmesh/syncd/internal/registry"
)

// ScheduleStore persists schedule configurations. It satisfies
// registry.ScheduleStore.
type ScheduleStore struct {
	db *DB
}

// NewScheduleStore wraps the database for schedule persistence
func NewScheduleStore(db *DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

const scheduleColumns = `
	id, name, tenant_id, store_id, target, job_type, cron_expr, enabled,
	batch_size, max_retries, priority, conflict_policy,
	created_at, updated_at, last_run_at, next_run_at
`

// Insert stores a new schedule
func (s *ScheduleStore) Insert(sc *registry.ScheduleConfig) error {
	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		sc.ID, sc.Name, sc.TenantID, sc.StoreID, sc.Target,
		string(sc.JobType), sc.CronExpr, sc.Enabled,
		sc.Options.BatchSize, sc.Options.MaxRetries, sc.Options.Priority,
		string(sc.Options.ConflictPolicy),
		sc.CreatedAt, sc.UpdatedAt, nullableTime(sc.LastRunAt), sc.NextRunAt,
	)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("schedule %s: %w", sc.ID, ErrDuplicate)
		}
		return err
	}
	return nil
}

// Update replaces a stored schedule
func (s *ScheduleStore) Update(sc *registry.ScheduleConfig) error {
	query := `
		UPDATE schedules
		SET name = ?, tenant_id = ?, store_id = ?, target = ?, job_type = ?,
		    cron_expr = ?, enabled = ?, batch_size = ?, max_retries = ?,
		    priority = ?, conflict_policy = ?, updated_at = ?,
		    last_run_at = ?, next_run_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		sc.Name, sc.TenantID, sc.StoreID, sc.Target, string(sc.JobType),
		sc.CronExpr, sc.Enabled, sc.Options.BatchSize, sc.Options.MaxRetries,
		sc.Options.Priority, string(sc.Options.ConflictPolicy), sc.UpdatedAt,
		nullableTime(sc.LastRunAt), sc.NextRunAt,
		sc.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// Get retrieves a schedule by id
func (s *ScheduleStore) Get(id string) (*registry.ScheduleConfig, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`
	return scanSchedule(s.db.QueryRow(query, id))
}

// Delete removes a schedule by id
func (s *ScheduleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// List retrieves all schedules, newest first
func (s *ScheduleStore) List() ([]*registry.ScheduleConfig, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []*registry.ScheduleConfig{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return schedules, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*registry.ScheduleConfig, error) {
	var (
		sc             registry.ScheduleConfig
		jobType        string
		conflictPolicy string
		lastRunAt      sql.NullTime
	)

	err := row.Scan(
		&sc.ID, &sc.Name, &sc.TenantID, &sc.StoreID, &sc.Target,
		&jobType, &sc.CronExpr, &sc.Enabled,
		&sc.Options.BatchSize, &sc.Options.MaxRetries, &sc.Options.Priority,
		&conflictPolicy,
		&sc.CreatedAt, &sc.UpdatedAt, &lastRunAt, &sc.NextRunAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sc.JobType = registry.JobType(jobType)
	sc.Options.ConflictPolicy = registry.ConflictPolicy(conflictPolicy)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		sc.LastRunAt = &t
	}
	return &sc, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
