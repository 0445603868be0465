package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopmesh/syncd/internal/classify"
	"github.com/shopmesh/syncd/internal/syncjob"
)

// SyncStore persists sync jobs, batches and event histories. It satisfies
// syncjob.Store; writes arrive through the write-behind writer, the read
// methods back audit and history queries.
type SyncStore struct {
	db *DB
}

// NewSyncStore wraps the database for sync persistence
func NewSyncStore(db *DB) *SyncStore {
	return &SyncStore{db: db}
}

// InsertJob stores a new sync job row. Events carried on the job are
// persisted too, preserving their order.
func (s *SyncStore) InsertJob(job syncjob.Job) error {
	return s.db.WithTransaction(func(tx *Tx) error {
		query := `
			INSERT INTO sync_jobs (sync_id, item_id, target, tenant_id, status,
				error_kind, error_msg, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			job.SyncID, job.ItemID, job.Target, job.TenantID, string(job.Status),
			string(job.ErrorKind), job.ErrorMsg, job.StartedAt,
			nullableTime(job.CompletedAt),
		)
		if err != nil {
			return err
		}

		for _, ev := range job.Events {
			if err := insertEvent(tx, job.SyncID, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertBatch stores the batch row and links its jobs in submission order
func (s *SyncStore) InsertBatch(batchID string, syncIDs []string, createdAt time.Time) error {
	return s.db.WithTransaction(func(tx *Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO sync_batches (id, created_at) VALUES (?, ?)`,
			batchID, createdAt,
		); err != nil {
			return err
		}

		for pos, syncID := range syncIDs {
			if _, err := tx.Exec(
				`UPDATE sync_jobs SET batch_id = ?, batch_pos = ? WHERE sync_id = ?`,
				batchID, pos, syncID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendEvent stores one history event
func (s *SyncStore) AppendEvent(syncID string, ev syncjob.Event) error {
	return s.db.WithTransaction(func(tx *Tx) error {
		return insertEvent(tx, syncID, ev)
	})
}

// UpdateJobStatus updates a job's status and terminal fields
func (s *SyncStore) UpdateJobStatus(syncID string, status syncjob.JobStatus, errKind, errMsg string, completedAt *time.Time) error {
	result, err := s.db.Exec(`
		UPDATE sync_jobs
		SET status = ?, error_kind = ?, error_msg = ?, completed_at = ?
		WHERE sync_id = ?
	`, string(status), errKind, errMsg, nullableTime(completedAt), syncID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func insertEvent(tx *Tx, syncID string, ev syncjob.Event) error {
	var detail any
	if len(ev.Detail) > 0 {
		raw, err := json.Marshal(ev.Detail)
		if err != nil {
			return err
		}
		detail = string(raw)
	}

	_, err := tx.Exec(`
		INSERT INTO sync_events (sync_id, ts, event_type, message, detail)
		VALUES (?, ?, ?, ?, ?)
	`, syncID, ev.Timestamp, string(ev.Type), ev.Message, detail)
	return err
}

// GetJob retrieves one persisted sync job with its full event history
func (s *SyncStore) GetJob(syncID string) (*syncjob.Job, error) {
	var (
		job         syncjob.Job
		status      string
		errKind     string
		completedAt sql.NullTime
	)

	err := s.db.QueryRow(`
		SELECT sync_id, item_id, target, tenant_id, status, error_kind,
		       error_msg, started_at, completed_at
		FROM sync_jobs
		WHERE sync_id = ?
	`, syncID).Scan(
		&job.SyncID, &job.ItemID, &job.Target, &job.TenantID, &status,
		&errKind, &job.ErrorMsg, &job.StartedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Status = syncjob.JobStatus(status)
	job.ErrorKind = classify.Kind(errKind)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	events, err := s.GetEvents(syncID)
	if err != nil {
		return nil, err
	}
	job.Events = events

	return &job, nil
}

// GetEvents retrieves a job's event history in insertion order
func (s *SyncStore) GetEvents(syncID string) ([]syncjob.Event, error) {
	rows, err := s.db.Query(`
		SELECT ts, event_type, message, detail
		FROM sync_events
		WHERE sync_id = ?
		ORDER BY id ASC
	`, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []syncjob.Event
	for rows.Next() {
		var (
			ev     syncjob.Event
			typ    string
			detail sql.NullString
		)
		if err := rows.Scan(&ev.Timestamp, &typ, &ev.Message, &detail); err != nil {
			return nil, err
		}
		ev.Type = syncjob.EventType(typ)
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &ev.Detail); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetBatchJobs retrieves a batch's jobs in submission order
func (s *SyncStore) GetBatchJobs(batchID string) ([]syncjob.Job, error) {
	rows, err := s.db.Query(`
		SELECT sync_id FROM sync_jobs
		WHERE batch_id = ?
		ORDER BY batch_pos ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var syncIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		syncIDs = append(syncIDs, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(syncIDs) == 0 {
		return nil, ErrNotFound
	}

	jobs := make([]syncjob.Job, 0, len(syncIDs))
	for _, id := range syncIDs {
		job, err := s.GetJob(id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}
