package db

// schemaDDL bootstraps the full schema. Every statement is idempotent so
// EnsureSchema can run on every startup.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS schedules (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	tenant_id       TEXT NOT NULL,
	store_id        TEXT NOT NULL DEFAULT '',
	target          TEXT NOT NULL DEFAULT '',
	job_type        TEXT NOT NULL,
	cron_expr       TEXT NOT NULL,
	enabled         INTEGER NOT NULL DEFAULT 1,
	batch_size      INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 0,
	priority        INTEGER NOT NULL DEFAULT 0,
	conflict_policy TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	last_run_at     TIMESTAMP,
	next_run_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_tenant ON schedules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);

CREATE TABLE IF NOT EXISTS catalog_items (
	id        TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	store_id  TEXT NOT NULL DEFAULT '',
	sku       TEXT NOT NULL DEFAULT '',
	title     TEXT NOT NULL DEFAULT '',
	price     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_catalog_items_tenant ON catalog_items(tenant_id, store_id);

CREATE TABLE IF NOT EXISTS item_sync_status (
	item_id    TEXT NOT NULL,
	target     TEXT NOT NULL,
	status     TEXT NOT NULL,
	error_msg  TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (item_id, target)
);

CREATE TABLE IF NOT EXISTS sync_batches (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_jobs (
	sync_id      TEXT PRIMARY KEY,
	batch_id     TEXT REFERENCES sync_batches(id),
	batch_pos    INTEGER NOT NULL DEFAULT 0,
	item_id      TEXT NOT NULL,
	target       TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	error_msg    TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_jobs_batch ON sync_jobs(batch_id);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_tenant ON sync_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_item ON sync_jobs(item_id, target);

CREATE TABLE IF NOT EXISTS sync_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_id    TEXT NOT NULL,
	ts         TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	message    TEXT NOT NULL,
	detail     TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_events_sync ON sync_events(sync_id, id);
`

// EnsureSchema creates any missing tables and indexes
func (db *DB) EnsureSchema() error {
	_, err := db.Exec(schemaDDL)
	return err
}
