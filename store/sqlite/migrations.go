package sqlite

// migrations are applied in order and tracked by name in
// mailsync_migrations. Entries are append-only; never edit an applied
// migration, add a new one.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "001_jobs",
		sql: `
CREATE TABLE IF NOT EXISTS mailsync_jobs (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	mailbox_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 0,
	estimated_count INTEGER NOT NULL DEFAULT 0,
	total_chunks    INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMP,
	completed_at    TIMESTAMP,
	next_retry_at   TIMESTAMP,
	error_category  TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	metadata        TEXT,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mailsync_jobs_status
	ON mailsync_jobs (status, created_at);

CREATE INDEX IF NOT EXISTS idx_mailsync_jobs_tenant
	ON mailsync_jobs (tenant_id, status);
`,
	},
	{
		name: "002_chunks",
		sql: `
CREATE TABLE IF NOT EXISTS mailsync_chunks (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL REFERENCES mailsync_jobs(id) ON DELETE CASCADE,
	tenant_id        TEXT NOT NULL,
	chunk_number     INTEGER NOT NULL,
	total_chunks     INTEGER NOT NULL DEFAULT 0,
	size             INTEGER NOT NULL DEFAULT 0,
	priority         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 0,
	worker_id        TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMP,
	completed_at     TIMESTAMP,
	next_retry_at    TIMESTAMP,
	checkpoint       BLOB,
	emails_processed INTEGER NOT NULL DEFAULT 0,
	emails_failed    INTEGER NOT NULL DEFAULT 0,
	duration_ns      INTEGER NOT NULL DEFAULT 0,
	error_category   TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	UNIQUE (job_id, chunk_number)
);

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_claim
	ON mailsync_chunks (status, chunk_number, created_at);

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_job
	ON mailsync_chunks (job_id, chunk_number);

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_tenant
	ON mailsync_chunks (tenant_id, status);
`,
	},
	{
		name: "003_protection",
		sql: `
CREATE TABLE IF NOT EXISTS mailsync_protection (
	tenant_id             TEXT NOT NULL,
	operation             TEXT NOT NULL,
	minute_count          INTEGER NOT NULL DEFAULT 0,
	hour_count            INTEGER NOT NULL DEFAULT 0,
	day_count             INTEGER NOT NULL DEFAULT 0,
	minute_start          TIMESTAMP NOT NULL,
	hour_start            TIMESTAMP NOT NULL,
	day_start             TIMESTAMP NOT NULL,
	throttled_until       TIMESTAMP,
	breaker               TEXT NOT NULL DEFAULT 'closed',
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	consecutive_successes INTEGER NOT NULL DEFAULT 0,
	reopen_after          TIMESTAMP,
	total_calls           INTEGER NOT NULL DEFAULT 0,
	total_failures        INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMP NOT NULL,
	updated_at            TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, operation)
);
`,
	},
	{
		name: "004_dlq",
		sql: `
CREATE TABLE IF NOT EXISTS mailsync_dlq (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	chunk_id       TEXT NOT NULL DEFAULT '',
	tenant_id      TEXT NOT NULL,
	mailbox_id     TEXT NOT NULL,
	error_category TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 0,
	snapshot       BLOB,
	failed_at      TIMESTAMP NOT NULL,
	replayed_at    TIMESTAMP,
	created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mailsync_dlq_tenant
	ON mailsync_dlq (tenant_id, created_at DESC);
`,
	},
	{
		name: "005_audit",
		sql: `
CREATE TABLE IF NOT EXISTS mailsync_audit (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT 'info',
	resource    TEXT NOT NULL,
	resource_id TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mailsync_audit_action
	ON mailsync_audit (action, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_mailsync_audit_tenant
	ON mailsync_audit (tenant_id, created_at DESC);
`,
	},
}
