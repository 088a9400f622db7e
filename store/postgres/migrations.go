package postgres

// migrations are applied in slice order; each entry runs once and is
// recorded in mailsync_migrations.
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
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 3,
	estimated_count INTEGER NOT NULL DEFAULT 0,
	total_chunks    INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	next_retry_at   TIMESTAMPTZ,
	error_category  TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_mailsync_jobs_status
	ON mailsync_jobs (status, created_at ASC);

CREATE INDEX IF NOT EXISTS idx_mailsync_jobs_tenant
	ON mailsync_jobs (tenant_id, status);

CREATE INDEX IF NOT EXISTS idx_mailsync_jobs_mailbox
	ON mailsync_jobs (tenant_id, mailbox_id);
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
	total_chunks     INTEGER NOT NULL,
	size             INTEGER NOT NULL,
	priority         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 3,
	worker_id        TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	next_retry_at    TIMESTAMPTZ,
	checkpoint       BYTEA,
	emails_processed INTEGER NOT NULL DEFAULT 0,
	emails_failed    INTEGER NOT NULL DEFAULT 0,
	duration_ns      BIGINT NOT NULL DEFAULT 0,
	error_category   TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (job_id, chunk_number)
);

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_claim
	ON mailsync_chunks (chunk_number ASC, created_at ASC)
	WHERE status IN ('pending', 'retrying');

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_tenant_processing
	ON mailsync_chunks (tenant_id)
	WHERE status = 'processing';

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_job
	ON mailsync_chunks (job_id, chunk_number ASC);

CREATE INDEX IF NOT EXISTS idx_mailsync_chunks_stuck
	ON mailsync_chunks (started_at ASC)
	WHERE status = 'processing';
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
	minute_start          TIMESTAMPTZ NOT NULL,
	hour_start            TIMESTAMPTZ NOT NULL,
	day_start             TIMESTAMPTZ NOT NULL,
	throttled_until       TIMESTAMPTZ,
	breaker               TEXT NOT NULL DEFAULT 'closed',
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	consecutive_successes INTEGER NOT NULL DEFAULT 0,
	reopen_after          TIMESTAMPTZ,
	total_calls           BIGINT NOT NULL DEFAULT 0,
	total_failures        BIGINT NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
	snapshot       BYTEA,
	failed_at      TIMESTAMPTZ NOT NULL,
	replayed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_mailsync_dlq_tenant
	ON mailsync_dlq (tenant_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_mailsync_dlq_created
	ON mailsync_dlq (created_at DESC);
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
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_mailsync_audit_action
	ON mailsync_audit (action, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_mailsync_audit_tenant
	ON mailsync_audit (tenant_id, created_at DESC);
`,
	},
}
