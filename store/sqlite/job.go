package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

const jobCols = `
	id, tenant_id, mailbox_id, kind, priority, status,
	attempts, max_attempts, estimated_count, total_chunks,
	started_at, completed_at, next_retry_at,
	error_category, error_message, metadata,
	created_at, updated_at`

// CreateJob persists a job and its chunk partition in one transaction.
func (s *Store) CreateJob(ctx context.Context, j *syncjob.Job, chunks []*syncjob.Chunk) error {
	meta, err := encodeMeta(j.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mailsync/sqlite: begin create job: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mailsync_jobs (
			id, tenant_id, mailbox_id, kind, priority, status,
			attempts, max_attempts, estimated_count, total_chunks,
			started_at, completed_at, next_retry_at,
			error_category, error_message, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.TenantID, j.MailboxID, string(j.Kind), j.Priority, string(j.Status),
		j.Attempts, j.MaxAttempts, j.EstimatedCount, j.TotalChunks,
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
		string(j.ErrorCategory), j.ErrorMessage, meta,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return mailsync.ErrJobAlreadyExists
		}
		return fmt.Errorf("mailsync/sqlite: create job: %w", err)
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mailsync_chunks (
				id, job_id, tenant_id, chunk_number, total_chunks, size, priority,
				status, attempts, max_attempts, worker_id,
				started_at, completed_at, next_retry_at, checkpoint,
				emails_processed, emails_failed, duration_ns,
				error_category, error_message, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), c.JobID.String(), c.TenantID, c.ChunkNumber, c.TotalChunks, c.Size, c.Priority,
			string(c.Status), c.Attempts, c.MaxAttempts, workerStr(c.WorkerID),
			c.StartedAt, c.CompletedAt, c.NextRetryAt, c.Checkpoint,
			c.EmailsProcessed, c.EmailsFailed, c.Duration.Nanoseconds(),
			string(c.ErrorCategory), c.ErrorMessage, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("mailsync/sqlite: create chunk %d: %w", c.ChunkNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mailsync/sqlite: commit create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*syncjob.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM mailsync_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mailsync.ErrJobNotFound
		}
		return nil, fmt.Errorf("mailsync/sqlite: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *syncjob.Job) error {
	meta, err := encodeMeta(j.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE mailsync_jobs SET
			tenant_id = ?, mailbox_id = ?, kind = ?, priority = ?,
			status = ?, attempts = ?, max_attempts = ?,
			estimated_count = ?, total_chunks = ?,
			started_at = ?, completed_at = ?, next_retry_at = ?,
			error_category = ?, error_message = ?, metadata = ?,
			updated_at = ?
		WHERE id = ?`,
		j.TenantID, j.MailboxID, string(j.Kind), j.Priority,
		string(j.Status), j.Attempts, j.MaxAttempts,
		j.EstimatedCount, j.TotalChunks,
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
		string(j.ErrorCategory), j.ErrorMessage, meta,
		time.Now().UTC(), j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("mailsync/sqlite: update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mailsync.ErrJobNotFound
	}
	return nil
}

// TransitionJob conditionally swaps the job status. An empty from list
// transitions unconditionally.
func (s *Store) TransitionJob(ctx context.Context, jobID id.JobID, to syncjob.Status, from ...syncjob.Status) (bool, error) {
	query := `UPDATE mailsync_jobs SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(to), time.Now().UTC(), jobID.String()}

	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(f))
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mailsync/sqlite: transition job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM mailsync_jobs WHERE id = ?)`,
		jobID.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("mailsync/sqlite: transition job: %w", err)
	}
	if !exists {
		return false, mailsync.ErrJobNotFound
	}
	return false, nil
}

// ListJobsByStatus returns jobs in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status syncjob.Status, opts syncjob.ListOpts) ([]*syncjob.Job, error) {
	query := `SELECT ` + jobCols + ` FROM mailsync_jobs WHERE status = ?`
	args := []any{string(status)}

	if opts.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, opts.TenantID)
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*syncjob.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the job count per status.
func (s *Store) CountJobs(ctx context.Context) (map[syncjob.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM mailsync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[syncjob.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: scan job count: %w", err)
		}
		counts[syncjob.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: iterate job counts: %w", err)
	}
	return counts, nil
}

// PurgeTerminalJobs removes terminal jobs older than the cutoff; their
// chunks go with them via the FK cascade.
func (s *Store) PurgeTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM mailsync_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, updated_at) < ?`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("mailsync/sqlite: purge terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mailsync/sqlite: purge terminal jobs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*syncjob.Job, error) {
	var (
		j           syncjob.Job
		idStr       string
		kindStr     string
		statusStr   string
		categoryStr string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		nextRetryAt sql.NullTime
		meta        sql.NullString
	)
	err := row.Scan(
		&idStr, &j.TenantID, &j.MailboxID, &kindStr, &j.Priority, &statusStr,
		&j.Attempts, &j.MaxAttempts, &j.EstimatedCount, &j.TotalChunks,
		&startedAt, &completedAt, &nextRetryAt,
		&categoryStr, &j.ErrorMessage, &meta,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = syncjob.Kind(kindStr)
	j.Status = syncjob.Status(statusStr)
	j.ErrorCategory = fault.Category(categoryStr)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.NextRetryAt = timePtr(nextRetryAt)

	if j.Metadata, err = decodeMeta(meta); err != nil {
		return nil, err
	}

	parsed, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/sqlite: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsed
	return &j, nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
