package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("mailsync/postgres: begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO mailsync_jobs (
			id, tenant_id, mailbox_id, kind, priority, status,
			attempts, max_attempts, estimated_count, total_chunks,
			started_at, completed_at, next_retry_at,
			error_category, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18
		)`,
		j.ID.String(), j.TenantID, j.MailboxID, string(j.Kind), j.Priority, string(j.Status),
		j.Attempts, j.MaxAttempts, j.EstimatedCount, j.TotalChunks,
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
		string(j.ErrorCategory), j.ErrorMessage, j.Metadata,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return mailsync.ErrJobAlreadyExists
		}
		return fmt.Errorf("mailsync/postgres: create job: %w", err)
	}

	for _, c := range chunks {
		_, err = tx.Exec(ctx, `
			INSERT INTO mailsync_chunks (
				id, job_id, tenant_id, chunk_number, total_chunks, size, priority,
				status, attempts, max_attempts, worker_id,
				started_at, completed_at, next_retry_at, checkpoint,
				emails_processed, emails_failed, duration_ns,
				error_category, error_message, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11,
				$12, $13, $14, $15,
				$16, $17, $18,
				$19, $20, $21, $22
			)`,
			c.ID.String(), c.JobID.String(), c.TenantID, c.ChunkNumber, c.TotalChunks, c.Size, c.Priority,
			string(c.Status), c.Attempts, c.MaxAttempts, workerStr(c.WorkerID),
			c.StartedAt, c.CompletedAt, c.NextRetryAt, c.Checkpoint,
			c.EmailsProcessed, c.EmailsFailed, c.Duration.Nanoseconds(),
			string(c.ErrorCategory), c.ErrorMessage, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("mailsync/postgres: create chunk %d: %w", c.ChunkNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("mailsync/postgres: commit create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*syncjob.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM mailsync_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mailsync.ErrJobNotFound
		}
		return nil, fmt.Errorf("mailsync/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *syncjob.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailsync_jobs SET
			tenant_id = $2, mailbox_id = $3, kind = $4, priority = $5,
			status = $6, attempts = $7, max_attempts = $8,
			estimated_count = $9, total_chunks = $10,
			started_at = $11, completed_at = $12, next_retry_at = $13,
			error_category = $14, error_message = $15, metadata = $16,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.TenantID, j.MailboxID, string(j.Kind), j.Priority,
		string(j.Status), j.Attempts, j.MaxAttempts,
		j.EstimatedCount, j.TotalChunks,
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
		string(j.ErrorCategory), j.ErrorMessage, j.Metadata,
	)
	if err != nil {
		return fmt.Errorf("mailsync/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mailsync.ErrJobNotFound
	}
	return nil
}

// TransitionJob conditionally swaps the job status. An empty from list
// transitions unconditionally.
func (s *Store) TransitionJob(ctx context.Context, jobID id.JobID, to syncjob.Status, from ...syncjob.Status) (bool, error) {
	var tag pgconn.CommandTag
	var err error

	if len(from) == 0 {
		tag, err = s.pool.Exec(ctx,
			`UPDATE mailsync_jobs SET status = $2, updated_at = NOW() WHERE id = $1`,
			jobID.String(), string(to),
		)
	} else {
		states := make([]string, len(from))
		for i, f := range from {
			states[i] = string(f)
		}
		tag, err = s.pool.Exec(ctx,
			`UPDATE mailsync_jobs SET status = $2, updated_at = NOW()
			 WHERE id = $1 AND status = ANY($3)`,
			jobID.String(), string(to), states,
		)
	}
	if err != nil {
		return false, fmt.Errorf("mailsync/postgres: transition job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Not swapped: distinguish missing from wrong status.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM mailsync_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("mailsync/postgres: transition job: %w", err)
	}
	if !exists {
		return false, mailsync.ErrJobNotFound
	}
	return false, nil
}

// ListJobsByStatus returns jobs in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status syncjob.Status, opts syncjob.ListOpts) ([]*syncjob.Job, error) {
	query := `SELECT ` + jobCols + ` FROM mailsync_jobs WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the job count per status.
func (s *Store) CountJobs(ctx context.Context) (map[syncjob.Status]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM mailsync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[syncjob.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("mailsync/postgres: scan job count: %w", err)
		}
		counts[syncjob.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: iterate job counts: %w", err)
	}
	return counts, nil
}

// PurgeTerminalJobs removes terminal jobs older than the cutoff; their
// chunks go with them via the FK cascade.
func (s *Store) PurgeTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mailsync_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, updated_at) < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("mailsync/postgres: purge terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*syncjob.Job, error) {
	var (
		j           syncjob.Job
		idStr       string
		kindStr     string
		statusStr   string
		categoryStr string
	)
	err := row.Scan(
		&idStr, &j.TenantID, &j.MailboxID, &kindStr, &j.Priority, &statusStr,
		&j.Attempts, &j.MaxAttempts, &j.EstimatedCount, &j.TotalChunks,
		&j.StartedAt, &j.CompletedAt, &j.NextRetryAt,
		&categoryStr, &j.ErrorMessage, &j.Metadata,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = syncjob.Kind(kindStr)
	j.Status = syncjob.Status(statusStr)
	j.ErrorCategory = fault.Category(categoryStr)

	parsed, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsed
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*syncjob.Job, error) {
	var jobs []*syncjob.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func workerStr(w id.WorkerID) string {
	if w.IsNil() {
		return ""
	}
	return w.String()
}
