package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

const chunkCols = `
	id, job_id, tenant_id, chunk_number, total_chunks, size, priority,
	status, attempts, max_attempts, worker_id,
	started_at, completed_at, next_retry_at, checkpoint,
	emails_processed, emails_failed, duration_ns,
	error_category, error_message, created_at, updated_at`

// ClaimChunk atomically claims the next runnable chunk for a worker.
// Runnable means pending or retrying, under the attempt budget, past its
// retry delay, with a parent that is pending or processing (deferred
// chunked jobs are held back), and with the tenant under its parallel
// cap. Returns (nil, nil) when nothing is claimable.
func (s *Store) ClaimChunk(ctx context.Context, opts syncjob.ClaimOpts) (*syncjob.Chunk, error) {
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT c.id
			FROM mailsync_chunks c
			JOIN mailsync_jobs j ON j.id = c.job_id
			WHERE c.status IN ('pending', 'retrying')
			  AND c.attempts < c.max_attempts
			  AND (c.next_retry_at IS NULL OR c.next_retry_at <= NOW())
			  AND j.status IN ('pending', 'processing')
			  AND ($2::INT <= 0 OR (
				SELECT COUNT(*) FROM mailsync_chunks p
				WHERE p.tenant_id = c.tenant_id AND p.status = 'processing'
			  ) < $2)
			ORDER BY j.priority DESC, c.chunk_number ASC, c.created_at ASC
			FOR UPDATE OF c SKIP LOCKED
			LIMIT 1
		)
		UPDATE mailsync_chunks AS c SET
			status = 'processing',
			attempts = c.attempts + 1,
			worker_id = $1,
			started_at = NOW(),
			next_retry_at = NULL,
			updated_at = NOW()
		FROM next
		WHERE c.id = next.id
		RETURNING `+prefixCols("c", chunkCols),
		workerStr(opts.WorkerID), opts.TenantParallelLimit,
	)
	c, err := scanChunk(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailsync/postgres: claim chunk: %w", err)
	}
	return c, nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, chunkID id.ChunkID) (*syncjob.Chunk, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+chunkCols+` FROM mailsync_chunks WHERE id = $1`,
		chunkID.String(),
	)
	c, err := scanChunk(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mailsync.ErrChunkNotFound
		}
		return nil, fmt.Errorf("mailsync/postgres: get chunk: %w", err)
	}
	return c, nil
}

// UpdateChunk persists changes to an existing chunk.
func (s *Store) UpdateChunk(ctx context.Context, c *syncjob.Chunk) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailsync_chunks SET
			status = $2, attempts = $3, max_attempts = $4, worker_id = $5,
			started_at = $6, completed_at = $7, next_retry_at = $8,
			checkpoint = $9, emails_processed = $10, emails_failed = $11,
			duration_ns = $12, error_category = $13, error_message = $14,
			updated_at = NOW()
		WHERE id = $1`,
		c.ID.String(),
		string(c.Status), c.Attempts, c.MaxAttempts, workerStr(c.WorkerID),
		c.StartedAt, c.CompletedAt, c.NextRetryAt,
		c.Checkpoint, c.EmailsProcessed, c.EmailsFailed,
		c.Duration.Nanoseconds(), string(c.ErrorCategory), c.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("mailsync/postgres: update chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mailsync.ErrChunkNotFound
	}
	return nil
}

// ListChunksByJob returns all chunks of a job in partition order.
func (s *Store) ListChunksByJob(ctx context.Context, jobID id.JobID) ([]*syncjob.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+` FROM mailsync_chunks
		 WHERE job_id = $1 ORDER BY chunk_number ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: list chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// StuckChunks returns processing chunks whose claim started more than
// threshold ago, oldest claim first.
func (s *Store) StuckChunks(ctx context.Context, threshold time.Duration) ([]*syncjob.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+` FROM mailsync_chunks
		 WHERE status = 'processing' AND started_at < $1
		 ORDER BY started_at ASC`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: stuck chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// ReclaimChunk returns a stuck processing chunk to the claimable pool.
// The started_at guard keeps a sweeper from yanking a chunk that was
// re-claimed between listing and reclaiming.
func (s *Store) ReclaimChunk(ctx context.Context, chunkID id.ChunkID, startedBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailsync_chunks SET
			status = 'pending',
			worker_id = '',
			started_at = NULL,
			next_retry_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND started_at < $2`,
		chunkID.String(), startedBefore,
	)
	if err != nil {
		return false, fmt.Errorf("mailsync/postgres: reclaim chunk: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetChunk returns a chunk to pending, clearing its error state and,
// when resetAttempts is set, its attempt counter.
func (s *Store) ResetChunk(ctx context.Context, chunkID id.ChunkID, resetAttempts bool) error {
	query := `
		UPDATE mailsync_chunks SET
			status = 'pending',
			worker_id = '',
			started_at = NULL,
			completed_at = NULL,
			next_retry_at = NULL,
			error_category = '',
			error_message = '',
			updated_at = NOW()`
	if resetAttempts {
		query += `, attempts = 0`
	}
	query += ` WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, chunkID.String())
	if err != nil {
		return fmt.Errorf("mailsync/postgres: reset chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mailsync.ErrChunkNotFound
	}
	return nil
}

// ResetChunksByJob resets every non-completed chunk of a job and returns
// how many were reset.
func (s *Store) ResetChunksByJob(ctx context.Context, jobID id.JobID, resetAttempts bool) (int64, error) {
	query := `
		UPDATE mailsync_chunks SET
			status = 'pending',
			worker_id = '',
			started_at = NULL,
			completed_at = NULL,
			next_retry_at = NULL,
			error_category = '',
			error_message = '',
			updated_at = NOW()`
	if resetAttempts {
		query += `, attempts = 0`
	}
	query += ` WHERE job_id = $1 AND status != 'completed'`

	tag, err := s.pool.Exec(ctx, query, jobID.String())
	if err != nil {
		return 0, fmt.Errorf("mailsync/postgres: reset chunks by job: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanChunk(row pgx.Row) (*syncjob.Chunk, error) {
	var (
		c           syncjob.Chunk
		idStr       string
		jobIDStr    string
		workerIDStr string
		statusStr   string
		categoryStr string
		durationNS  int64
	)
	err := row.Scan(
		&idStr, &jobIDStr, &c.TenantID, &c.ChunkNumber, &c.TotalChunks, &c.Size, &c.Priority,
		&statusStr, &c.Attempts, &c.MaxAttempts, &workerIDStr,
		&c.StartedAt, &c.CompletedAt, &c.NextRetryAt, &c.Checkpoint,
		&c.EmailsProcessed, &c.EmailsFailed, &durationNS,
		&categoryStr, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = syncjob.ChunkStatus(statusStr)
	c.ErrorCategory = fault.Category(categoryStr)
	c.Duration = time.Duration(durationNS)

	parsed, parseErr := id.ParseChunkID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/postgres: parse chunk id %q: %w", idStr, parseErr)
	}
	c.ID = parsed

	jobID, parseErr := id.ParseJobID(jobIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/postgres: parse job id %q: %w", jobIDStr, parseErr)
	}
	c.JobID = jobID

	if workerIDStr != "" {
		workerID, parseErr := id.ParseWorkerID(workerIDStr)
		if parseErr != nil {
			return nil, fmt.Errorf("mailsync/postgres: parse worker id %q: %w", workerIDStr, parseErr)
		}
		c.WorkerID = workerID
	}
	return &c, nil
}

// prefixCols qualifies every column in a comma-separated list with a
// table alias, for RETURNING clauses where bare names would be ambiguous.
func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func collectChunks(rows pgx.Rows) ([]*syncjob.Chunk, error) {
	var chunks []*syncjob.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: iterate chunk rows: %w", err)
	}
	return chunks, nil
}
