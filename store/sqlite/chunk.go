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

const chunkCols = `
	id, job_id, tenant_id, chunk_number, total_chunks, size, priority,
	status, attempts, max_attempts, worker_id,
	started_at, completed_at, next_retry_at, checkpoint,
	emails_processed, emails_failed, duration_ns,
	error_category, error_message, created_at, updated_at`

// claimRetries bounds the candidate/CAS loop when workers race for the
// same chunk.
const claimRetries = 5

// ClaimChunk claims the next runnable chunk for a worker using
// optimistic compare-and-swap: select a candidate, then update it
// guarded on it still being claimable. Returns (nil, nil) when nothing
// is claimable.
func (s *Store) ClaimChunk(ctx context.Context, opts syncjob.ClaimOpts) (*syncjob.Chunk, error) {
	for i := 0; i < claimRetries; i++ {
		now := time.Now().UTC()

		var chunkID string
		err := s.db.QueryRowContext(ctx, `
			SELECT c.id
			FROM mailsync_chunks c
			JOIN mailsync_jobs j ON j.id = c.job_id
			WHERE c.status IN ('pending', 'retrying')
			  AND c.attempts < c.max_attempts
			  AND (c.next_retry_at IS NULL OR c.next_retry_at <= ?)
			  AND j.status IN ('pending', 'processing')
			  AND (? <= 0 OR (
				SELECT COUNT(*) FROM mailsync_chunks p
				WHERE p.tenant_id = c.tenant_id AND p.status = 'processing'
			  ) < ?)
			ORDER BY j.priority DESC, c.chunk_number ASC, c.created_at ASC
			LIMIT 1`,
			now, opts.TenantParallelLimit, opts.TenantParallelLimit,
		).Scan(&chunkID)
		if isNoRows(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: select claim candidate: %w", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE mailsync_chunks SET
				status = 'processing',
				attempts = attempts + 1,
				worker_id = ?,
				started_at = ?,
				next_retry_at = NULL,
				updated_at = ?
			WHERE id = ? AND status IN ('pending', 'retrying') AND attempts < max_attempts`,
			workerStr(opts.WorkerID), now, now, chunkID,
		)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: claim chunk: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another worker won the candidate; try the next one.
			continue
		}

		parsed, err := id.ParseChunkID(chunkID)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: parse chunk id %q: %w", chunkID, err)
		}
		return s.GetChunk(ctx, parsed)
	}
	return nil, nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, chunkID id.ChunkID) (*syncjob.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkCols+` FROM mailsync_chunks WHERE id = ?`,
		chunkID.String(),
	)
	c, err := scanChunk(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mailsync.ErrChunkNotFound
		}
		return nil, fmt.Errorf("mailsync/sqlite: get chunk: %w", err)
	}
	return c, nil
}

// UpdateChunk persists changes to an existing chunk.
func (s *Store) UpdateChunk(ctx context.Context, c *syncjob.Chunk) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mailsync_chunks SET
			status = ?, attempts = ?, max_attempts = ?, worker_id = ?,
			started_at = ?, completed_at = ?, next_retry_at = ?,
			checkpoint = ?, emails_processed = ?, emails_failed = ?,
			duration_ns = ?, error_category = ?, error_message = ?,
			updated_at = ?
		WHERE id = ?`,
		string(c.Status), c.Attempts, c.MaxAttempts, workerStr(c.WorkerID),
		c.StartedAt, c.CompletedAt, c.NextRetryAt,
		c.Checkpoint, c.EmailsProcessed, c.EmailsFailed,
		c.Duration.Nanoseconds(), string(c.ErrorCategory), c.ErrorMessage,
		time.Now().UTC(), c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("mailsync/sqlite: update chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mailsync.ErrChunkNotFound
	}
	return nil
}

// ListChunksByJob returns all chunks of a job in partition order.
func (s *Store) ListChunksByJob(ctx context.Context, jobID id.JobID) ([]*syncjob.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkCols+` FROM mailsync_chunks
		 WHERE job_id = ? ORDER BY chunk_number ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: list chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// StuckChunks returns processing chunks whose claim started more than
// threshold ago, oldest claim first.
func (s *Store) StuckChunks(ctx context.Context, threshold time.Duration) ([]*syncjob.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkCols+` FROM mailsync_chunks
		 WHERE status = 'processing' AND started_at < ?
		 ORDER BY started_at ASC`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: stuck chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// ReclaimChunk returns a stuck processing chunk to the claimable pool.
// The started_at guard keeps a sweeper from yanking a chunk that was
// re-claimed between listing and reclaiming.
func (s *Store) ReclaimChunk(ctx context.Context, chunkID id.ChunkID, startedBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mailsync_chunks SET
			status = 'pending',
			worker_id = '',
			started_at = NULL,
			next_retry_at = NULL,
			updated_at = ?
		WHERE id = ? AND status = 'processing' AND started_at < ?`,
		time.Now().UTC(), chunkID.String(), startedBefore,
	)
	if err != nil {
		return false, fmt.Errorf("mailsync/sqlite: reclaim chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mailsync/sqlite: reclaim chunk: %w", err)
	}
	return n > 0, nil
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
			updated_at = ?`
	if resetAttempts {
		query += `, attempts = 0`
	}
	query += ` WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), chunkID.String())
	if err != nil {
		return fmt.Errorf("mailsync/sqlite: reset chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
			updated_at = ?`
	if resetAttempts {
		query += `, attempts = 0`
	}
	query += ` WHERE job_id = ? AND status != 'completed'`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), jobID.String())
	if err != nil {
		return 0, fmt.Errorf("mailsync/sqlite: reset chunks by job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mailsync/sqlite: reset chunks by job: %w", err)
	}
	return n, nil
}

func scanChunk(row rowScanner) (*syncjob.Chunk, error) {
	var (
		c           syncjob.Chunk
		idStr       string
		jobIDStr    string
		workerIDStr string
		statusStr   string
		categoryStr string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		nextRetryAt sql.NullTime
		durationNS  int64
	)
	err := row.Scan(
		&idStr, &jobIDStr, &c.TenantID, &c.ChunkNumber, &c.TotalChunks, &c.Size, &c.Priority,
		&statusStr, &c.Attempts, &c.MaxAttempts, &workerIDStr,
		&startedAt, &completedAt, &nextRetryAt, &c.Checkpoint,
		&c.EmailsProcessed, &c.EmailsFailed, &durationNS,
		&categoryStr, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = syncjob.ChunkStatus(statusStr)
	c.ErrorCategory = fault.Category(categoryStr)
	c.StartedAt = timePtr(startedAt)
	c.CompletedAt = timePtr(completedAt)
	c.NextRetryAt = timePtr(nextRetryAt)
	c.Duration = time.Duration(durationNS)

	parsed, parseErr := id.ParseChunkID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/sqlite: parse chunk id %q: %w", idStr, parseErr)
	}
	c.ID = parsed

	jobID, parseErr := id.ParseJobID(jobIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/sqlite: parse job id %q: %w", jobIDStr, parseErr)
	}
	c.JobID = jobID

	if workerIDStr != "" {
		workerID, parseErr := id.ParseWorkerID(workerIDStr)
		if parseErr != nil {
			return nil, fmt.Errorf("mailsync/sqlite: parse worker id %q: %w", workerIDStr, parseErr)
		}
		c.WorkerID = workerID
	}
	return &c, nil
}

func collectChunks(rows *sql.Rows) ([]*syncjob.Chunk, error) {
	var chunks []*syncjob.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: iterate chunk rows: %w", err)
	}
	return chunks, nil
}
