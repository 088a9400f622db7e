package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
)

const dlqCols = `
	id, job_id, chunk_id, tenant_id, mailbox_id,
	error_category, error_message, attempts, max_attempts,
	snapshot, failed_at, replayed_at, created_at`

// PushDLQ adds an entry to the dead-letter archive.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	chunkID := ""
	if !entry.ChunkID.IsNil() {
		chunkID = entry.ChunkID.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailsync_dlq (
			id, job_id, chunk_id, tenant_id, mailbox_id,
			error_category, error_message, attempts, max_attempts,
			snapshot, failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)`,
		entry.ID.String(), entry.JobID.String(), chunkID, entry.TenantID, entry.MailboxID,
		string(entry.ErrorCategory), entry.ErrorMessage, entry.Attempts, entry.MaxAttempts,
		entry.Snapshot, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("mailsync/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching the options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqCols + ` FROM mailsync_dlq`
	var args []any
	argIdx := 1

	if opts.TenantID != "" {
		query += fmt.Sprintf(" WHERE tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
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
		return nil, fmt.Errorf("mailsync/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: scan dlq row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqCols+` FROM mailsync_dlq WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, mailsync.ErrDLQNotFound
		}
		return nil, fmt.Errorf("mailsync/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mailsync_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("mailsync/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mailsync.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mailsync_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("mailsync/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the entry count, optionally per tenant.
func (s *Store) CountDLQ(ctx context.Context, tenantID string) (int64, error) {
	query := `SELECT COUNT(*) FROM mailsync_dlq`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("mailsync/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e           dlq.Entry
		idStr       string
		jobIDStr    string
		chunkIDStr  string
		categoryStr string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &chunkIDStr, &e.TenantID, &e.MailboxID,
		&categoryStr, &e.ErrorMessage, &e.Attempts, &e.MaxAttempts,
		&e.Snapshot, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ErrorCategory = fault.Category(categoryStr)

	parsed, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsed

	jobID, parseErr := id.ParseJobID(jobIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("mailsync/postgres: parse job id %q: %w", jobIDStr, parseErr)
	}
	e.JobID = jobID

	if chunkIDStr != "" {
		chunkID, parseErr := id.ParseChunkID(chunkIDStr)
		if parseErr != nil {
			return nil, fmt.Errorf("mailsync/postgres: parse chunk id %q: %w", chunkIDStr, parseErr)
		}
		e.ChunkID = chunkID
	}
	return &e, nil
}
