package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/id"
)

const auditCols = `
	id, actor, action, severity, resource, resource_id,
	tenant_id, reason, metadata, created_at`

// AppendAudit persists an audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailsync_audit (
			id, actor, action, severity, resource, resource_id,
			tenant_id, reason, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)`,
		entry.ID.String(), entry.Actor, entry.Action, entry.Severity, entry.Resource, entry.ResourceID,
		entry.TenantID, entry.Reason, entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("mailsync/postgres: append audit: %w", err)
	}
	return nil
}

// ListAudit returns entries matching the options, newest first.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	query := `SELECT ` + auditCols + ` FROM mailsync_audit`
	var args []any
	var conds []string
	argIdx := 1

	if opts.TenantID != "" {
		conds = append(conds, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, opts.TenantID)
		argIdx++
	}
	if opts.Action != "" {
		conds = append(conds, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, opts.Action)
		argIdx++
	}
	if opts.ResourceID != "" {
		conds = append(conds, fmt.Sprintf("resource_id = $%d", argIdx))
		args = append(args, opts.ResourceID)
		argIdx++
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
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
		return nil, fmt.Errorf("mailsync/postgres: list audit: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			idStr string
		)
		err := rows.Scan(
			&idStr, &e.Actor, &e.Action, &e.Severity, &e.Resource, &e.ResourceID,
			&e.TenantID, &e.Reason, &e.Metadata, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: scan audit row: %w", err)
		}
		parsed, parseErr := id.ParseAuditID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("mailsync/postgres: parse audit id %q: %w", idStr, parseErr)
		}
		e.ID = parsed
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: iterate audit rows: %w", err)
	}
	return entries, nil
}

// PurgeAudit removes entries created before the cutoff.
func (s *Store) PurgeAudit(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mailsync_audit WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("mailsync/postgres: purge audit: %w", err)
	}
	return tag.RowsAffected(), nil
}
