package sqlite

import (
	"context"
	"database/sql"
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
	meta, err := encodeMeta(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mailsync_audit (
			id, actor, action, severity, resource, resource_id,
			tenant_id, reason, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Actor, entry.Action, entry.Severity, entry.Resource, entry.ResourceID,
		entry.TenantID, entry.Reason, meta, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("mailsync/sqlite: append audit: %w", err)
	}
	return nil
}

// ListAudit returns entries matching the options, newest first.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	query := `SELECT ` + auditCols + ` FROM mailsync_audit`
	var args []any
	var conds []string

	if opts.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, opts.TenantID)
	}
	if opts.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, opts.Action)
	}
	if opts.ResourceID != "" {
		conds = append(conds, "resource_id = ?")
		args = append(args, opts.ResourceID)
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
		return nil, fmt.Errorf("mailsync/sqlite: list audit: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			idStr string
			meta  sql.NullString
		)
		err := rows.Scan(
			&idStr, &e.Actor, &e.Action, &e.Severity, &e.Resource, &e.ResourceID,
			&e.TenantID, &e.Reason, &meta, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: scan audit row: %w", err)
		}
		if e.Metadata, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		parsed, parseErr := id.ParseAuditID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("mailsync/sqlite: parse audit id %q: %w", idStr, parseErr)
		}
		e.ID = parsed
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: iterate audit rows: %w", err)
	}
	return entries, nil
}

// PurgeAudit removes entries created before the cutoff.
func (s *Store) PurgeAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mailsync_audit WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("mailsync/sqlite: purge audit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mailsync/sqlite: purge audit: %w", err)
	}
	return n, nil
}
