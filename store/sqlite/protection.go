package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marchway/mailsync/protection"
)

const protectionCols = `
	tenant_id, operation,
	minute_count, hour_count, day_count,
	minute_start, hour_start, day_start,
	throttled_until, breaker,
	consecutive_failures, consecutive_successes, reopen_after,
	total_calls, total_failures,
	created_at, updated_at`

// GetProtection returns the state for a tenant+operation, or nil when
// none exists yet.
func (s *Store) GetProtection(ctx context.Context, tenantID, operation string) (*protection.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+protectionCols+` FROM mailsync_protection
		 WHERE tenant_id = ? AND operation = ?`,
		tenantID, operation,
	)
	st, err := scanProtection(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailsync/sqlite: get protection: %w", err)
	}
	return st, nil
}

// Mutate loads (or lazily creates) the state for a tenant+operation
// inside a transaction, applies fn, persists the result, and returns
// it. SQLite's single-writer lock serializes concurrent mutations.
func (s *Store) Mutate(ctx context.Context, tenantID, operation string, fn func(*protection.State)) (*protection.State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: begin protection mutate: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+protectionCols+` FROM mailsync_protection
		 WHERE tenant_id = ? AND operation = ?`,
		tenantID, operation,
	)
	st, err := scanProtection(row)
	switch {
	case isNoRows(err):
		st = protection.NewState(tenantID, operation, time.Now().UTC())
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mailsync_protection (
				tenant_id, operation,
				minute_count, hour_count, day_count,
				minute_start, hour_start, day_start,
				throttled_until, breaker,
				consecutive_failures, consecutive_successes, reopen_after,
				total_calls, total_failures,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.TenantID, st.Operation,
			st.MinuteCount, st.HourCount, st.DayCount,
			st.MinuteStart, st.HourStart, st.DayStart,
			st.ThrottledUntil, string(st.Breaker),
			st.ConsecutiveFailures, st.ConsecutiveSuccesses, st.ReopenAfter,
			st.TotalCalls, st.TotalFailures,
			st.CreatedAt, st.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: insert protection: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("mailsync/sqlite: load protection: %w", err)
	}

	fn(st)
	st.Touch()

	_, err = tx.ExecContext(ctx, `
		UPDATE mailsync_protection SET
			minute_count = ?, hour_count = ?, day_count = ?,
			minute_start = ?, hour_start = ?, day_start = ?,
			throttled_until = ?, breaker = ?,
			consecutive_failures = ?, consecutive_successes = ?,
			reopen_after = ?,
			total_calls = ?, total_failures = ?,
			updated_at = ?
		WHERE tenant_id = ? AND operation = ?`,
		st.MinuteCount, st.HourCount, st.DayCount,
		st.MinuteStart, st.HourStart, st.DayStart,
		st.ThrottledUntil, string(st.Breaker),
		st.ConsecutiveFailures, st.ConsecutiveSuccesses,
		st.ReopenAfter,
		st.TotalCalls, st.TotalFailures,
		st.UpdatedAt,
		st.TenantID, st.Operation,
	)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: save protection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: commit protection mutate: %w", err)
	}
	return st, nil
}

// ListProtection returns all states for a tenant. Empty tenantID lists
// everything.
func (s *Store) ListProtection(ctx context.Context, tenantID string) ([]*protection.State, error) {
	query := `SELECT ` + protectionCols + ` FROM mailsync_protection`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY tenant_id ASC, operation ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: list protection: %w", err)
	}
	defer rows.Close()

	var states []*protection.State
	for rows.Next() {
		st, err := scanProtection(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/sqlite: scan protection row: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: iterate protection rows: %w", err)
	}
	return states, nil
}

func scanProtection(row rowScanner) (*protection.State, error) {
	var (
		st             protection.State
		breakerStr     string
		throttledUntil sql.NullTime
		reopenAfter    sql.NullTime
	)
	err := row.Scan(
		&st.TenantID, &st.Operation,
		&st.MinuteCount, &st.HourCount, &st.DayCount,
		&st.MinuteStart, &st.HourStart, &st.DayStart,
		&throttledUntil, &breakerStr,
		&st.ConsecutiveFailures, &st.ConsecutiveSuccesses, &reopenAfter,
		&st.TotalCalls, &st.TotalFailures,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Breaker = protection.BreakerState(breakerStr)
	st.ThrottledUntil = timePtr(throttledUntil)
	st.ReopenAfter = timePtr(reopenAfter)
	return &st, nil
}
