package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	row := s.pool.QueryRow(ctx,
		`SELECT `+protectionCols+` FROM mailsync_protection
		 WHERE tenant_id = $1 AND operation = $2`,
		tenantID, operation,
	)
	st, err := scanProtection(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailsync/postgres: get protection: %w", err)
	}
	return st, nil
}

// Mutate loads (or lazily creates) the state for a tenant+operation
// under a row lock, applies fn, persists the result, and returns it.
func (s *Store) Mutate(ctx context.Context, tenantID, operation string, fn func(*protection.State)) (*protection.State, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: begin protection mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+protectionCols+` FROM mailsync_protection
		 WHERE tenant_id = $1 AND operation = $2
		 FOR UPDATE`,
		tenantID, operation,
	)
	st, err := scanProtection(row)
	switch {
	case isNoRows(err):
		st = protection.NewState(tenantID, operation, time.Now().UTC())
		_, err = tx.Exec(ctx, `
			INSERT INTO mailsync_protection (
				tenant_id, operation,
				minute_count, hour_count, day_count,
				minute_start, hour_start, day_start,
				throttled_until, breaker,
				consecutive_failures, consecutive_successes, reopen_after,
				total_calls, total_failures,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8,
				$9, $10, $11, $12, $13, $14, $15, $16, $17
			) ON CONFLICT (tenant_id, operation) DO NOTHING`,
			st.TenantID, st.Operation,
			st.MinuteCount, st.HourCount, st.DayCount,
			st.MinuteStart, st.HourStart, st.DayStart,
			st.ThrottledUntil, string(st.Breaker),
			st.ConsecutiveFailures, st.ConsecutiveSuccesses, st.ReopenAfter,
			st.TotalCalls, st.TotalFailures,
			st.CreatedAt, st.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: insert protection: %w", err)
		}

		// Re-read under the lock in case a concurrent inserter won.
		row = tx.QueryRow(ctx,
			`SELECT `+protectionCols+` FROM mailsync_protection
			 WHERE tenant_id = $1 AND operation = $2
			 FOR UPDATE`,
			tenantID, operation,
		)
		st, err = scanProtection(row)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: reread protection: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("mailsync/postgres: load protection: %w", err)
	}

	fn(st)
	st.Touch()

	_, err = tx.Exec(ctx, `
		UPDATE mailsync_protection SET
			minute_count = $3, hour_count = $4, day_count = $5,
			minute_start = $6, hour_start = $7, day_start = $8,
			throttled_until = $9, breaker = $10,
			consecutive_failures = $11, consecutive_successes = $12,
			reopen_after = $13,
			total_calls = $14, total_failures = $15,
			updated_at = $16
		WHERE tenant_id = $1 AND operation = $2`,
		st.TenantID, st.Operation,
		st.MinuteCount, st.HourCount, st.DayCount,
		st.MinuteStart, st.HourStart, st.DayStart,
		st.ThrottledUntil, string(st.Breaker),
		st.ConsecutiveFailures, st.ConsecutiveSuccesses,
		st.ReopenAfter,
		st.TotalCalls, st.TotalFailures,
		st.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: save protection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: commit protection mutate: %w", err)
	}
	return st, nil
}

// ListProtection returns all states for a tenant. Empty tenantID lists
// everything.
func (s *Store) ListProtection(ctx context.Context, tenantID string) ([]*protection.State, error) {
	query := `SELECT ` + protectionCols + ` FROM mailsync_protection`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += ` ORDER BY tenant_id ASC, operation ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mailsync/postgres: list protection: %w", err)
	}
	defer rows.Close()

	var states []*protection.State
	for rows.Next() {
		st, err := scanProtection(rows)
		if err != nil {
			return nil, fmt.Errorf("mailsync/postgres: scan protection row: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailsync/postgres: iterate protection rows: %w", err)
	}
	return states, nil
}

func scanProtection(row pgx.Row) (*protection.State, error) {
	var (
		st         protection.State
		breakerStr string
	)
	err := row.Scan(
		&st.TenantID, &st.Operation,
		&st.MinuteCount, &st.HourCount, &st.DayCount,
		&st.MinuteStart, &st.HourStart, &st.DayStart,
		&st.ThrottledUntil, &breakerStr,
		&st.ConsecutiveFailures, &st.ConsecutiveSuccesses, &st.ReopenAfter,
		&st.TotalCalls, &st.TotalFailures,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Breaker = protection.BreakerState(breakerStr)
	return &st, nil
}
