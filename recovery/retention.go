package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/syncjob"
)

// Retention purges terminal jobs (with their chunks), dead letter
// entries, and audit entries past their configured lifetimes. Each
// purge is independent; a failure in one does not block the others.
type Retention struct {
	jobs  syncjob.Store
	dlqs  dlq.Store
	audit audit.Store

	jobAge   time.Duration
	dlqAge   time.Duration
	auditAge time.Duration

	trail  *audit.Trail
	logger *slog.Logger
}

// RetentionOption configures a Retention.
type RetentionOption func(*Retention)

// WithRetentionTrail records a summary audit entry after each run.
func WithRetentionTrail(t *audit.Trail) RetentionOption {
	return func(r *Retention) { r.trail = t }
}

// WithAuditAge sets the audit entry lifetime. Defaults to the job age.
func WithAuditAge(d time.Duration) RetentionOption {
	return func(r *Retention) { r.auditAge = d }
}

// WithRetentionLogger sets the logger.
func WithRetentionLogger(l *slog.Logger) RetentionOption {
	return func(r *Retention) { r.logger = l }
}

// NewRetention creates a Retention purger.
func NewRetention(jobs syncjob.Store, dlqs dlq.Store, auditStore audit.Store,
	jobAge, dlqAge time.Duration, opts ...RetentionOption) *Retention {
	r := &Retention{
		jobs:     jobs,
		dlqs:     dlqs,
		audit:    auditStore,
		jobAge:   jobAge,
		dlqAge:   dlqAge,
		auditAge: jobAge,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one purge pass and returns the total rows removed.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var total int64
	var firstErr error

	jobs, err := r.jobs.PurgeTerminalJobs(ctx, now.Add(-r.jobAge))
	if err != nil {
		r.logger.Error("job purge failed", slog.String("error", err.Error()))
		firstErr = err
	}
	total += jobs

	dlqs, err := r.dlqs.PurgeDLQ(ctx, now.Add(-r.dlqAge))
	if err != nil {
		r.logger.Error("dlq purge failed", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}
	total += dlqs

	audits, err := r.audit.PurgeAudit(ctx, now.Add(-r.auditAge))
	if err != nil {
		r.logger.Error("audit purge failed", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}
	total += audits

	r.logger.Info("retention purge complete",
		slog.Int64("jobs", jobs),
		slog.Int64("dlq_entries", dlqs),
		slog.Int64("audit_entries", audits),
	)

	if r.trail != nil && total > 0 {
		r.trail.Record(ctx, audit.ActionRetentionPurge, audit.SeverityInfo,
			audit.ResourceJob, "", "", "scheduled retention purge",
			map[string]any{
				"jobs":          jobs,
				"dlq_entries":   dlqs,
				"audit_entries": audits,
			})
	}
	return total, firstErr
}
