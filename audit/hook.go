package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/hook"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

// Compile-time interface checks.
var (
	_ hook.Hook           = (*Hook)(nil)
	_ hook.JobCreated     = (*Hook)(nil)
	_ hook.JobReleased    = (*Hook)(nil)
	_ hook.JobCompleted   = (*Hook)(nil)
	_ hook.JobFailed      = (*Hook)(nil)
	_ hook.JobCancelled   = (*Hook)(nil)
	_ hook.ChunkRetrying  = (*Hook)(nil)
	_ hook.ChunkFailed    = (*Hook)(nil)
	_ hook.ChunkReclaimed = (*Hook)(nil)
	_ hook.DeadLettered   = (*Hook)(nil)
)

// Hook bridges lifecycle events to the audit trail. Each event becomes
// one entry with severity reflecting how alarming it is: info for
// normal transitions, warning for retries and sweep reclaims, critical
// for terminal failures and dead-letters.
//
// Claim events are deliberately not audited; at one entry per claim
// the trail would be mostly noise.
type Hook struct {
	trail   *Trail
	enabled map[string]bool // nil = all enabled
}

// Option configures a Hook.
type Option func(*Hook)

// WithActions restricts the hook to emit only the listed actions. By
// default all actions are enabled. Unknown actions are silently ignored.
func WithActions(actions ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// NewHook creates a lifecycle hook writing to the given store.
func NewHook(store Store, logger *slog.Logger, opts ...Option) *Hook {
	h := &Hook{trail: NewTrail(store, logger)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit-trail" }

// OnJobCreated implements hook.JobCreated.
func (h *Hook) OnJobCreated(ctx context.Context, j *syncjob.Job) error {
	h.record(ctx, ActionJobCreated, SeverityInfo, ResourceJob, j.ID.String(), j.TenantID, "", map[string]any{
		"mailbox_id":   j.MailboxID,
		"kind":         string(j.Kind),
		"total_chunks": j.TotalChunks,
		"estimated":    j.EstimatedCount,
	})
	return nil
}

// OnJobReleased implements hook.JobReleased.
func (h *Hook) OnJobReleased(ctx context.Context, j *syncjob.Job) error {
	h.record(ctx, ActionJobReleased, SeverityInfo, ResourceJob, j.ID.String(), j.TenantID, "", nil)
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (h *Hook) OnJobCompleted(ctx context.Context, j *syncjob.Job, elapsed time.Duration) error {
	h.record(ctx, ActionJobCompleted, SeverityInfo, ResourceJob, j.ID.String(), j.TenantID, "", map[string]any{
		"mailbox_id": j.MailboxID,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (h *Hook) OnJobFailed(ctx context.Context, j *syncjob.Job, jobErr error) error {
	h.record(ctx, ActionJobFailed, SeverityCritical, ResourceJob, j.ID.String(), j.TenantID, jobErr.Error(), map[string]any{
		"mailbox_id":     j.MailboxID,
		"error_category": string(j.ErrorCategory),
		"attempts":       j.Attempts,
	})
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (h *Hook) OnJobCancelled(ctx context.Context, j *syncjob.Job, actor string) error {
	h.record(ctx, ActionJobCancelled, SeverityWarning, ResourceJob, j.ID.String(), j.TenantID, "cancelled by "+actor, nil)
	return nil
}

// OnChunkRetrying implements hook.ChunkRetrying.
func (h *Hook) OnChunkRetrying(ctx context.Context, c *syncjob.Chunk, attempt int, nextRetryAt time.Time) error {
	h.record(ctx, ActionChunkRetrying, SeverityWarning, ResourceChunk, c.ID.String(), c.TenantID, c.ErrorMessage, map[string]any{
		"job_id":         c.JobID.String(),
		"chunk_number":   c.ChunkNumber,
		"attempt":        attempt,
		"next_retry_at":  nextRetryAt.Format(time.RFC3339),
		"error_category": string(c.ErrorCategory),
	})
	return nil
}

// OnChunkFailed implements hook.ChunkFailed.
func (h *Hook) OnChunkFailed(ctx context.Context, c *syncjob.Chunk, chunkErr error) error {
	h.record(ctx, ActionChunkFailed, SeverityCritical, ResourceChunk, c.ID.String(), c.TenantID, chunkErr.Error(), map[string]any{
		"job_id":         c.JobID.String(),
		"chunk_number":   c.ChunkNumber,
		"attempts":       c.Attempts,
		"max_attempts":   c.MaxAttempts,
		"error_category": string(c.ErrorCategory),
	})
	return nil
}

// OnChunkReclaimed implements hook.ChunkReclaimed.
func (h *Hook) OnChunkReclaimed(ctx context.Context, c *syncjob.Chunk, prevWorker id.WorkerID, stuckFor time.Duration) error {
	h.record(ctx, ActionChunkReclaimed, SeverityWarning, ResourceChunk, c.ID.String(), c.TenantID, "reclaimed by recovery sweep", map[string]any{
		"job_id":       c.JobID.String(),
		"chunk_number": c.ChunkNumber,
		"prev_worker":  prevWorker.String(),
		"stuck_ms":     stuckFor.Milliseconds(),
	})
	return nil
}

// OnDeadLettered implements hook.DeadLettered.
func (h *Hook) OnDeadLettered(ctx context.Context, entry *dlq.Entry) error {
	h.record(ctx, ActionDeadLettered, SeverityCritical, ResourceDLQ, entry.ID.String(), entry.TenantID, entry.ErrorMessage, map[string]any{
		"job_id":         entry.JobID.String(),
		"chunk_id":       entry.ChunkID.String(),
		"error_category": string(entry.ErrorCategory),
		"attempts":       entry.Attempts,
	})
	return nil
}

// record forwards to the trail if the action is enabled.
func (h *Hook) record(ctx context.Context, action, severity, resource, resourceID, tenantID, reason string, meta map[string]any) {
	if h.enabled != nil && !h.enabled[action] {
		return
	}
	h.trail.Record(ctx, action, severity, resource, resourceID, tenantID, reason, meta)
}
