package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/protection"
	"github.com/marchway/mailsync/scope"
	"github.com/marchway/mailsync/syncjob"
	"github.com/marchway/mailsync/trigger"
)

// CreateSyncJob plans a sync job, persists it with its chunks in one
// atomic write, and fires the creation trigger. A request without an
// estimate gets the per-kind default. A deferred request is stored in
// chunked state and fires no trigger until released.
func (e *Engine) CreateSyncJob(ctx context.Context, req syncjob.CreateRequest) (*syncjob.Job, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("engine: create sync job: tenant id is required")
	}
	if req.MailboxID == "" {
		return nil, fmt.Errorf("engine: create sync job: mailbox id is required")
	}
	if req.Kind == "" {
		req.Kind = syncjob.KindIncremental
	}
	if !scope.Authorize(ctx, req.TenantID) {
		return nil, mailsync.ErrNotAuthorized
	}

	if e.resolver != nil {
		if err := e.resolver.Resolve(ctx, req.TenantID, req.MailboxID); err != nil {
			return nil, fmt.Errorf("engine: resolve mailbox %s: %w", req.MailboxID, err)
		}
	}

	if req.EstimatedCount <= 0 {
		req.EstimatedCount = e.cfg.EstimateFor(string(req.Kind))
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = e.cfg.MaxAttempts
	}

	j, chunks := syncjob.Plan(req, e.cfg)
	if err := e.store.CreateJob(ctx, j, chunks); err != nil {
		return nil, err
	}

	e.hooks.EmitJobCreated(ctx, j)

	// Post-commit: a lost notification is recovered by polling.
	if !req.Deferred {
		e.notify(ctx, j.ID, trigger.ReasonCreated)
	}
	return j, nil
}

// Release moves a deferred job from chunked to pending, making its
// chunks claimable. Releasing a job that is not deferred returns
// ErrInvalidState.
func (e *Engine) Release(ctx context.Context, jobID id.JobID) (*syncjob.Job, error) {
	swapped, err := e.store.TransitionJob(ctx, jobID, syncjob.StatusPending, syncjob.StatusChunked)
	if err != nil {
		return nil, err
	}
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("engine: release job %s in status %s: %w",
			jobID, j.Status, mailsync.ErrInvalidState)
	}

	e.hooks.EmitJobReleased(ctx, j)
	e.notify(ctx, j.ID, trigger.ReasonReleased)
	return j, nil
}

// Cancel marks an active job cancelled. In-flight chunks finish their
// current execution but record no further parent transitions, and
// unclaimed chunks stop being claimable. Cancelling a job twice is a
// no-op; cancelling a completed or failed job returns ErrInvalidState.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID, reason string) (*syncjob.Job, error) {
	swapped, err := e.store.TransitionJob(ctx, jobID, syncjob.StatusCancelled,
		syncjob.StatusPending, syncjob.StatusChunked, syncjob.StatusProcessing)
	if err != nil {
		return nil, err
	}
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !swapped {
		if j.Status == syncjob.StatusCancelled {
			return j, nil
		}
		return nil, fmt.Errorf("engine: cancel job %s in status %s: %w",
			jobID, j.Status, mailsync.ErrInvalidState)
	}

	now := time.Now().UTC()
	j.CompletedAt = &now
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	actor := scope.ActorFrom(ctx, audit.ActorSystem)
	e.hooks.EmitJobCancelled(ctx, j, actor)
	if reason != "" {
		e.trail.Record(ctx, audit.ActionJobCancelled, audit.SeverityWarning,
			audit.ResourceJob, j.ID.String(), j.TenantID, reason, nil)
	}
	return j, nil
}

// GetJob fetches a job.
func (e *Engine) GetJob(ctx context.Context, jobID id.JobID) (*syncjob.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// GetProgress derives a job's aggregate progress from its chunks.
func (e *Engine) GetProgress(ctx context.Context, jobID id.JobID) (*syncjob.Progress, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	chunks, err := e.store.ListChunksByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return syncjob.DeriveProgress(j, chunks), nil
}

// ListChunks returns a job's chunks ordered by chunk number.
func (e *Engine) ListChunks(ctx context.Context, jobID id.JobID) ([]*syncjob.Chunk, error) {
	return e.store.ListChunksByJob(ctx, jobID)
}

// ListJobs returns jobs in the given status, oldest first.
func (e *Engine) ListJobs(ctx context.Context, status syncjob.Status, opts syncjob.ListOpts) ([]*syncjob.Job, error) {
	return e.store.ListJobsByStatus(ctx, status, opts)
}

// ForceResetChunk returns a chunk to pending with a fresh attempt
// budget, reactivating a failed or cancelled parent. The manual
// intervention is recorded on the audit trail with the acting
// operator.
func (e *Engine) ForceResetChunk(ctx context.Context, chunkID id.ChunkID, reason string) error {
	c, err := e.store.GetChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	if err := e.store.ResetChunk(ctx, chunkID, true); err != nil {
		return err
	}
	if _, err := e.store.TransitionJob(ctx, c.JobID, syncjob.StatusProcessing,
		syncjob.StatusFailed, syncjob.StatusCancelled); err != nil {
		return err
	}

	e.trail.Record(ctx, audit.ActionChunkReset, audit.SeverityWarning,
		audit.ResourceChunk, chunkID.String(), c.TenantID, reason, map[string]any{
			"job_id": c.JobID.String(),
		})
	e.notify(ctx, c.JobID, trigger.ReasonReplayed)
	return nil
}

// ResetAllChunks returns every non-completed chunk of a job to pending
// with fresh attempts and reactivates the job. It reports how many
// chunks were reset.
func (e *Engine) ResetAllChunks(ctx context.Context, jobID id.JobID, reason string) (int64, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	n, err := e.store.ResetChunksByJob(ctx, jobID, true)
	if err != nil {
		return 0, err
	}
	if _, err := e.store.TransitionJob(ctx, jobID, syncjob.StatusProcessing,
		syncjob.StatusFailed, syncjob.StatusCancelled); err != nil {
		return n, err
	}

	e.trail.Record(ctx, audit.ActionChunkReset, audit.SeverityWarning,
		audit.ResourceJob, jobID.String(), j.TenantID, reason, map[string]any{
			"chunks_reset": n,
		})
	e.notify(ctx, jobID, trigger.ReasonReplayed)
	return n, nil
}

// ReplayDLQ resurrects a dead-lettered chunk and wakes its job. The
// manual action is audited with the acting operator.
func (e *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*syncjob.Job, error) {
	j, err := e.dlqService.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}

	e.trail.Record(ctx, audit.ActionDLQReplayed, audit.SeverityWarning,
		audit.ResourceDLQ, entryID.String(), j.TenantID, "manual dead letter replay",
		map[string]any{"job_id": j.ID.String()})
	e.notify(ctx, j.ID, trigger.ReasonReplayed)
	return j, nil
}

// ListDLQ lists dead letter entries, newest first.
func (e *Engine) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return e.store.ListDLQ(ctx, opts)
}

// ProtectionStats returns the persisted protection state for a
// tenant's operation, or nil when none exists or protection is
// disabled.
func (e *Engine) ProtectionStats(ctx context.Context, tenantID, operation string) (*protection.State, error) {
	if e.guard == nil {
		return e.store.GetProtection(ctx, tenantID, operation)
	}
	return e.guard.Stats(ctx, tenantID, operation)
}

// ListAudit reads the audit trail, newest first.
func (e *Engine) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	return e.store.ListAudit(ctx, opts)
}

func (e *Engine) notify(ctx context.Context, jobID id.JobID, reason string) {
	if err := e.trig.Notify(ctx, jobID, reason); err != nil {
		e.logger.Warn("trigger notify failed",
			slog.String("job_id", jobID.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}
