// Package outcome records chunk results and drives the parent job's
// aggregate state. It is the single writer of terminal chunk
// transitions: workers report what happened, the recorder decides what
// it means (completion, a scheduled retry, or a terminal failure with
// a dead-letter entry) and recomputes the parent from its chunks.
//
// The parent recomputation is a pure projection of chunk states
// (see syncjob.DeriveStatus) applied through a conditional transition,
// so any number of concurrent invocations converge on the same job
// status and the completion transition fires exactly once.
package outcome

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marchway/mailsync/backoff"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/hook"
	"github.com/marchway/mailsync/syncjob"
	"github.com/marchway/mailsync/trigger"
)

// Result is what a worker reports for a successfully executed chunk.
type Result struct {
	// EmailsProcessed and EmailsFailed are item-level counts inside the
	// chunk. Item failures do not fail the chunk.
	EmailsProcessed int
	EmailsFailed    int

	// Checkpoint is opaque executor progress state, persisted for
	// incremental resume.
	Checkpoint []byte
}

// Recorder applies chunk outcomes to the store.
type Recorder struct {
	store  syncjob.Store
	policy *backoff.Policy
	dlq    *dlq.Service
	hooks  *hook.Registry
	trig   trigger.Trigger
	logger *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPolicy sets the retry policy.
func WithPolicy(p *backoff.Policy) Option {
	return func(r *Recorder) { r.policy = p }
}

// WithDLQ sets the dead-letter service for terminal failures. Without
// one, terminal failures are recorded but not archived.
func WithDLQ(s *dlq.Service) Option {
	return func(r *Recorder) { r.dlq = s }
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(h *hook.Registry) Option {
	return func(r *Recorder) { r.hooks = h }
}

// WithTrigger sets the trigger used to chain the next invocation.
func WithTrigger(t trigger.Trigger) Option {
	return func(r *Recorder) { r.trig = t }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store syncjob.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		policy: backoff.NewPolicy(),
		trig:   trigger.Noop{},
		logger: slog.Default(),
		timers: make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hooks == nil {
		r.hooks = hook.NewRegistry(r.logger)
	}
	return r
}

// notify sends a best-effort trigger notification.
func (r *Recorder) notify(ctx context.Context, j *syncjob.Job, reason string) {
	if err := r.trig.Notify(ctx, j.ID, reason); err != nil {
		r.logger.Warn("trigger notification failed",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// recomputeParent projects the job's status from its chunks and applies
// terminal transitions through the store's conditional swap. Safe to
// call from any number of concurrent outcome recordings.
func (r *Recorder) recomputeParent(ctx context.Context, c *syncjob.Chunk) error {
	chunks, err := r.store.ListChunksByJob(ctx, c.JobID)
	if err != nil {
		return err
	}

	switch syncjob.DeriveStatus(chunks) {
	case syncjob.StatusCompleted:
		swapped, err := r.store.TransitionJob(ctx, c.JobID, syncjob.StatusCompleted,
			syncjob.StatusPending, syncjob.StatusChunked, syncjob.StatusProcessing)
		if err != nil {
			return err
		}
		if !swapped {
			// Already terminal (completed by a racing recording, or
			// cancelled by an operator). Nothing more to do.
			return nil
		}
		return r.finishJob(ctx, c, nil)

	case syncjob.StatusFailed:
		swapped, err := r.store.TransitionJob(ctx, c.JobID, syncjob.StatusFailed,
			syncjob.StatusPending, syncjob.StatusChunked, syncjob.StatusProcessing)
		if err != nil {
			return err
		}
		if !swapped {
			return nil
		}
		return r.finishJob(ctx, c, chunks)
	}

	return nil
}

// finishJob stamps completion metadata on a job that just reached a
// terminal status. failedChunks non-nil marks the failure path.
func (r *Recorder) finishJob(ctx context.Context, c *syncjob.Chunk, failedChunks []*syncjob.Chunk) error {
	j, err := r.store.GetJob(ctx, c.JobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.CompletedAt = &now
	if failedChunks != nil {
		// Carry the first failed chunk's error up to the job for
		// operator-facing summaries.
		for _, fc := range failedChunks {
			if fc.Status == syncjob.ChunkFailed {
				j.ErrorCategory = fc.ErrorCategory
				j.ErrorMessage = fc.ErrorMessage
				break
			}
		}
	}
	if err := r.store.UpdateJob(ctx, j); err != nil {
		return err
	}

	elapsed := now.Sub(j.CreatedAt)
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	if failedChunks != nil {
		r.hooks.EmitJobFailed(ctx, j, fault.New(j.ErrorCategory, j.ErrorMessage))
		r.logger.Warn("sync job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.String("error_category", string(j.ErrorCategory)),
			slog.String("error", j.ErrorMessage),
		)
	} else {
		r.hooks.EmitJobCompleted(ctx, j, elapsed)
		r.logger.Info("sync job completed",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.Duration("elapsed", elapsed),
		)
	}
	return nil
}
