package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type jobCreatedEntry struct {
	name string
	hook JobCreated
}

type jobReleasedEntry struct {
	name string
	hook JobReleased
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type chunkClaimedEntry struct {
	name string
	hook ChunkClaimed
}

type chunkCompletedEntry struct {
	name string
	hook ChunkCompleted
}

type chunkRetryingEntry struct {
	name string
	hook ChunkRetrying
}

type chunkFailedEntry struct {
	name string
	hook ChunkFailed
}

type chunkReclaimedEntry struct {
	name string
	hook ChunkReclaimed
}

type deadLetteredEntry struct {
	name string
	hook DeadLettered
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobCreated     []jobCreatedEntry
	jobReleased    []jobReleasedEntry
	jobCompleted   []jobCompletedEntry
	jobFailed      []jobFailedEntry
	jobCancelled   []jobCancelledEntry
	chunkClaimed   []chunkClaimedEntry
	chunkCompleted []chunkCompletedEntry
	chunkRetrying  []chunkRetryingEntry
	chunkFailed    []chunkFailedEntry
	chunkReclaimed []chunkReclaimedEntry
	deadLettered   []deadLetteredEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, jobCreatedEntry{name, hk})
	}
	if hk, ok := h.(JobReleased); ok {
		r.jobReleased = append(r.jobReleased, jobReleasedEntry{name, hk})
	}
	if hk, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, hk})
	}
	if hk, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, hk})
	}
	if hk, ok := h.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, hk})
	}
	if hk, ok := h.(ChunkClaimed); ok {
		r.chunkClaimed = append(r.chunkClaimed, chunkClaimedEntry{name, hk})
	}
	if hk, ok := h.(ChunkCompleted); ok {
		r.chunkCompleted = append(r.chunkCompleted, chunkCompletedEntry{name, hk})
	}
	if hk, ok := h.(ChunkRetrying); ok {
		r.chunkRetrying = append(r.chunkRetrying, chunkRetryingEntry{name, hk})
	}
	if hk, ok := h.(ChunkFailed); ok {
		r.chunkFailed = append(r.chunkFailed, chunkFailedEntry{name, hk})
	}
	if hk, ok := h.(ChunkReclaimed); ok {
		r.chunkReclaimed = append(r.chunkReclaimed, chunkReclaimedEntry{name, hk})
	}
	if hk, ok := h.(DeadLettered); ok {
		r.deadLettered = append(r.deadLettered, deadLetteredEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies all hooks that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *syncjob.Job) {
	for _, e := range r.jobCreated {
		if err := e.hook.OnJobCreated(ctx, j); err != nil {
			r.logHookError("OnJobCreated", e.name, err)
		}
	}
}

// EmitJobReleased notifies all hooks that implement JobReleased.
func (r *Registry) EmitJobReleased(ctx context.Context, j *syncjob.Job) {
	for _, e := range r.jobReleased {
		if err := e.hook.OnJobReleased(ctx, j); err != nil {
			r.logHookError("OnJobReleased", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *syncjob.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *syncjob.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all hooks that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *syncjob.Job, actor string) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j, actor); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Chunk event emitters
// ──────────────────────────────────────────────────

// EmitChunkClaimed notifies all hooks that implement ChunkClaimed.
func (r *Registry) EmitChunkClaimed(ctx context.Context, c *syncjob.Chunk) {
	for _, e := range r.chunkClaimed {
		if err := e.hook.OnChunkClaimed(ctx, c); err != nil {
			r.logHookError("OnChunkClaimed", e.name, err)
		}
	}
}

// EmitChunkCompleted notifies all hooks that implement ChunkCompleted.
func (r *Registry) EmitChunkCompleted(ctx context.Context, c *syncjob.Chunk, elapsed time.Duration) {
	for _, e := range r.chunkCompleted {
		if err := e.hook.OnChunkCompleted(ctx, c, elapsed); err != nil {
			r.logHookError("OnChunkCompleted", e.name, err)
		}
	}
}

// EmitChunkRetrying notifies all hooks that implement ChunkRetrying.
func (r *Registry) EmitChunkRetrying(ctx context.Context, c *syncjob.Chunk, attempt int, nextRetryAt time.Time) {
	for _, e := range r.chunkRetrying {
		if err := e.hook.OnChunkRetrying(ctx, c, attempt, nextRetryAt); err != nil {
			r.logHookError("OnChunkRetrying", e.name, err)
		}
	}
}

// EmitChunkFailed notifies all hooks that implement ChunkFailed.
func (r *Registry) EmitChunkFailed(ctx context.Context, c *syncjob.Chunk, chunkErr error) {
	for _, e := range r.chunkFailed {
		if err := e.hook.OnChunkFailed(ctx, c, chunkErr); err != nil {
			r.logHookError("OnChunkFailed", e.name, err)
		}
	}
}

// EmitChunkReclaimed notifies all hooks that implement ChunkReclaimed.
func (r *Registry) EmitChunkReclaimed(ctx context.Context, c *syncjob.Chunk, prevWorker id.WorkerID, stuckFor time.Duration) {
	for _, e := range r.chunkReclaimed {
		if err := e.hook.OnChunkReclaimed(ctx, c, prevWorker, stuckFor); err != nil {
			r.logHookError("OnChunkReclaimed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitDeadLettered notifies all hooks that implement DeadLettered.
func (r *Registry) EmitDeadLettered(ctx context.Context, entry *dlq.Entry) {
	for _, e := range r.deadLettered {
		if err := e.hook.OnDeadLettered(ctx, entry); err != nil {
			r.logHookError("OnDeadLettered", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
