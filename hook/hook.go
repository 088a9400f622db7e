package hook

import (
	"context"
	"time"

	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle events
// ──────────────────────────────────────────────────

// JobCreated is called after a sync job and its chunks are persisted.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *syncjob.Job) error
}

// JobReleased is called when a deferred job becomes claimable.
type JobReleased interface {
	OnJobReleased(ctx context.Context, j *syncjob.Job) error
}

// JobCompleted is called once when the last chunk of a job completes.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *syncjob.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *syncjob.Job, err error) error
}

// JobCancelled is called when an operator cancels a job.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *syncjob.Job, actor string) error
}

// ──────────────────────────────────────────────────
// Chunk lifecycle events
// ──────────────────────────────────────────────────

// ChunkClaimed is called when a worker claims a chunk.
type ChunkClaimed interface {
	OnChunkClaimed(ctx context.Context, c *syncjob.Chunk) error
}

// ChunkCompleted is called after a chunk finishes successfully.
type ChunkCompleted interface {
	OnChunkCompleted(ctx context.Context, c *syncjob.Chunk, elapsed time.Duration) error
}

// ChunkRetrying is called when a chunk fails but is scheduled for retry.
type ChunkRetrying interface {
	OnChunkRetrying(ctx context.Context, c *syncjob.Chunk, attempt int, nextRetryAt time.Time) error
}

// ChunkFailed is called when a chunk fails terminally (no more retries).
type ChunkFailed interface {
	OnChunkFailed(ctx context.Context, c *syncjob.Chunk, err error) error
}

// ChunkReclaimed is called when the recovery sweep resets a stuck chunk.
type ChunkReclaimed interface {
	OnChunkReclaimed(ctx context.Context, c *syncjob.Chunk, prevWorker id.WorkerID, stuckFor time.Duration) error
}

// ──────────────────────────────────────────────────
// Other events
// ──────────────────────────────────────────────────

// DeadLettered is called when work is archived to the dead-letter queue.
type DeadLettered interface {
	OnDeadLettered(ctx context.Context, entry *dlq.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
