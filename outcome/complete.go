package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
	"github.com/marchway/mailsync/trigger"
)

// Complete records a successful chunk execution, recomputes the parent
// job, and chains the next invocation. Completing an already-completed
// chunk is a no-op; completing a chunk that failed terminally returns
// ErrInvalidState.
func (r *Recorder) Complete(ctx context.Context, chunkID id.ChunkID, res Result) (*syncjob.Chunk, error) {
	c, err := r.store.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case syncjob.ChunkCompleted:
		return c, nil
	case syncjob.ChunkFailed:
		return nil, fmt.Errorf("complete chunk %s in status %s: %w", chunkID, c.Status, mailsync.ErrInvalidState)
	}

	now := time.Now().UTC()
	c.Status = syncjob.ChunkCompleted
	c.CompletedAt = &now
	c.NextRetryAt = nil
	c.EmailsProcessed = res.EmailsProcessed
	c.EmailsFailed = res.EmailsFailed
	if res.Checkpoint != nil {
		c.Checkpoint = res.Checkpoint
	}
	if c.StartedAt != nil {
		c.Duration = now.Sub(*c.StartedAt)
	}
	c.ErrorCategory = ""
	c.ErrorMessage = ""

	if err := r.store.UpdateChunk(ctx, c); err != nil {
		return nil, err
	}

	r.hooks.EmitChunkCompleted(ctx, c, c.Duration)
	r.logger.Debug("chunk completed",
		slog.String("chunk_id", c.ID.String()),
		slog.String("job_id", c.JobID.String()),
		slog.Int("emails_processed", res.EmailsProcessed),
		slog.Int("emails_failed", res.EmailsFailed),
	)

	if err := r.recomputeParent(ctx, c); err != nil {
		return nil, err
	}

	// Chain the next invocation. Post-commit and best-effort: a lost
	// notification is recovered by the sweep.
	j, err := r.store.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, err
	}
	if !j.Status.Terminal() {
		r.notify(ctx, j, trigger.ReasonChunkCompleted)
	}

	return c, nil
}
