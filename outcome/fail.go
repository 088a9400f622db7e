package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
	"github.com/marchway/mailsync/trigger"
)

// Fail records a failed chunk execution. The error is classified into
// a fault category; the retry policy then either schedules another
// attempt with backoff or declares the chunk terminally failed, in
// which case it is archived to the dead-letter queue and the parent is
// recomputed. Failing an already-failed chunk is a no-op; failing a
// completed chunk returns ErrInvalidState.
func (r *Recorder) Fail(ctx context.Context, chunkID id.ChunkID, cause error) (*syncjob.Chunk, error) {
	if cause == nil {
		cause = errors.New("executor reported failure without an error")
	}

	c, err := r.store.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case syncjob.ChunkFailed:
		return c, nil
	case syncjob.ChunkCompleted:
		return nil, fmt.Errorf("fail chunk %s in status %s: %w", chunkID, c.Status, mailsync.ErrInvalidState)
	}

	category := fault.CategoryOf(cause)
	decision := r.policy.Decide(category, c.Attempts, c.MaxAttempts)

	now := time.Now().UTC()
	c.ErrorCategory = category
	c.ErrorMessage = cause.Error()
	if c.StartedAt != nil {
		c.Duration = now.Sub(*c.StartedAt)
	}

	if decision.Retry {
		next := now.Add(decision.Delay)
		c.Status = syncjob.ChunkRetrying
		c.NextRetryAt = &next
		c.WorkerID = id.ID{}
		c.StartedAt = nil

		if err := r.store.UpdateChunk(ctx, c); err != nil {
			return nil, err
		}

		r.hooks.EmitChunkRetrying(ctx, c, c.Attempts, next)
		r.logger.Info("chunk scheduled for retry",
			slog.String("chunk_id", c.ID.String()),
			slog.String("job_id", c.JobID.String()),
			slog.String("category", string(category)),
			slog.Int("attempt", c.Attempts),
			slog.Int("max_attempts", c.MaxAttempts),
			slog.Time("next_retry_at", next),
			slog.String("error", cause.Error()),
		)

		r.scheduleRetryNudge(c, decision.Delay)
		return c, nil
	}

	// Terminal failure.
	c.Status = syncjob.ChunkFailed
	c.NextRetryAt = nil

	if err := r.store.UpdateChunk(ctx, c); err != nil {
		return nil, err
	}

	r.hooks.EmitChunkFailed(ctx, c, cause)
	r.logger.Error("chunk failed terminally",
		slog.String("chunk_id", c.ID.String()),
		slog.String("job_id", c.JobID.String()),
		slog.String("category", string(category)),
		slog.Int("attempts", c.Attempts),
		slog.String("error", cause.Error()),
	)

	if r.dlq != nil {
		j, err := r.store.GetJob(ctx, c.JobID)
		if err != nil {
			return nil, err
		}
		entry, err := r.dlq.Archive(ctx, j, c, cause)
		if err != nil {
			// The chunk is already marked failed; archiving is
			// supplementary. Log and continue.
			r.logger.Error("dead-letter archive failed",
				slog.String("chunk_id", c.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			r.hooks.EmitDeadLettered(ctx, entry)
		}
	}

	if err := r.recomputeParent(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// scheduleRetryNudge fires a trigger notification when the retry
// becomes due. In-process and best-effort: a restart or Close loses
// the timer and the sweep picks the chunk up instead. Pending timers
// are tracked so Close can cancel them.
func (r *Recorder) scheduleRetryNudge(c *syncjob.Chunk, delay time.Duration) {
	jobID := c.JobID

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		// Taking the lock first also orders this callback after the
		// timer registration below, so t is safe to read.
		r.mu.Lock()
		delete(r.timers, t)
		done := r.closed
		r.mu.Unlock()
		if done {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.trig.Notify(ctx, jobID, trigger.ReasonRetryDue); err != nil {
			r.logger.Warn("retry trigger notification failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	})
	r.timers[t] = struct{}{}
}

// Close cancels pending retry nudge timers and stops new ones from
// being armed. Retries whose nudge is dropped here are still picked up
// by the recovery sweep after a restart.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for t := range r.timers {
		t.Stop()
		delete(r.timers, t)
	}
}
