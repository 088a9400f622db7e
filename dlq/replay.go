package dlq

import (
	"context"
	"fmt"

	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

// Replay returns a dead-lettered chunk to the claimable pool with a
// fresh attempt budget and moves its parent job back to processing.
// The entry is marked replayed; replaying it again is a no-op.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*syncjob.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j, err := s.jobStore.GetJob(ctx, entry.JobID)
	if err != nil {
		return nil, err
	}
	if entry.Replayed() {
		return j, nil
	}

	if !entry.ChunkID.IsNil() {
		if err := s.jobStore.ResetChunk(ctx, entry.ChunkID, true); err != nil {
			return nil, fmt.Errorf("dlq: reset chunk %s: %w", entry.ChunkID, err)
		}
	} else {
		if _, err := s.jobStore.ResetChunksByJob(ctx, entry.JobID, true); err != nil {
			return nil, fmt.Errorf("dlq: reset chunks for job %s: %w", entry.JobID, err)
		}
	}

	// Only a failed or cancelled parent needs to move; a still-active
	// job picks the chunk up on its own.
	if _, err := s.jobStore.TransitionJob(ctx, entry.JobID, syncjob.StatusProcessing,
		syncjob.StatusFailed, syncjob.StatusCancelled); err != nil {
		return nil, fmt.Errorf("dlq: reactivate job %s: %w", entry.JobID, err)
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The chunk is already back in the pool. Surface the marker
		// failure but hand the caller the reactivated job.
		return j, err
	}

	j, err = s.jobStore.GetJob(ctx, entry.JobID)
	if err != nil {
		return nil, err
	}
	return j, nil
}
