// Package recovery returns orphaned work to the pool and enforces data
// retention. The sweeper is the safety net under the trigger layer:
// chunks whose worker died mid-execution, and wake-ups that were lost,
// are both picked up here on a cron schedule.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/hook"
	"github.com/marchway/mailsync/syncjob"
	"github.com/marchway/mailsync/trigger"
)

// Sweeper finds chunks stuck in processing past the threshold and
// resets them to pending with their attempt count intact. Reclaims are
// conditional on the observed StartedAt, so a chunk that finished or
// was reclaimed by another sweep in the meantime is left alone.
type Sweeper struct {
	store     syncjob.Store
	threshold time.Duration
	hooks     *hook.Registry
	trig      trigger.Trigger
	logger    *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperHooks sets the lifecycle hook registry.
func WithSweeperHooks(r *hook.Registry) SweeperOption {
	return func(s *Sweeper) { s.hooks = r }
}

// WithSweeperTrigger sets the trigger notified for each reclaimed
// chunk's job.
func WithSweeperTrigger(t trigger.Trigger) SweeperOption {
	return func(s *Sweeper) { s.trig = t }
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper creates a Sweeper. Threshold is how long a chunk may hold
// processing before it is considered abandoned.
func NewSweeper(store syncjob.Store, threshold time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:     store,
		threshold: threshold,
		trig:      trigger.Noop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hooks == nil {
		s.hooks = hook.NewRegistry(s.logger)
	}
	return s
}

// Sweep reclaims every stuck chunk, then resolves parent jobs parked in
// processing with no in-flight chunks. Reports the total number of
// chunks reclaimed and jobs resolved. Errors on individual rows are
// logged and skipped so one bad row cannot stall the whole sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.threshold)

	stuck, err := s.store.StuckChunks(ctx, s.threshold)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, c := range stuck {
		ok, err := s.store.ReclaimChunk(ctx, c.ID, cutoff)
		if err != nil {
			s.logger.Error("reclaim failed",
				slog.String("chunk_id", c.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		reclaimed++

		stuckFor := time.Duration(0)
		if c.StartedAt != nil {
			stuckFor = time.Since(*c.StartedAt)
		}
		s.hooks.EmitChunkReclaimed(ctx, c, c.WorkerID, stuckFor)

		s.logger.Warn("reclaimed stuck chunk",
			slog.String("chunk_id", c.ID.String()),
			slog.String("job_id", c.JobID.String()),
			slog.String("worker_id", c.WorkerID.String()),
			slog.Duration("stuck_for", stuckFor.Round(time.Second)),
		)

		if err := s.trig.Notify(ctx, c.JobID, trigger.ReasonReclaimed); err != nil {
			s.logger.Warn("reclaim notify failed",
				slog.String("job_id", c.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	resolved := s.sweepStuckJobs(ctx)

	if reclaimed > 0 || resolved > 0 {
		s.logger.Info("sweep complete",
			slog.Int("reclaimed", reclaimed),
			slog.Int("jobs_resolved", resolved),
		)
	}
	return reclaimed + resolved, nil
}

// sweepStuckJobs re-projects processing jobs whose chunks have all
// settled. A crash between a chunk's terminal write and the parent
// recompute leaves the job parked in processing with nothing in flight;
// the chunk pass never sees it (no chunk is processing) and no trigger
// fires again, so the projection is re-applied here. Jobs that still
// have runnable chunks get a fresh wake-up instead.
//
// No staleness gate is needed on the terminal branch: a projection of
// all-terminal chunks never changes, so applying it immediately only
// races the recorder's own idempotent transition.
func (s *Sweeper) sweepStuckJobs(ctx context.Context) int {
	jobs, err := s.store.ListJobsByStatus(ctx, syncjob.StatusProcessing, syncjob.ListOpts{})
	if err != nil {
		s.logger.Error("stuck job scan failed", slog.String("error", err.Error()))
		return 0
	}

	resolved := 0
	for _, j := range jobs {
		chunks, err := s.store.ListChunksByJob(ctx, j.ID)
		if err != nil {
			s.logger.Error("stuck job chunk list failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		inFlight := false
		for _, c := range chunks {
			if c.Status == syncjob.ChunkProcessing {
				inFlight = true
				break
			}
		}
		if inFlight {
			// A chunk is (or just was) running; the reclaim pass owns
			// this job.
			continue
		}

		switch derived := syncjob.DeriveStatus(chunks); derived {
		case syncjob.StatusCompleted, syncjob.StatusFailed:
			swapped, err := s.store.TransitionJob(ctx, j.ID, derived, syncjob.StatusProcessing)
			if err != nil {
				s.logger.Error("stuck job transition failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !swapped {
				continue
			}
			s.finishStuckJob(ctx, j, chunks, derived)
			resolved++
		default:
			// Runnable chunks with nothing in flight: the wake-up was
			// lost. Best-effort re-notify, same as a reclaim.
			if err := s.trig.Notify(ctx, j.ID, trigger.ReasonReclaimed); err != nil {
				s.logger.Warn("stuck job notify failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return resolved
}

// finishStuckJob stamps terminal metadata on a job the sweep just
// transitioned, mirroring what the outcome recorder would have done.
func (s *Sweeper) finishStuckJob(ctx context.Context, j *syncjob.Job, chunks []*syncjob.Chunk, derived syncjob.Status) {
	now := time.Now().UTC()
	j.Status = derived
	j.CompletedAt = &now
	if derived == syncjob.StatusFailed {
		for _, c := range chunks {
			if c.Status == syncjob.ChunkFailed {
				j.ErrorCategory = c.ErrorCategory
				j.ErrorMessage = c.ErrorMessage
				break
			}
		}
	}
	if err := s.store.UpdateJob(ctx, j); err != nil {
		s.logger.Error("stuck job update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	elapsed := now.Sub(j.CreatedAt)
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	if derived == syncjob.StatusFailed {
		s.hooks.EmitJobFailed(ctx, j, fault.New(j.ErrorCategory, j.ErrorMessage))
	} else {
		s.hooks.EmitJobCompleted(ctx, j, elapsed)
	}

	s.logger.Warn("resolved stuck job",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.String("status", string(derived)),
	)
}
