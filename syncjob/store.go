package syncjob

import (
	"context"
	"time"

	"github.com/marchway/mailsync/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// ClaimOpts parameterizes an atomic chunk claim.
type ClaimOpts struct {
	// WorkerID identifies the claiming invocation. Required.
	WorkerID id.WorkerID

	// TenantParallelLimit excludes tenants that already have this many
	// chunks in processing state. Zero disables the cap.
	TenantParallelLimit int
}

// Store defines the persistence contract for sync jobs and chunks.
//
// All mutating operations are atomic: no implementation may expose a
// read-then-write window to concurrent callers. Claim and reclaim racing
// on the same chunk resolve through the backend's exclusive-locking
// discipline, never by blocking one another.
type Store interface {
	// CreateJob persists a job and its full chunk partition in one
	// atomic operation. If any chunk cannot be created the job is
	// rolled back; partial creation is never observable.
	CreateJob(ctx context.Context, j *Job, chunks []*Chunk) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// TransitionJob sets the job's status to `to` only when its current
	// status is one of `from`. Returns false when the job was in none
	// of them, making completion and cancellation transitions
	// idempotent under concurrency.
	TransitionJob(ctx context.Context, jobID id.JobID, to Status, from ...Status) (bool, error)

	// ListJobsByStatus returns jobs in the given status.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs per status.
	CountJobs(ctx context.Context) (map[Status]int64, error)

	// ClaimChunk atomically selects exactly one claimable chunk:
	// status pending/retrying, attempts below budget, NextRetryAt
	// passed, parent pending or processing (deferred chunked jobs are
	// held back), tenant below its parallel cap. It orders by
	// (job priority DESC, chunk_number ASC, created_at ASC),
	// transitions it to processing
	// with attempts+1, StartedAt=now and the claiming worker recorded,
	// and returns it. Returns (nil, nil) when no work is available.
	ClaimChunk(ctx context.Context, opts ClaimOpts) (*Chunk, error)

	// GetChunk retrieves a chunk by ID.
	GetChunk(ctx context.Context, chunkID id.ChunkID) (*Chunk, error)

	// UpdateChunk persists changes to an existing chunk.
	UpdateChunk(ctx context.Context, c *Chunk) error

	// ListChunksByJob returns all chunks of a job ordered by
	// chunk_number.
	ListChunksByJob(ctx context.Context, jobID id.JobID) ([]*Chunk, error)

	// StuckChunks returns chunks that have been in processing state
	// longer than threshold.
	StuckChunks(ctx context.Context, threshold time.Duration) ([]*Chunk, error)

	// ReclaimChunk resets one stuck chunk to pending (clearing
	// worker and StartedAt, leaving attempts untouched) but only if it
	// is still processing and was started before the given cutoff. The
	// conditional guard makes the sweep safe against a racing claim.
	// Returns false when the chunk no longer matched.
	ReclaimChunk(ctx context.Context, chunkID id.ChunkID, startedBefore time.Time) (bool, error)

	// ResetChunk unconditionally returns a chunk to pending, clearing
	// its worker, timestamps, and error. When resetAttempts is true the
	// attempt counter is zeroed as well. Operator-facing.
	ResetChunk(ctx context.Context, chunkID id.ChunkID, resetAttempts bool) error

	// ResetChunksByJob applies ResetChunk to every non-completed chunk
	// of a job and returns how many were reset.
	ResetChunksByJob(ctx context.Context, jobID id.JobID, resetAttempts bool) (int64, error)

	// PurgeTerminalJobs removes jobs that reached a terminal status
	// before the given time, together with their chunks. Returns the
	// number of jobs removed.
	PurgeTerminalJobs(ctx context.Context, before time.Time) (int64, error)
}
