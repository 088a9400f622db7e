package syncjob

import (
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
)

// ChunkStatus represents the lifecycle state of a chunk.
type ChunkStatus string

const (
	// ChunkPending means the chunk is waiting to be claimed.
	ChunkPending ChunkStatus = "pending"
	// ChunkProcessing means a worker invocation has claimed the chunk.
	ChunkProcessing ChunkStatus = "processing"
	// ChunkCompleted means the chunk finished successfully. Terminal.
	ChunkCompleted ChunkStatus = "completed"
	// ChunkFailed means the chunk exhausted its retry budget. Terminal.
	ChunkFailed ChunkStatus = "failed"
	// ChunkRetrying means the chunk failed and becomes claimable again
	// once NextRetryAt has passed.
	ChunkRetrying ChunkStatus = "retrying"
)

// Terminal reports whether the status admits no further transitions.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkCompleted || s == ChunkFailed
}

// Claimable reports whether a chunk in this status may be claimed
// (subject to NextRetryAt and the attempt budget).
func (s ChunkStatus) Claimable() bool {
	return s == ChunkPending || s == ChunkRetrying
}

// Chunk is one bounded slice of a sync job's estimated workload,
// independently claimable by a worker invocation.
//
// ChunkNumber values for one job form the contiguous partition
// 1..TotalChunks with no duplicates and no gaps. Priority equals
// ChunkNumber so that chunks of the same job execute in creation order
// without a separate ordering field.
type Chunk struct {
	mailsync.Entity

	ID       id.ChunkID `json:"id"`
	JobID    id.JobID   `json:"job_id"`
	TenantID string     `json:"tenant_id"`

	ChunkNumber int `json:"chunk_number"`
	TotalChunks int `json:"total_chunks"`
	Size        int `json:"size"`
	Priority    int `json:"priority"`

	Status      ChunkStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`

	WorkerID    id.WorkerID `json:"worker_id,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	NextRetryAt *time.Time  `json:"next_retry_at,omitempty"`

	// Checkpoint is opaque executor-defined resume state. A reclaimed
	// chunk is re-executed with its last checkpoint so the executor can
	// continue mid-chunk instead of starting over.
	Checkpoint []byte `json:"checkpoint,omitempty"`

	EmailsProcessed int           `json:"emails_processed"`
	EmailsFailed    int           `json:"emails_failed"`
	Duration        time.Duration `json:"duration,omitempty"`

	ErrorCategory fault.Category `json:"error_category,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}
