package syncjob

import (
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
)

// Status represents the lifecycle state of a sync job.
type Status string

const (
	// StatusPending means the job is decomposed and waiting for its
	// first chunk to be claimed.
	StatusPending Status = "pending"
	// StatusChunked means the job was decomposed but intentionally left
	// dormant (created with Deferred); its chunks are not claimable
	// until the job is released to pending.
	StatusChunked Status = "chunked"
	// StatusProcessing means at least one chunk is being executed.
	StatusProcessing Status = "processing"
	// StatusCompleted means every chunk completed successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means no chunk can make further progress and at
	// least one failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was externally cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the job may still make progress. Note that a
// chunked (deferred) job is active but its chunks are not claimable
// until the job is released.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusChunked || s == StatusProcessing
}

// Kind classifies why a synchronization was requested.
type Kind string

const (
	// KindInitial is the first full historical sync of a mailbox.
	KindInitial Kind = "initial"
	// KindIncremental picks up changes since the last sync.
	KindIncremental Kind = "incremental"
	// KindManual is an operator- or user-requested re-sync.
	KindManual Kind = "manual"
	// KindRetry is a re-run of a previously failed sync.
	KindRetry Kind = "retry"
)

// Job represents one synchronization request for one mailbox, owned by
// exactly one tenant and decomposed into TotalChunks chunk records.
type Job struct {
	mailsync.Entity

	ID        id.JobID `json:"id"`
	TenantID  string   `json:"tenant_id"`
	MailboxID string   `json:"mailbox_id"`

	Kind     Kind `json:"kind"`
	Priority int  `json:"priority"`

	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`

	EstimatedCount int `json:"estimated_count"`
	TotalChunks    int `json:"total_chunks"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	ErrorCategory fault.Category `json:"error_category,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`

	// Metadata carries free-form provenance and counters (JSON object).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Progress is the derived completion summary of one job.
type Progress struct {
	JobID           id.JobID `json:"job_id"`
	Status          Status   `json:"status"`
	Total           int      `json:"total"`
	Completed       int      `json:"completed"`
	Processing      int      `json:"processing"`
	Pending         int      `json:"pending"`
	Failed          int      `json:"failed"`
	EmailsProcessed int      `json:"emails_processed"`
	EmailsFailed    int      `json:"emails_failed"`
	Percentage      float64  `json:"percentage"`
}

// DeriveStatus computes the job status projection from its chunks.
// The projection is commutative and idempotent: concurrent completions
// from different chunks converge to the same value regardless of
// arrival order.
func DeriveStatus(chunks []*Chunk) Status {
	if len(chunks) == 0 {
		return StatusPending
	}

	var pending, processing, completed, failed int
	for _, c := range chunks {
		switch c.Status {
		case ChunkPending, ChunkRetrying:
			pending++
		case ChunkProcessing:
			processing++
		case ChunkCompleted:
			completed++
		case ChunkFailed:
			failed++
		}
	}

	switch {
	case completed == len(chunks):
		return StatusCompleted
	case processing > 0:
		return StatusProcessing
	case pending == 0 && failed > 0:
		return StatusFailed
	case completed > 0:
		// Mix of completed and pending with nothing in flight: the job
		// has started and is between chunks.
		return StatusProcessing
	default:
		return StatusPending
	}
}

// DeriveProgress computes the progress summary from a job's chunks.
func DeriveProgress(j *Job, chunks []*Chunk) *Progress {
	p := &Progress{
		JobID:  j.ID,
		Status: j.Status,
		Total:  len(chunks),
	}
	for _, c := range chunks {
		switch c.Status {
		case ChunkPending, ChunkRetrying:
			p.Pending++
		case ChunkProcessing:
			p.Processing++
		case ChunkCompleted:
			p.Completed++
		case ChunkFailed:
			p.Failed++
		}
		p.EmailsProcessed += c.EmailsProcessed
		p.EmailsFailed += c.EmailsFailed
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}
