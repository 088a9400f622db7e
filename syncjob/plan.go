package syncjob

import (
	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/id"
)

// CreateRequest describes one sync job to be created and decomposed.
type CreateRequest struct {
	// TenantID is the owning tenant. Required.
	TenantID string
	// MailboxID is the mailbox to synchronize. Required.
	MailboxID string
	// Kind classifies the sync. Required.
	Kind Kind

	// EstimatedCount is the expected number of items. Zero means apply
	// the per-kind policy default.
	EstimatedCount int

	// Priority orders this job against others of the same tenant.
	// Higher runs sooner.
	Priority int

	// MaxAttempts overrides the configured attempt budget. Zero keeps
	// the default.
	MaxAttempts int

	// Deferred creates the job in chunked state instead of pending, so
	// no invocation is triggered until the job is explicitly released.
	Deferred bool

	// Metadata is attached to the job as-is.
	Metadata map[string]any
}

// PlanSizes splits an estimate into chunk sizes of at most base each.
// The last chunk carries the remainder: PlanSizes(250, 100) = [100 100 50].
// Estimates below one are raised to one so every job has at least one
// chunk.
func PlanSizes(estimate, base int) []int {
	if estimate < 1 {
		estimate = 1
	}
	if base < 1 {
		base = 1
	}

	total := (estimate + base - 1) / base
	sizes := make([]int, total)
	remaining := estimate
	for i := range sizes {
		if remaining < base {
			sizes[i] = remaining
		} else {
			sizes[i] = base
		}
		remaining -= sizes[i]
	}
	return sizes
}

// Plan materializes a CreateRequest into one Job and its full chunk
// partition. The caller persists both in a single atomic store
// operation; partial creation must never be observable.
func Plan(req CreateRequest, cfg mailsync.Config) (*Job, []*Chunk) {
	estimate := req.EstimatedCount
	if estimate <= 0 {
		estimate = cfg.EstimateFor(string(req.Kind))
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cfg.MaxAttempts
	}

	sizes := PlanSizes(estimate, cfg.BaseChunkSize)

	status := StatusPending
	if req.Deferred {
		status = StatusChunked
	}

	j := &Job{
		Entity:         mailsync.NewEntity(),
		ID:             id.NewJobID(),
		TenantID:       req.TenantID,
		MailboxID:      req.MailboxID,
		Kind:           req.Kind,
		Priority:       req.Priority,
		Status:         status,
		MaxAttempts:    maxAttempts,
		EstimatedCount: estimate,
		TotalChunks:    len(sizes),
		Metadata:       req.Metadata,
	}

	chunks := make([]*Chunk, len(sizes))
	for i, size := range sizes {
		chunks[i] = &Chunk{
			Entity:      mailsync.NewEntity(),
			ID:          id.NewChunkID(),
			JobID:       j.ID,
			TenantID:    req.TenantID,
			ChunkNumber: i + 1,
			TotalChunks: len(sizes),
			Size:        size,
			Priority:    i + 1,
			Status:      ChunkPending,
			MaxAttempts: maxAttempts,
		}
	}

	return j, chunks
}

// ChunkSpan returns the 1-based inclusive item range [first, last]
// covered by a chunk, derived from its number and size against the base
// chunk size. Executors use it to window their provider queries.
func ChunkSpan(c *Chunk, base int) (first, last int) {
	if base < 1 {
		base = 1
	}
	first = (c.ChunkNumber-1)*base + 1
	last = first + c.Size - 1
	return first, last
}
