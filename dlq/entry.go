package dlq

import (
	"time"

	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
)

// Entry represents sync work that has exhausted its retry budget and
// been moved to the dead-letter archive for inspection or replay.
type Entry struct {
	ID      id.DLQID   `json:"id"`
	JobID   id.JobID   `json:"job_id"`
	ChunkID id.ChunkID `json:"chunk_id,omitempty"`

	TenantID  string `json:"tenant_id"`
	MailboxID string `json:"mailbox_id"`

	ErrorCategory fault.Category `json:"error_category"`
	ErrorMessage  string         `json:"error_message"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`

	// Snapshot is the JSON-encoded chunk (or job, for job-level
	// entries) as it looked at the moment of terminal failure.
	Snapshot []byte `json:"snapshot,omitempty"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Replayed reports whether the entry has already been replayed.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
