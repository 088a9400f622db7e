// Package audit provides the append-only audit trail for job and chunk
// lifecycle transitions and operator interventions. Every entry records
// who (actor), what (action + resource), and why (reason), with
// structured metadata for forensics. Entries are never updated or
// deleted except by retention purge.
package audit

import (
	"context"
	"time"

	"github.com/marchway/mailsync/id"
)

// Audit actions. Lifecycle actions are emitted by the trail hook;
// operator actions are recorded directly by the engine's admin
// operations.
const (
	ActionJobCreated     = "job.created"
	ActionJobReleased    = "job.released"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobCancelled   = "job.cancelled"
	ActionChunkRetrying  = "chunk.retrying"
	ActionChunkFailed    = "chunk.failed"
	ActionChunkReclaimed = "chunk.reclaimed"
	ActionChunkReset     = "chunk.reset"
	ActionDeadLettered   = "dlq.archived"
	ActionDLQReplayed    = "dlq.replayed"
	ActionRetentionPurge = "retention.purged"
)

// Resource types used as the Resource field of entries.
const (
	ResourceJob   = "sync_job"
	ResourceChunk = "chunk"
	ResourceDLQ   = "dlq_entry"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ActorSystem is the actor recorded for entries not attributable to a
// human operator.
const ActorSystem = "system"

// Entry is one immutable audit record.
type Entry struct {
	ID         id.AuditID     `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Severity   string         `json:"severity"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ListOpts controls filtering and pagination for audit queries.
type ListOpts struct {
	TenantID   string
	Action     string
	ResourceID string
	Limit      int
	Offset     int
}

// Store defines the persistence contract for the audit trail.
type Store interface {
	// AppendAudit persists an entry. Entries are immutable once written.
	AppendAudit(ctx context.Context, entry *Entry) error

	// ListAudit returns entries matching the given options, newest first.
	ListAudit(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// PurgeAudit removes entries created before the given time. Returns
	// the number of entries removed.
	PurgeAudit(ctx context.Context, before time.Time) (int64, error)
}
