package dlq

import (
	"context"
	"time"

	"github.com/marchway/mailsync/id"
)

// ListOpts controls pagination and filtering for archive list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// Store defines the persistence contract for the dead-letter archive.
type Store interface {
	// PushDLQ adds an entry to the archive. Pushing a second entry for
	// the same chunk is allowed; each terminal failure is its own row.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks an entry as replayed. The actual reset of the
	// dead work is handled at the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the number of entries, optionally per tenant.
	// Empty tenantID counts everything.
	CountDLQ(ctx context.Context, tenantID string) (int64, error)
}
