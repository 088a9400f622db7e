package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/scope"
)

// Trail writes audit entries with the actor resolved from the request
// context. A failed write is logged, never propagated: auditing must
// not block the pipeline.
type Trail struct {
	store  Store
	logger *slog.Logger
}

// NewTrail creates a Trail over the given store.
func NewTrail(store Store, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{store: store, logger: logger}
}

// Record builds and appends an entry. The actor comes from the scope
// on ctx, falling back to "system".
func (t *Trail) Record(ctx context.Context, action, severity, resource, resourceID, tenantID, reason string, meta map[string]any) {
	entry := &Entry{
		ID:         id.NewAuditID(),
		Actor:      scope.ActorFrom(ctx, ActorSystem),
		Action:     action,
		Severity:   severity,
		Resource:   resource,
		ResourceID: resourceID,
		TenantID:   tenantID,
		Reason:     reason,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.AppendAudit(ctx, entry); err != nil {
		t.logger.Warn("failed to append audit entry",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
	}
}

// Store returns the underlying audit store for list queries.
func (t *Trail) Store() Store { return t.store }
