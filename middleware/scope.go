package middleware

import (
	"context"

	"github.com/marchway/mailsync/scope"
	"github.com/marchway/mailsync/syncjob"
)

// Scope returns middleware that injects the chunk's owning tenant into
// the context. Executors and downstream stores then see the same
// tenant scope as the original create caller.
func Scope() Middleware {
	return func(ctx context.Context, c *syncjob.Chunk, next Handler) error {
		if c.TenantID != "" {
			ctx = scope.WithScope(ctx, scope.Scope{
				TenantID: c.TenantID,
				Actor:    c.WorkerID.String(),
			})
		}
		return next(ctx)
	}
}
