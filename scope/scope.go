// Package scope carries tenant identity on context.Context and provides
// the tenant-scoping check applied before reads and writes.
//
// Access policy is an explicit, testable function here rather than
// database-enforced predicates: repositories and the engine call
// [Authorize] with the acting scope and the owning tenant of the
// resource before touching it.
package scope

import "context"

type ctxKey struct{}

// Scope identifies the acting tenant and, optionally, the operator
// performing a manual action on its behalf.
type Scope struct {
	// TenantID is the tenant the caller acts for. A system scope has
	// an empty TenantID and passes every check.
	TenantID string

	// Actor names the human or service principal for audit trails.
	Actor string

	// System marks internal scheduler components (sweep, retention,
	// trigger chaining) that operate across tenants.
	System bool
}

// SystemScope returns the scope used by internal scheduler components.
func SystemScope(actor string) Scope {
	return Scope{Actor: actor, System: true}
}

// WithScope attaches a scope to the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext extracts the scope from the context. The second return
// value reports whether a scope was present.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// Authorize reports whether the acting scope may touch a resource owned
// by the given tenant. System scopes pass; tenant scopes must match the
// owner exactly. An absent scope is treated as system for library
// embedders that enforce access upstream.
func Authorize(ctx context.Context, ownerTenantID string) bool {
	s, ok := FromContext(ctx)
	if !ok || s.System {
		return true
	}
	return s.TenantID == ownerTenantID
}

// ActorFrom returns the audit actor recorded on the context, or the
// fallback when none is set.
func ActorFrom(ctx context.Context, fallback string) string {
	if s, ok := FromContext(ctx); ok && s.Actor != "" {
		return s.Actor
	}
	return fallback
}
