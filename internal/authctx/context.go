// internal/authctx/context.go
//
// Request-actor carrier for ledger operations.
//
// Context
// -------
// The ledger core trusts whatever authentication layer sits in front of it
// to resolve the caller into a (tenant_id, member_id) pair; it never checks
// credentials itself.  That pair travels through context.Context so stores
// and engines stay free of HTTP concerns.
//
// Usage
// -----
//	// After the auth layer resolves the caller.
//	ctx = authctx.WithActor(ctx, authctx.Actor{TenantID: 7, MemberID: 1042})
//
//	// Downstream code retrieves it.
//	act, ok := authctx.FromContext(ctx)
//
// Notes
// -----
//   - MemberID may be zero for operator/admin calls that act on a tenant
//     rather than on one member.
//   - Oxford commas, two spaces after periods.
package authctx

import "context"

// Actor identifies the caller of a ledger operation.
type Actor struct {
	TenantID uint64
	MemberID uint64
}

// actorKey is unexported to avoid context-key collisions.
type actorKey struct{}

// WithActor returns a new context carrying the given actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext extracts the actor from ctx.  The second return is false when
// no actor has been attached.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// LogFields returns sugared-logger keyvals describing the actor, or nil when
// ctx carries none.  Lets audit log lines pick up the caller for free.
func LogFields(ctx context.Context) []any {
	a, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return []any{"actor_tenant", a.TenantID, "actor_member", a.MemberID}
}
