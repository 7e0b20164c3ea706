package shared

import "context"

type principalContextKey struct{}

// Principal is the authenticated identity attached to a request.
// It is read-only input to the auth core; account management owns the rows.
type Principal struct {
	ID     int64
	Role   string
	Active bool
}

// Roles form a small closed set.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
