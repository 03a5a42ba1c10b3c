package auth

import "context"

// Principal is the authenticated identity attached to a request after
// token verification. It is immutable for the lifetime of the request.
type Principal struct {
	ID    int
	Email string
	Role  string
}

type contextKey string

const contextPrincipalKey contextKey = "principal"

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, p)
}

// PrincipalFromContext returns the principal attached by the
// authentication middleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextPrincipalKey).(Principal)
	return p, ok
}
