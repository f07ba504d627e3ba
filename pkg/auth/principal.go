package auth

import "context"

// Principal is an authenticated caller. Uploads are owned by the
// principal's ID; Admin gates the maintenance endpoint.
type Principal struct {
	// ID is the stable user identifier. Uploads record it as owner_id.
	ID string

	// Admin is true when the principal may trigger maintenance.
	Admin bool

	// Method names the provider that authenticated the request
	// ("api_key" or "bearer").
	Method string
}

type contextKey struct{}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
