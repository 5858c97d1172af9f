package auth

import "context"

// principalKey is unexported so only this package can install a principal;
// handlers cannot forge one from outside the authentication path.
type principalKey struct{}

// ContextWithPrincipal returns a child context carrying the authenticated
// principal. The HTTP boundary installs it exactly once per request, after the
// bearer token has been validated.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal installed by the boundary.
// A missing principal means the request never passed authentication.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
