// Package tenant resolves and carries the tenant identifier for one request.
//
// Tenant state lives exclusively in the request context, never in package or
// goroutine state, so nothing can leak between requests that share a pooled
// worker: the context dies with the request.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"taskplane.io/internal/obs"
)

// Header carries an explicit tenant identifier on inbound requests.
const Header = "X-Tenant-ID"

// ErrInvalidTenant indicates a present but malformed tenant identifier.
var ErrInvalidTenant = errors.New("tenant: invalid tenant identifier")

var (
	numericPattern = regexp.MustCompile(`^[1-9][0-9]*$`)
	slugPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)
)

// Validate checks an explicit tenant identifier against the accepted shapes:
// a positive decimal number or a 3-50 character slug.
func Validate(id string) error {
	if numericPattern.MatchString(id) || slugPattern.MatchString(id) {
		return nil
	}
	return ErrInvalidTenant
}

type tenantContextKey struct{}

// WithTenant returns a context carrying the tenant identifier.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, id)
}

// FromContext returns the tenant identifier if one was resolved.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// RunScoped executes fn with the tenant overridden on a derived context. The
// caller's context is untouched, so nested scoped calls compose and the outer
// value is intact afterward regardless of how fn returns.
func RunScoped(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	if err := Validate(tenantID); err != nil {
		return err
	}
	return fn(WithTenant(ctx, tenantID))
}

// Resolver resolves the tenant for inbound requests.
type Resolver struct {
	// Default is used for unauthenticated/public endpoints when neither the
	// header nor a token hint identifies the tenant.
	Default string

	// TokenHint extracts a best-effort tenant claim from a bearer token.
	// Malformed or expired tokens must yield "".
	TokenHint func(token string) string
}

// Resolve determines the request's tenant: explicit header first, then the
// access token claim, then the configured default. An invalid header fails
// outright rather than falling through.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	if raw := strings.TrimSpace(req.Header.Get(Header)); raw != "" {
		if err := Validate(raw); err != nil {
			return "", err
		}
		return raw, nil
	}
	if r.TokenHint != nil {
		if token := bearerToken(req); token != "" {
			if hint := r.TokenHint(token); hint != "" && Validate(hint) == nil {
				return hint, nil
			}
		}
	}
	return r.Default, nil
}

// Current returns the tenant from ctx, falling back to the configured default.
// The fallback is logged; it is expected only on public endpoints.
func (r *Resolver) Current(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	obs.LogRequest(map[string]any{
		"level": "warn",
		"msg":   "tenant fallback to default",
	})
	return r.Default
}

func bearerToken(req *http.Request) string {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
