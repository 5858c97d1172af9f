package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"taskplane.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Endpoints reachable without an access token. Login and refresh authenticate
// by other means; logout is authorized by the refresh token it revokes.
var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/validate",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth authenticates the bearer token on protected paths and installs the
// resolved principal. Handlers behind it always see a (user, tenant, role)
// triple; they never re-derive tenant scoping themselves.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			// Every token failure collapses to one generic response.
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole guards a handler with a minimum role in the hierarchy.
func RequireRole(min auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if err := principal.Role.Require(min); err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				code, msg := authErrorStatus(err)
				writeError(w, r, code, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
