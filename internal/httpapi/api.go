package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"taskplane.io/internal/audit"
	"taskplane.io/internal/auth"
	"taskplane.io/internal/obs"
	"taskplane.io/internal/tenant"
)

// ReadyProbe checks dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Auth    *auth.Service
	Tenants *tenant.Resolver
	Audit   *audit.Recorder
	Ready   ReadyProbe
	Version string

	MaxBodyBytes  int64
	RatePerSecond int
	RateBurst     int
}

// API is the HTTP boundary of the identity core.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	tenants  *tenant.Resolver
	recorder *audit.Recorder

	readyProbe ReadyProbe
	version    string

	maxBodyBytes  int64
	ratePerSecond int
	rateBurst     int
}

func New(deps Deps) *API {
	a := &API{
		mux:           http.NewServeMux(),
		auth:          deps.Auth,
		tenants:       deps.Tenants,
		recorder:      deps.Audit,
		readyProbe:    deps.Ready,
		version:       deps.Version,
		maxBodyBytes:  deps.MaxBodyBytes,
		ratePerSecond: deps.RatePerSecond,
		rateBurst:     deps.RateBurst,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 64 << 10
	}
	if a.ratePerSecond <= 0 {
		a.ratePerSecond = 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/validate", a.handleValidate)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/password", a.handlePassword)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler composes the middleware chain around the mux. Tenant resolution
// happens on every request; bearer authentication only where required.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = a.withAuth(h)
	h = a.withTenant(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "taskplane-identity",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// withTenant resolves the tenant for every request and installs it into the
// request context. Malformed identifiers are rejected before any handler runs.
func (a *API) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.tenants.Resolve(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid tenant identifier")
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), id)))
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
