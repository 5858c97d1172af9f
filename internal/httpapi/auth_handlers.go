package httpapi

import (
	"errors"
	"net/http"
	"time"

	"taskplane.io/internal/audit"
	"taskplane.io/internal/auth"
	"taskplane.io/internal/tenant"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Everywhere   bool   `json:"everywhere"`
}

type validateRequest struct {
	Token string `json:"token"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         userPayload `json:"user"`
}

func newTokenResponse(pair auth.TokenPair, user *auth.User) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Seconds()),
		ExpiresAt:    pair.AccessExpiresAt,
		User: userPayload{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Role:      user.Role.String(),
			TenantID:  user.TenantID,
		},
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	tenantID := a.tenants.Current(r.Context())
	start := time.Now()
	pair, user, err := a.auth.Login(r.Context(), tenantID, req.Email, req.Password)
	entry := audit.Entry{
		TenantID:   tenantID,
		Action:     "auth.login",
		TargetType: "user",
		Duration:   time.Since(start),
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Message = err.Error()
		a.record(r, entry)
		code, msg := authErrorStatus(err)
		writeError(w, r, code, msg)
		return
	}
	entry.Outcome = audit.OutcomeSuccess
	entry.ActorID = user.ID
	entry.ActorEmail = user.Email
	entry.TargetID = user.ID
	a.record(r, entry)

	writeJSON(w, http.StatusOK, newTokenResponse(pair, user))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	start := time.Now()
	pair, user, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	entry := audit.Entry{
		TenantID: a.tenants.Current(r.Context()),
		Action:   "auth.refresh",
		Duration: time.Since(start),
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Message = err.Error()
		if errors.Is(err, auth.ErrTokenReplay) {
			// Possible theft signal; keep the response generic but flag the
			// audit record.
			entry.Severity = audit.SeveritySecurity
			entry.Action = "auth.refresh.replay"
		}
		a.record(r, entry)
		code, msg := authErrorStatus(err)
		writeError(w, r, code, msg)
		return
	}
	entry.Outcome = audit.OutcomeSuccess
	entry.ActorID = user.ID
	entry.ActorEmail = user.Email
	entry.TenantID = user.TenantID
	a.record(r, entry)

	writeJSON(w, http.StatusOK, newTokenResponse(pair, user))
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	token := req.Token
	if token == "" {
		if extracted, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			token = extracted
		}
	}
	principal, err := a.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"user_id":   principal.UserID,
		"tenant_id": principal.TenantID,
		"role":      principal.Role.String(),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	start := time.Now()
	var err error
	action := "auth.logout"
	if req.Everywhere {
		action = "auth.logout_everywhere"
		_, err = a.auth.LogoutEverywhereByToken(r.Context(), req.RefreshToken)
	} else {
		err = a.auth.Logout(r.Context(), req.RefreshToken)
	}
	entry := audit.Entry{
		TenantID: a.tenants.Current(r.Context()),
		Action:   action,
		Duration: time.Since(start),
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Message = err.Error()
		a.record(r, entry)
		code, msg := authErrorStatus(err)
		writeError(w, r, code, msg)
		return
	}
	entry.Outcome = audit.OutcomeSuccess
	a.record(r, entry)

	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   principal.UserID,
		"tenant_id": principal.TenantID,
		"role":      principal.Role.String(),
	})
}

func (a *API) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	start := time.Now()
	err := a.auth.ChangePassword(r.Context(), principal.UserID, req.CurrentPassword, req.NewPassword)
	entry := audit.Entry{
		TenantID:   principal.TenantID,
		ActorID:    principal.UserID,
		Action:     "auth.password_change",
		TargetType: "user",
		TargetID:   principal.UserID,
		Duration:   time.Since(start),
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Message = err.Error()
		a.record(r, entry)
		code, msg := authErrorStatus(err)
		writeError(w, r, code, msg)
		return
	}
	entry.Outcome = audit.OutcomeSuccess
	a.record(r, entry)

	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// record enriches an entry with request metadata and hands it to the audit
// recorder; recording never blocks the response.
func (a *API) record(r *http.Request, entry audit.Entry) {
	if a.recorder == nil {
		return
	}
	entry.IP = clientIP(r)
	entry.UserAgent = r.UserAgent()
	a.recorder.Record(r.Context(), entry)
}

// authErrorStatus maps service errors onto boundary responses. Credential and
// token failures collapse into a generic unauthorized answer; only a disabled
// account, reachable solely after a correct password, is distinguishable.
// Anything unexpected fails closed.
func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, "account disabled"
	case errors.Is(err, auth.ErrInsufficientRole):
		return http.StatusForbidden, "insufficient role"
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrMalformedToken),
		errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrTokenReplay):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, tenant.ErrInvalidTenant):
		return http.StatusBadRequest, "invalid tenant identifier"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
