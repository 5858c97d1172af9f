package auth

import "time"

const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDisabled  = "disabled"
)

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonRotated        = "rotated"
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutAll      = "logout_everywhere"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonReplay         = "replay_detected"
	RevokeReasonMismatch       = "secret_mismatch"
)

// User is an account scoped to one tenant. Email is unique per tenant, not
// globally. Users are never physically deleted here; status changes only.
type User struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"-"`
	Status        string    `json:"-"`
	EmailVerified bool      `json:"-"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}

// RefreshToken is the persisted half of an opaque refresh credential. Only a
// sha256 hash of the secret is stored; the cleartext exists once, in the login
// or refresh response. A record is ACTIVE until it is revoked (rotation,
// logout, security event) or its expiry passes; both states are terminal.
type RefreshToken struct {
	ID            string
	UserID        string
	TenantID      string
	TokenHash     string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string
}

// Expired reports whether the record's lifetime has passed. Expiry is judged
// lazily at read time; no background timer flips a flag. The expiry instant
// itself counts as expired, matching the `expires_at > now` guard the SQL
// store uses for state transitions.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// terminalErr classifies a token that failed the active check. Revocation wins
// over expiry because its reason is more specific for audit purposes.
func (t *RefreshToken) terminalErr(now time.Time) error {
	switch {
	case t.Revoked && t.RevokedReason == RevokeReasonRotated:
		return ErrTokenReplay
	case t.Revoked:
		return ErrTokenRevoked
	case t.Expired(now):
		return ErrTokenExpired
	default:
		return nil
	}
}

// Principal is the resolved identity handed to business handlers. It carries
// everything the business layer needs so it never re-derives tenant scoping.
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
}
