package auth

import (
	"context"
	"time"
)

// UserStore manages tenant-scoped accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail is always scoped to a tenant; authentication never looks a
	// user up by email alone.
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetStatus(ctx context.Context, userID, status string) error
}

// RefreshTokenStore manages the refresh token lifecycle. A record is ACTIVE
// until revoked or expired; no operation leaves a terminal state.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)

	// Rotate atomically marks the record revoked with reason "rotated" and
	// creates the successor. Exactly one of two concurrent rotations of the
	// same record succeeds; the loser observes the rotated state and gets
	// ErrTokenReplay. Other terminal states yield ErrTokenRevoked or
	// ErrTokenExpired; a missing record yields ErrTokenNotFound.
	Rotate(ctx context.Context, id string, now time.Time, successor *RefreshToken) error

	// Revoke marks a single ACTIVE record revoked. Terminal records are left
	// untouched and reported via the usual classification errors.
	Revoke(ctx context.Context, id, reason string, now time.Time) error

	// RevokeAllForUser revokes every ACTIVE record of the user. Returns the
	// number of records affected.
	RevokeAllForUser(ctx context.Context, userID, tenantID, reason string, now time.Time) (int64, error)

	// DeleteExpired removes records whose expiry passed before now; ACTIVE
	// records with a future expiry are never touched.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteRevokedBefore removes records revoked before the cutoff.
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
