package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown user and password mismatch so
	// responses never reveal whether an account exists.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDisabled    = errors.New("auth: account disabled")

	ErrTokenExpired     = errors.New("auth: token expired")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrMalformedToken   = errors.New("auth: malformed token")

	ErrTokenNotFound = errors.New("auth: refresh token not found")
	ErrTokenRevoked  = errors.New("auth: refresh token revoked")
	// ErrTokenReplay marks a second use of an already rotated refresh token.
	ErrTokenReplay = errors.New("auth: refresh token replay detected")

	ErrInsufficientRole = errors.New("auth: insufficient role")
	ErrNotFound         = errors.New("auth: not found")
)
