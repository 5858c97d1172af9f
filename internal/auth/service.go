package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskplane.io/internal/obs"
)

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service ties together credential verification, token issuance and the
// refresh token rotation state machine.
type Service struct {
	users  UserStore
	tokens RefreshTokenStore
	issuer *Issuer
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(users UserStore, tokens RefreshTokenStore, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("auth: user and token stores are required")
	}
	if issuer == nil {
		return nil, errors.New("auth: issuer is required")
	}
	svc := &Service{users: users, tokens: tokens, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issuer exposes the token issuer, e.g. for tenant hint extraction.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Verify checks credentials for the user scoped to (tenant, email). Unknown
// user and wrong password both come back as ErrInvalidCredentials; a disabled
// account is reported separately but only after the password matched.
func (s *Service) Verify(ctx context.Context, tenantID, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if tenantID == "" || email == "" || password == "" {
		compareDummyPassword(password)
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			compareDummyPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// Login authenticates the user and issues a fresh token pair, persisting the
// refresh token record.
func (s *Service) Login(ctx context.Context, tenantID, email, password string) (TokenPair, *User, error) {
	user, err := s.Verify(ctx, tenantID, email, password)
	if err != nil {
		obs.IncLogin("failure")
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		obs.IncLogin("failure")
		return TokenPair{}, nil, err
	}
	obs.IncLogin("success")
	return pair, user, nil
}

// Refresh exchanges a presented refresh token for a new pair. The rotation is
// atomic: the presented record flips to its terminal rotated state and the
// successor is created in one store transaction. A second concurrent use of
// the same token observes the rotated state and fails with ErrTokenReplay; in
// that case the user's entire lineage is revoked as a theft precaution.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	id, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrTokenNotFound
	}
	rec, err := s.tokens.Find(ctx, id)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		// Correct id with a wrong secret smells like token guessing; burn the
		// record and answer exactly like an unknown token.
		now := s.now().UTC()
		_ = s.tokens.Revoke(ctx, rec.ID, RevokeReasonMismatch, now)
		obs.IncRevocation(RevokeReasonMismatch)
		return TokenPair{}, nil, ErrTokenNotFound
	}

	user, err := s.users.Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrTokenNotFound
		}
		return TokenPair{}, nil, err
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, nil, ErrAccountDisabled
	}

	refreshString, successor, err := s.issuer.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	now := s.now().UTC()
	if err := s.tokens.Rotate(ctx, rec.ID, now, successor); err != nil {
		if errors.Is(err, ErrTokenReplay) {
			obs.IncReplay()
			if _, rerr := s.tokens.RevokeAllForUser(ctx, rec.UserID, rec.TenantID, RevokeReasonReplay, now); rerr == nil {
				obs.IncRevocation(RevokeReasonReplay)
			}
		}
		return TokenPair{}, nil, err
	}
	obs.IncRotation()

	accessToken, accessExp, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: successor.ExpiresAt,
	}, user, nil
}

// Logout revokes the presented refresh token, leaving other sessions intact.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	id, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		return ErrTokenNotFound
	}
	rec, err := s.tokens.Find(ctx, id)
	if err != nil {
		return err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return ErrTokenNotFound
	}
	if err := s.tokens.Revoke(ctx, rec.ID, RevokeReasonLogout, s.now().UTC()); err != nil {
		return err
	}
	obs.IncRevocation(RevokeReasonLogout)
	return nil
}

// LogoutEverywhereByToken resolves the presented refresh token to its owner
// and revokes all of the user's active tokens.
func (s *Service) LogoutEverywhereByToken(ctx context.Context, refreshToken string) (int64, error) {
	id, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		return 0, ErrTokenNotFound
	}
	rec, err := s.tokens.Find(ctx, id)
	if err != nil {
		return 0, err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return 0, ErrTokenNotFound
	}
	return s.LogoutEverywhere(ctx, rec.UserID, rec.TenantID)
}

// LogoutEverywhere revokes every active refresh token of the user.
func (s *Service) LogoutEverywhere(ctx context.Context, userID, tenantID string) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, tenantID, RevokeReasonLogoutAll, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.IncRevocation(RevokeReasonLogoutAll)
	}
	return n, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every active session.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if _, err := s.tokens.RevokeAllForUser(ctx, userID, user.TenantID, RevokeReasonPasswordChange, s.now().UTC()); err != nil {
		return err
	}
	obs.IncRevocation(RevokeReasonPasswordChange)
	return nil
}

// Authenticate validates a bearer access token and resolves the principal
// purely from its claims; no store lookup happens on this path.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.issuer.ValidateAccessToken(token)
	if err != nil {
		return Principal{}, err
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, ErrMalformedToken
	}
	return Principal{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     role,
	}, nil
}

// SweepExpired deletes records whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now().UTC())
}

// SweepOldRevoked deletes records revoked before the retention cutoff.
func (s *Service) SweepOldRevoked(ctx context.Context, retain time.Duration) (int64, error) {
	return s.tokens.DeleteRevokedBefore(ctx, s.now().UTC().Add(-retain))
}

func (s *Service) mintTokens(ctx context.Context, user *User) (TokenPair, error) {
	accessToken, accessExp, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, rec, err := s.issuer.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
