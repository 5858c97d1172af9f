package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskplane.io/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the JWT claims embedded in every access token. An access token is
// self-contained: validation never consults storage, which trades instant
// revocation for a bounded exposure window equal to the access TTL.
type Claims struct {
	TenantID string `json:"tenant"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints and validates access tokens and generates opaque refresh
// credentials. The signing secret never leaves this type.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer signing with the given HS256 secret.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	iss := &Issuer{
		secret:     []byte(secret),
		issuer:     "taskplane",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken signs a JWT asserting the user's identity, tenant and role.
func (i *Issuer) IssueAccessToken(user *User) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, errors.New("auth: user is required")
	}
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := Claims{
		TenantID: user.TenantID,
		Role:     user.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateAccessToken verifies signature, expiry and structural shape. It
// never touches a store.
func (i *Issuer) ValidateAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		default:
			return nil, ErrMalformedToken
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return nil, ErrMalformedToken
	}
	if _, err := ParseRole(claims.Role); err != nil {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// ParseTenantHint extracts the tenant claim without verifying the token.
// Malformed or expired input yields an empty string, never an error; the
// result is only ever a fallback hint for tenant resolution.
func (i *Issuer) ParseTenantHint(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return strings.TrimSpace(claims.TenantID)
}

// IssueRefreshToken generates an opaque refresh credential of the form
// "<id>.<secret>". The returned string is the only time the cleartext secret
// exists outside the caller; the record carries its sha256 hash.
func (i *Issuer) IssueRefreshToken(user *User) (string, *RefreshToken, error) {
	if user == nil || user.ID == "" {
		return "", nil, errors.New("auth: user is required")
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := i.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: HashRefreshSecret(secret),
		ExpiresAt: now.Add(i.refreshTTL),
		CreatedAt: now,
	}
	return rec.ID + "." + secret, rec, nil
}

// SplitRefreshToken separates an opaque refresh credential into record id and
// secret.
func SplitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrMalformedToken
	}
	return parts[0], parts[1], nil
}

// HashRefreshSecret produces the stored one-way hash of a refresh secret.
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// secureCompareHash compares a stored hash with the hash of a presented
// secret in constant time.
func secureCompareHash(expectedHash, secret string) bool {
	actual := HashRefreshSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
