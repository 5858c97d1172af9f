package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testEnv struct {
	svc    *Service
	users  *MemoryUserStore
	tokens *MemoryTokenStore
	user   *User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := NewMemoryUserStore()
	tokens := NewMemoryTokenStore()
	iss, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc, err := NewService(users, tokens, iss)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	hash, err := HashPassword("p1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &User{
		TenantID:     "1",
		Email:        "a@x.com",
		FirstName:    "Ada",
		LastName:     "Example",
		PasswordHash: hash,
		Role:         RoleUser,
		Status:       UserStatusActive,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &testEnv{svc: svc, users: users, tokens: tokens, user: user}
}

func TestVerifyCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.Verify(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.ID != env.user.ID {
		t.Fatalf("unexpected user: %s", user.ID)
	}

	// A single character mutation anywhere in the password must fail.
	for _, pw := range []string{"p2", "P1", "p1 ", " p1", "q1"} {
		if _, err := env.svc.Verify(ctx, "1", "a@x.com", pw); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("password %q: expected ErrInvalidCredentials, got %v", pw, err)
		}
	}

	// Unknown user answers exactly like a wrong password.
	if _, err := env.svc.Verify(ctx, "1", "nobody@x.com", "p1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestVerifyIsTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Same email, different tenant: authentication never crosses tenants.
	if _, err := env.svc.Verify(ctx, "2", "a@x.com", "p1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials across tenants, got %v", err)
	}
}

func TestVerifyDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.users.SetStatus(ctx, env.user.ID, UserStatusSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := env.svc.Verify(ctx, "1", "a@x.com", "p1"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	// Wrong password on a disabled account still reads as bad credentials so
	// the response does not confirm the account exists.
	if _, err := env.svc.Verify(ctx, "1", "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginIssuesValidPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, user, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Email != "a@x.com" {
		t.Fatalf("unexpected user: %s", user.Email)
	}
	principal, err := env.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.UserID != user.ID || principal.TenantID != "1" || principal.Role != RoleUser {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if pair.RefreshToken == "" || pair.RefreshExpiresAt.Before(pair.AccessExpiresAt) {
		t.Fatalf("refresh token must outlive the access token: %+v", pair)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	next, _, err := env.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must produce a different refresh token value")
	}

	// The exchanged token is terminal: re-use is replay.
	if _, _, err := env.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenReplay) {
		t.Fatalf("expected ErrTokenReplay, got %v", err)
	}

	// Replay detection revoked the whole lineage, successor included.
	if _, _, err := env.svc.Refresh(ctx, next.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected lineage revoked after replay, got %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const racers = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		replays int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := env.svc.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenReplay):
				replays++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || replays != 1 {
		t.Fatalf("expected exactly one winner and one replay, got wins=%d replays=%d", wins, replays)
	}

	// Nothing of this lineage may remain active after the replay signal.
	id, _, _ := SplitRefreshToken(pair.RefreshToken)
	rec, err := env.tokens.Find(ctx, id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !rec.Revoked {
		t.Fatal("presented token must be terminal")
	}
}

func TestRevokeAllBlocksRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := env.svc.LogoutEverywhere(ctx, env.user.ID, "1"); err != nil {
		t.Fatalf("LogoutEverywhere: %v", err)
	}
	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, _, err := env.svc.Refresh(ctx, token); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	}
}

func TestLogoutRevokesSingleSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.svc.Logout(ctx, first.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := env.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	// The other session is untouched.
	if _, _, err := env.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("second session should still rotate: %v", err)
	}
}

func TestRefreshWrongSecretBurnsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, _, err := SplitRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("SplitRefreshToken: %v", err)
	}
	if _, _, err := env.svc.Refresh(ctx, id+".forged-secret"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	// The legitimate token is gone too; guessing burned the record.
	if _, _, err := env.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, _, err := env.svc.Login(ctx, "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := env.svc.ChangePassword(ctx, env.user.ID, "p1", "p2-new"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := env.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after password change, got %v", err)
	}
	if _, err := env.svc.Verify(ctx, "1", "a@x.com", "p1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must no longer verify, got %v", err)
	}
	if _, err := env.svc.Verify(ctx, "1", "a@x.com", "p2-new"); err != nil {
		t.Fatalf("new password must verify: %v", err)
	}
}

func TestExpiredRefreshToken(t *testing.T) {
	users := NewMemoryUserStore()
	tokens := NewMemoryTokenStore()
	clock := time.Now().UTC()
	iss, err := NewIssuer("test-secret",
		WithRefreshTTL(time.Hour),
		WithIssuerClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc, err := NewService(users, tokens, iss, WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	hash, _ := HashPassword("p1")
	user := &User{TenantID: "1", Email: "a@x.com", PasswordHash: hash, Role: RoleUser, Status: UserStatusActive}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	pair, _, err := svc.Login(context.Background(), "1", "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
