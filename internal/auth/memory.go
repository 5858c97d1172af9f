package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskplane.io/internal/ids"
)

// MemoryUserStore implements UserStore in process memory. Suitable for tests
// and DSN-less development runs only.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryUserStore) SetStatus(ctx context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryTokenStore implements RefreshTokenStore with in-process concurrency
// safety. The mutex makes every state transition a compare-and-swap: the
// active check and the terminal write happen under one critical section.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*RefreshToken)}
}

func (s *MemoryTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *MemoryTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryTokenStore) Rotate(ctx context.Context, id string, now time.Time, successor *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if err := tok.terminalErr(now); err != nil {
		return err
	}
	revoke(tok, RevokeReasonRotated, now)
	cp := *successor
	s.tokens[successor.ID] = &cp
	return nil
}

func (s *MemoryTokenStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if err := tok.terminalErr(now); err != nil {
		return err
	}
	revoke(tok, reason, now)
	return nil
}

func (s *MemoryTokenStore) RevokeAllForUser(ctx context.Context, userID, tenantID, reason string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tok := range s.tokens {
		if tok.UserID != userID || tok.TenantID != tenantID {
			continue
		}
		if tok.Revoked || tok.Expired(now) {
			continue
		}
		revoke(tok, reason, now)
		n++
	}
	return n, nil
}

func (s *MemoryTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.tokens {
		if tok.Expired(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryTokenStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tok := range s.tokens {
		if tok.Revoked && tok.RevokedAt != nil && tok.RevokedAt.Before(cutoff) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func revoke(tok *RefreshToken, reason string, now time.Time) {
	at := now.UTC()
	tok.Revoked = true
	tok.RevokedAt = &at
	tok.RevokedReason = reason
}
