package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func tokenRows(tok *RefreshToken) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "tenant_id", "token_hash", "expires_at", "created_at",
		"revoked", "revoked_at", "revoked_reason",
	})
	var revokedAt any
	if tok.RevokedAt != nil {
		revokedAt = *tok.RevokedAt
	}
	rows.AddRow(tok.ID, tok.UserID, tok.TenantID, tok.TokenHash, tok.ExpiresAt,
		tok.CreatedAt, tok.Revoked, revokedAt, tok.RevokedReason)
	return rows
}

func TestPGRotateHappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	successor := &RefreshToken{
		ID:        "next-id",
		UserID:    "user-1",
		TenantID:  "1",
		TokenHash: HashRefreshSecret("next"),
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("old-id", now, RevokeReasonRotated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(successor.ID, successor.UserID, successor.TenantID,
			successor.TokenHash, successor.ExpiresAt, successor.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPGTokenStore(db)
	if err := store.Rotate(context.Background(), "old-id", now, successor); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateReplayClassification(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)
	rotated := &RefreshToken{
		ID:            "old-id",
		UserID:        "user-1",
		TenantID:      "1",
		TokenHash:     HashRefreshSecret("old"),
		ExpiresAt:     now.Add(time.Hour),
		CreatedAt:     now.Add(-time.Hour),
		Revoked:       true,
		RevokedAt:     &revokedAt,
		RevokedReason: RevokeReasonRotated,
	}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("old-id", now, RevokeReasonRotated).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select (.+) from refresh_tokens where id=").
		WithArgs("old-id").
		WillReturnRows(tokenRows(rotated))
	mock.ExpectRollback()

	store := NewPGTokenStore(db)
	err = store.Rotate(context.Background(), "old-id", now, &RefreshToken{ID: "next"})
	if !errors.Is(err, ErrTokenReplay) {
		t.Fatalf("expected ErrTokenReplay, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateMissingRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("ghost", now, RevokeReasonRotated).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select (.+) from refresh_tokens where id=").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	store := NewPGTokenStore(db)
	err = store.Rotate(context.Background(), "ghost", now, &RefreshToken{ID: "next"})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRevokeAllForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("user-1", "1", now, RevokeReasonLogoutAll).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGTokenStore(db)
	n, err := store.RevokeAllForUser(context.Background(), "user-1", "1", RevokeReasonLogoutAll, now)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revocations, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindByEmailIsTenantScoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "email", "first_name", "last_name", "password_hash",
		"role", "status", "email_verified", "created_at", "updated_at",
	}).AddRow("user-1", "1", "a@x.com", "Ada", "Example", "hash",
		"ADMIN", UserStatusActive, true, now, now)

	mock.ExpectQuery("select (.+) from users where tenant_id=(.+) and email=").
		WithArgs("1", "a@x.com").
		WillReturnRows(rows)

	store := NewPGUserStore(db)
	user, err := store.FindByEmail(context.Background(), "1", "A@X.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if user.Role != RoleAdmin {
		t.Fatalf("unexpected role: %s", user.Role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindUnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select (.+) from refresh_tokens where id=").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	store := NewPGTokenStore(db)
	if _, err := store.Find(context.Background(), "missing"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
