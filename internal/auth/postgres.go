package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"taskplane.io/internal/ids"
)

var (
	_ UserStore         = (*PGUserStore)(nil)
	_ RefreshTokenStore = (*PGTokenStore)(nil)
)

// PGUserStore implements UserStore using PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, tenant_id, email, first_name, last_name, password_hash, role, status, email_verified, created_at, updated_at`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, tenant_id, email, first_name, last_name, password_hash, role, status, email_verified)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.TenantID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.Role.String(), u.Status, u.EmailVerified,
	)
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where tenant_id=$1 and email=$2`, tenantID, email)
	return scanUser(row)
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGUserStore) SetStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, userID, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &role, &u.Status, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = parsed
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PGTokenStore implements RefreshTokenStore using PostgreSQL. State
// transitions are conditional updates guarded by `revoked=false`, so a
// concurrent rotation and revocation of the same record can never both win.
type PGTokenStore struct {
	db *sql.DB
}

func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db}
}

const tokenColumns = `id, user_id, tenant_id, token_hash, expires_at, created_at, revoked, revoked_at, revoked_reason`

func (s *PGTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, tenant_id, token_hash, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		tok.ID, tok.UserID, tok.TenantID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

func (s *PGTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from refresh_tokens where id=$1`, id)
	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return tok, nil
}

func (s *PGTokenStore) Rotate(ctx context.Context, id string, now time.Time, successor *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The conditional update is the compare-and-swap: only an ACTIVE record
	// transitions, so of two concurrent rotations exactly one affects a row.
	res, err := tx.ExecContext(ctx,
		`update refresh_tokens
		 set revoked=true, revoked_at=$2, revoked_reason=$3
		 where id=$1 and revoked=false and expires_at > $2`,
		id, now.UTC(), RevokeReasonRotated,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		row := tx.QueryRowContext(ctx,
			`select `+tokenColumns+` from refresh_tokens where id=$1`, id)
		tok, err := scanToken(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTokenNotFound
			}
			return err
		}
		if terr := tok.terminalErr(now); terr != nil {
			return terr
		}
		// The record was active a moment ago and is active now; the update
		// lost to nothing we can classify. Fail closed.
		return ErrTokenNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, tenant_id, token_hash, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		successor.ID, successor.UserID, successor.TenantID, successor.TokenHash,
		successor.ExpiresAt, successor.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGTokenStore) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens
		 set revoked=true, revoked_at=$2, revoked_reason=$3
		 where id=$1 and revoked=false and expires_at > $2`,
		id, now.UTC(), reason,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		tok, err := s.Find(ctx, id)
		if err != nil {
			return err
		}
		if terr := tok.terminalErr(now); terr != nil {
			return terr
		}
		return ErrTokenNotFound
	}
	return nil
}

func (s *PGTokenStore) RevokeAllForUser(ctx context.Context, userID, tenantID, reason string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens
		 set revoked=true, revoked_at=$3, revoked_reason=$4
		 where user_id=$1 and tenant_id=$2 and revoked=false and expires_at > $3`,
		userID, tenantID, now.UTC(), reason,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGTokenStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where revoked=true and revoked_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*RefreshToken, error) {
	var (
		tok       RefreshToken
		revokedAt sql.NullTime
		reason    sql.NullString
	)
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TenantID, &tok.TokenHash,
		&tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked, &revokedAt, &reason)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		tok.RevokedAt = &t
	}
	tok.RevokedReason = reason.String
	return &tok, nil
}
