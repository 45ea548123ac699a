package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements repository.AccountStore using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

var _ repository.AccountStore = (*AccountRepo)(nil)

// CreateAccount inserts a new account row.
func (r *AccountRepo) CreateAccount(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (uid, email, secret_hash)
VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, a.UID, a.Email, a.SecretHash)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyInUse
	}
	return err
}

// GetAccountByEmail selects an account by email.
func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	const q = `
SELECT uid, email, secret_hash, created_at
FROM accounts WHERE email=$1`
	var a model.Account
	if err := r.db.Pool.QueryRow(ctx, q, email).Scan(&a.UID, &a.Email, &a.SecretHash, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpdateSecretHash replaces the credential hash of uid.
func (r *AccountRepo) UpdateSecretHash(ctx context.Context, uid, hash string) error {
	const q = `UPDATE accounts SET secret_hash=$2 WHERE uid=$1`
	tag, err := r.db.Pool.Exec(ctx, q, uid, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// PutResetToken stores a reset grant.
func (r *AccountRepo) PutResetToken(ctx context.Context, t model.ResetToken) error {
	const q = `
INSERT INTO password_resets (token, uid, email, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, t.Token, t.UID, t.Email, t.CreatedAt, t.ExpiresAt)
	return err
}

// ConsumeResetToken marks a live token used in a single statement.
func (r *AccountRepo) ConsumeResetToken(ctx context.Context, token string, at time.Time) (*model.ResetToken, error) {
	const q = `
UPDATE password_resets SET used_at=$2
WHERE token=$1 AND used_at IS NULL AND expires_at > $2
RETURNING uid, email, created_at, expires_at`
	t := model.ResetToken{Token: token, UsedAt: &at}
	if err := r.db.Pool.QueryRow(ctx, q, token, at).Scan(&t.UID, &t.Email, &t.CreatedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
