package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestAccountRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	a := &model.Account{UID: "u1", Email: "a@x.com", SecretHash: "h"}

	mock.ExpectExec(`INSERT INTO accounts \(uid, email, secret_hash\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("u1", "a@x.com", "h").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.CreateAccount(ctx, a))

	mock.ExpectExec(`INSERT INTO accounts \(uid, email, secret_hash\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("u1", "a@x.com", "h").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.CreateAccount(ctx, a), errs.ErrAlreadyInUse)
}

func TestAccountRepo_GetAccountByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	created := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT uid, email, secret_hash, created_at FROM accounts WHERE email=\$1`).
		WithArgs("a@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"uid", "email", "secret_hash", "created_at"}).
			AddRow("u1", "a@x.com", "h", created))
	a, err := r.GetAccountByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "u1", a.UID)

	mock.ExpectQuery(`SELECT uid, email, secret_hash, created_at FROM accounts WHERE email=\$1`).
		WithArgs("b@x.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetAccountByEmail(ctx, "b@x.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAccountRepo_UpdateSecretHash(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE accounts SET secret_hash=\$2 WHERE uid=\$1`).
		WithArgs("u1", "h2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateSecretHash(ctx, "u1", "h2"))

	mock.ExpectExec(`UPDATE accounts SET secret_hash=\$2 WHERE uid=\$1`).
		WithArgs("u9", "h2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdateSecretHash(ctx, "u9", "h2"), errs.ErrNotFound)
}

func TestAccountRepo_ResetTokens(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	tok := model.ResetToken{Token: "t1", UID: "u1", Email: "a@x.com", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectExec(`INSERT INTO password_resets \(token, uid, email, created_at, expires_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs("t1", "u1", "a@x.com", now, now.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.PutResetToken(ctx, tok))

	used := now.Add(time.Minute)
	mock.ExpectQuery(`UPDATE password_resets SET used_at=\$2 WHERE token=\$1 AND used_at IS NULL AND expires_at > \$2 RETURNING uid, email, created_at, expires_at`).
		WithArgs("t1", used).
		WillReturnRows(pgxmock.NewRows([]string{"uid", "email", "created_at", "expires_at"}).
			AddRow("u1", "a@x.com", now, now.Add(time.Hour)))
	got, err := r.ConsumeResetToken(ctx, "t1", used)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UID)
	require.Equal(t, used, *got.UsedAt)

	mock.ExpectQuery(`UPDATE password_resets SET used_at=\$2 WHERE token=\$1`).
		WithArgs("t1", used).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.ConsumeResetToken(ctx, "t1", used)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
