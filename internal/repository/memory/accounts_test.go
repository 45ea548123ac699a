package memory

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestAccountStore_Lifecycle(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, &model.Account{UID: "u1", Email: "a@x.com", SecretHash: "h"}))
	require.ErrorIs(t, s.CreateAccount(ctx, &model.Account{UID: "u2", Email: "a@x.com"}), errs.ErrAlreadyInUse)

	a, err := s.GetAccountByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "u1", a.UID)

	require.NoError(t, s.UpdateSecretHash(ctx, "u1", "h2"))
	a, _ = s.GetAccountByEmail(ctx, "a@x.com")
	require.Equal(t, "h2", a.SecretHash)
	require.ErrorIs(t, s.UpdateSecretHash(ctx, "zz", "h"), errs.ErrNotFound)
}

func TestAccountStore_ResetTokenSingleUse(t *testing.T) {
	s := NewAccountStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.PutResetToken(ctx, model.ResetToken{Token: "t", UID: "u1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.PutResetToken(ctx, model.ResetToken{Token: "old", UID: "u1", ExpiresAt: now.Add(-time.Hour)}))

	got, err := s.ConsumeResetToken(ctx, "t", now)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UID)
	_, err = s.ConsumeResetToken(ctx, "t", now)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.ConsumeResetToken(ctx, "old", now)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestJournal_PendingAndResolve(t *testing.T) {
	j := NewJournal()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, j.Append(ctx, model.JournalEntry{ID: id, Collection: "users"}))

	p, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, p, 1)

	require.NoError(t, j.Resolve(ctx, id, time.Now()))
	p, _ = j.Pending(ctx)
	require.Empty(t, p)
	require.ErrorIs(t, j.Resolve(ctx, id, time.Now()), errs.ErrNotFound)
}
