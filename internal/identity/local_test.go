package identity

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/and161185/waitgate/internal/crypto"
	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = map[string]string{}
	}
	m.links[email] = link
	return nil
}

func newLocal(t *testing.T, opts ...LocalOption) (*Local, *captureMailer) {
	t.Helper()
	m := &captureMailer{}
	opts = append([]LocalOption{WithHashParams(crypto.Params{Time: 1, Memory: 1024, Threads: 1})}, opts...)
	return NewLocal(memory.NewAccountStore(), m, []byte("k"), opts...), m
}

func TestLocal_CreateAndSignIn(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()

	uid, err := l.CreateAccount(ctx, " A@X.com ", "Secret123")
	require.NoError(t, err)
	require.NotEmpty(t, uid)

	_, err = l.CreateAccount(ctx, "a@x.com", "Other123")
	require.ErrorIs(t, err, errs.ErrAlreadyInUse)

	got, err := l.SignIn(ctx, "a@x.com", "Secret123")
	require.NoError(t, err)
	require.Equal(t, uid, got)
	s, ok := l.CurrentSession()
	require.True(t, ok)
	require.Equal(t, uid, s.UID)
	require.NotEmpty(t, s.Token)

	_, err = l.SignIn(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, errs.ErrInvalidCredential)
	_, err = l.SignIn(ctx, "nobody@x.com", "Secret123")
	require.ErrorIs(t, err, errs.ErrInvalidCredential)

	require.NoError(t, l.SignOut(ctx))
	_, ok = l.CurrentSession()
	require.False(t, ok)
}

func TestLocal_SessionExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l, _ := newLocal(t, WithClock(clock), WithSessionTTL(time.Minute))
	ctx := context.Background()

	_, err := l.CreateAccount(ctx, "a@x.com", "Secret123")
	require.NoError(t, err)
	_, err = l.SignIn(ctx, "a@x.com", "Secret123")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, ok := l.CurrentSession()
	require.False(t, ok)
}

func TestLocal_LookupAndCheck(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()
	uid, err := l.CreateAccount(ctx, "a@x.com", "Secret123")
	require.NoError(t, err)

	got, found, err := l.LookupAccount(ctx, "A@x.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uid, got)

	_, found, err = l.LookupAccount(ctx, "b@x.com")
	require.NoError(t, err)
	require.False(t, found)

	checked, err := l.CheckCredentials(ctx, "a@x.com", "Secret123")
	require.NoError(t, err)
	require.Equal(t, uid, checked)
	_, ok := l.CurrentSession()
	require.False(t, ok, "credential check must not create a session")
}

func TestLocal_ResetFlow(t *testing.T) {
	l, mailer := newLocal(t, WithResetURL("https://app.example/reset"))
	ctx := context.Background()
	_, err := l.CreateAccount(ctx, "a@x.com", "Secret123")
	require.NoError(t, err)

	require.ErrorIs(t, l.SendResetEmail(ctx, "nobody@x.com"), errs.ErrNotFound)
	require.NoError(t, l.SendResetEmail(ctx, "a@x.com"))

	link := mailer.links["a@x.com"]
	u, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "app.example", u.Host)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	require.NoError(t, l.ConfirmReset(ctx, token, "NewSecret9"))
	_, err = l.CheckCredentials(ctx, "a@x.com", "NewSecret9")
	require.NoError(t, err)
	require.ErrorIs(t, l.ConfirmReset(ctx, token, "Again1234"), errs.ErrNotFound)
	require.ErrorIs(t, l.ConfirmReset(ctx, "", "x"), errs.ErrValidation)
}

func TestLogMailer(t *testing.T) {
	m := LogMailer{Log: zaptest.NewLogger(t)}
	require.NoError(t, m.SendPasswordReset(context.Background(), "a@x.com", "https://x/reset?token=t"))
}
