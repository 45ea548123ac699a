package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/and161185/waitgate/internal/crypto"
	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Session is the ambient signed-in identity of a Local provider.
type Session struct {
	UID       string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Local is a self-hosted identity provider over an AccountStore. Besides the
// Provider contract it offers AccountLookup and CredentialChecker.
type Local struct {
	accounts   repository.AccountStore
	mailer     Mailer
	params     crypto.Params
	signKey    []byte
	sessionTTL time.Duration
	resetTTL   time.Duration
	resetURL   string
	now        func() time.Time

	mu      sync.Mutex
	session *Session
}

var (
	_ Provider          = (*Local)(nil)
	_ AccountLookup     = (*Local)(nil)
	_ CredentialChecker = (*Local)(nil)
)

// LocalOption customizes a Local provider.
type LocalOption func(*Local)

// WithHashParams overrides Argon2id cost parameters.
func WithHashParams(p crypto.Params) LocalOption { return func(l *Local) { l.params = p } }

// WithClock injects a clock (tests).
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSessionTTL sets how long a session token is valid.
func WithSessionTTL(d time.Duration) LocalOption { return func(l *Local) { l.sessionTTL = d } }

// WithResetTTL sets reset link lifetime.
func WithResetTTL(d time.Duration) LocalOption { return func(l *Local) { l.resetTTL = d } }

// WithResetURL sets the base URL reset links point to.
func WithResetURL(u string) LocalOption { return func(l *Local) { l.resetURL = u } }

// NewLocal constructs a Local provider.
func NewLocal(accounts repository.AccountStore, mailer Mailer, signKey []byte, opts ...LocalOption) *Local {
	l := &Local{
		accounts:   accounts,
		mailer:     mailer,
		params:     crypto.DefaultParams,
		signKey:    signKey,
		sessionTTL: time.Hour,
		resetTTL:   time.Hour,
		resetURL:   "http://localhost/reset",
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// CreateAccount hashes secret and stores a new account.
func (l *Local) CreateAccount(ctx context.Context, email, secret string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return "", fmt.Errorf("%w: empty email/secret", errs.ErrValidation)
	}
	hash, err := crypto.HashSecret(secret, l.params)
	if err != nil {
		return "", err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	a := &model.Account{UID: uid.String(), Email: email, SecretHash: hash, CreatedAt: l.now().UTC()}
	if err := l.accounts.CreateAccount(ctx, a); err != nil {
		return "", err
	}
	return a.UID, nil
}

// CheckCredentials verifies the pair and returns the account uid.
func (l *Local) CheckCredentials(ctx context.Context, email, secret string) (string, error) {
	a, err := l.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.ErrInvalidCredential
		}
		return "", err
	}
	ok, err := crypto.VerifySecret(secret, a.SecretHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.ErrInvalidCredential
	}
	return a.UID, nil
}

// SignIn checks the pair and replaces the ambient session.
func (l *Local) SignIn(ctx context.Context, email, secret string) (string, error) {
	uid, err := l.CheckCredentials(ctx, email, secret)
	if err != nil {
		return "", err
	}
	now := l.now()
	exp := now.Add(l.sessionTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(l.signKey)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.session = &Session{UID: uid, Email: normalizeEmail(email), Token: signed, ExpiresAt: exp}
	l.mu.Unlock()
	return uid, nil
}

// SignOut drops the ambient session.
func (l *Local) SignOut(context.Context) error {
	l.mu.Lock()
	l.session = nil
	l.mu.Unlock()
	return nil
}

// CurrentSession returns the ambient session, if any.
func (l *Local) CurrentSession() (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil || !l.now().Before(l.session.ExpiresAt) {
		return Session{}, false
	}
	return *l.session, true
}

// LookupAccount reports whether email has an account.
func (l *Local) LookupAccount(ctx context.Context, email string) (string, bool, error) {
	a, err := l.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return a.UID, true, nil
}

// SendResetEmail issues a single-use reset token and mails its link.
func (l *Local) SendResetEmail(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	a, err := l.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	tok, err := uuid.NewV4()
	if err != nil {
		return err
	}
	now := l.now().UTC()
	rt := model.ResetToken{Token: tok.String(), UID: a.UID, Email: email, CreatedAt: now, ExpiresAt: now.Add(l.resetTTL)}
	if err := l.accounts.PutResetToken(ctx, rt); err != nil {
		return err
	}
	return l.mailer.SendPasswordReset(ctx, email, l.resetURL+"?token="+url.QueryEscape(rt.Token))
}

// ConfirmReset consumes token and sets a new secret for its account.
func (l *Local) ConfirmReset(ctx context.Context, token, newSecret string) error {
	if token == "" || newSecret == "" {
		return fmt.Errorf("%w: empty token/secret", errs.ErrValidation)
	}
	rt, err := l.accounts.ConsumeResetToken(ctx, token, l.now().UTC())
	if err != nil {
		return err
	}
	hash, err := crypto.HashSecret(newSecret, l.params)
	if err != nil {
		return err
	}
	return l.accounts.UpdateSecretHash(ctx, rt.UID, hash)
}
