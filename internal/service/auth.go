package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/identity"
	"github.com/and161185/waitgate/internal/limiter"
	"github.com/and161185/waitgate/internal/model"
)

// AuthService signs API callers in and completes password resets.
type AuthService interface {
	// SignIn applies rate-limiting by (email, peer) and issues an access token.
	SignIn(ctx context.Context, email, secret, peer string) (tokens model.Tokens, uid string, err error)
	// ConfirmPasswordReset sets a new secret using a reset token.
	ConfirmPasswordReset(ctx context.Context, token, newSecret string) error
}

// ResetConfirmer completes a reset issued by the identity provider.
type ResetConfirmer interface {
	ConfirmReset(ctx context.Context, token, newSecret string) error
}

type AuthServiceImpl struct {
	checker   identity.CredentialChecker
	resets    ResetConfirmer
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
	opts      options
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(checker identity.CredentialChecker, resets ResetConfirmer, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger, opts ...Option) *AuthServiceImpl {
	return &AuthServiceImpl{
		checker:   checker,
		resets:    resets,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		log:       log,
		opts:      buildOptions(opts),
	}
}

// SignIn authenticates with rate limiting by (email, peer).
func (s *AuthServiceImpl) SignIn(ctx context.Context, email, secret, peer string) (model.Tokens, string, error) {
	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return model.Tokens{}, "", errs.ErrUnauthorized
	}
	src := limiter.HashSource(peer)

	allowed, _, err := s.lim.Allow(ctx, email, src)
	if err != nil {
		return model.Tokens{}, "", err
	}
	if !allowed {
		return model.Tokens{}, "", errs.ErrRateLimited
	}

	uid, err := s.checker.CheckCredentials(ctx, email, secret)
	if err != nil {
		if !errors.Is(err, errs.ErrInvalidCredential) {
			s.log.Warn("credential check failed", zap.Error(err))
		}
		if blocked, _, ferr := s.lim.Failure(ctx, email, src); ferr == nil && blocked {
			return model.Tokens{}, "", errs.ErrRateLimited
		}
		// unknown email and wrong secret look the same
		return model.Tokens{}, "", errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, src)

	access, exp, err := s.issueAccessToken(uid)
	if err != nil {
		return model.Tokens{}, "", err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, uid, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(uid string) (string, time.Time, error) {
	now := s.opts.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// ConfirmPasswordReset validates the new secret and delegates to the provider.
func (s *AuthServiceImpl) ConfirmPasswordReset(ctx context.Context, token, newSecret string) error {
	if token == "" {
		return errs.ErrValidation
	}
	if err := validateSecret(newSecret); err != nil {
		return err
	}
	return s.resets.ConfirmReset(ctx, token, newSecret)
}
