// Package identity wraps the identity provider: account creation, sign-in,
// sign-out and reset emails, plus the explicit policies used on top of it to
// probe for existing accounts and to verify freshly issued secrets.
package identity

import (
	"context"
	"fmt"
)

// Provider is the identity provider client. It holds no business state.
type Provider interface {
	// CreateAccount registers email with secret; errs.ErrAlreadyInUse when taken.
	CreateAccount(ctx context.Context, email, secret string) (uid string, err error)
	// SignIn replaces the ambient session with email's session;
	// errs.ErrInvalidCredential on a bad pair.
	SignIn(ctx context.Context, email, secret string) (uid string, err error)
	// SignOut clears the ambient session.
	SignOut(ctx context.Context) error
	// SendResetEmail mails a reset link; errs.ErrNotFound for unknown emails.
	SendResetEmail(ctx context.Context, email string) error
}

// AccountLookup is an explicit existence query offered by some providers.
type AccountLookup interface {
	LookupAccount(ctx context.Context, email string) (uid string, found bool, err error)
}

// CredentialChecker verifies a credential pair without touching any session.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, email, secret string) (uid string, err error)
}

// Policy names accepted in configuration.
const (
	ProbeResetEmail = "reset-email"
	ProbeLookup     = "lookup"

	VerifySession = "session"
	VerifyServer  = "server"
)

// NewProbe builds the existence probe named by policy.
func NewProbe(policy string, p Provider) (ExistenceProbe, error) {
	switch policy {
	case ProbeResetEmail, "":
		return ResetEmailProbe{Provider: p}, nil
	case ProbeLookup:
		l, ok := p.(AccountLookup)
		if !ok {
			return nil, fmt.Errorf("identity: provider %T has no account lookup", p)
		}
		return LookupProbe{Lookup: l}, nil
	default:
		return nil, fmt.Errorf("identity: unknown probe policy %q", policy)
	}
}

// NewVerifier builds the credential verifier named by policy.
func NewVerifier(policy string, p Provider) (CredentialVerifier, error) {
	switch policy {
	case VerifySession:
		return SessionVerifier{Provider: p}, nil
	case VerifyServer, "":
		c, ok := p.(CredentialChecker)
		if !ok {
			return nil, fmt.Errorf("identity: provider %T cannot check credentials", p)
		}
		return ServerVerifier{Checker: c}, nil
	default:
		return nil, fmt.Errorf("identity: unknown verify policy %q", policy)
	}
}
