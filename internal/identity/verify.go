package identity

import "context"

// Verification describes side effects of a credential check.
type Verification struct {
	// SessionInvalidated is true when the check replaced the ambient session,
	// which signs out whoever was acting through it. Callers must re-authenticate.
	SessionInvalidated bool
	// SignOutErr is set when signing out after the check failed; the new
	// identity may still be signed in.
	SignOutErr error
}

// CredentialVerifier confirms that a secret authenticates against the provider.
type CredentialVerifier interface {
	Verify(ctx context.Context, email, secret string) (Verification, error)
}

// SessionVerifier signs in as the new identity and signs out again.
// It must not run concurrently with work relying on the ambient session.
type SessionVerifier struct{ Provider Provider }

func (v SessionVerifier) Verify(ctx context.Context, email, secret string) (Verification, error) {
	if _, err := v.Provider.SignIn(ctx, email, secret); err != nil {
		return Verification{}, err
	}
	return Verification{SessionInvalidated: true, SignOutErr: v.Provider.SignOut(ctx)}, nil
}

// ServerVerifier checks credentials without a session swap.
type ServerVerifier struct{ Checker CredentialChecker }

func (v ServerVerifier) Verify(ctx context.Context, email, secret string) (Verification, error) {
	_, err := v.Checker.CheckCredentials(ctx, email, secret)
	return Verification{}, err
}
