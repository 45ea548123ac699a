package identity

import "context"

// ProbeResult is the outcome of an existence probe.
type ProbeResult struct {
	Exists bool
	// UID is set only when the probe can name the existing account.
	UID string
	// ResetSent is true when probing already mailed a reset link.
	ResetSent bool
}

// ExistenceProbe answers "does email already have an account".
type ExistenceProbe interface {
	Probe(ctx context.Context, email string) (ProbeResult, error)
}

// ResetEmailProbe approximates existence by requesting a reset email:
// success means the account exists, any failure means it does not. The
// signal is weak (a transient provider error reads as "absent") and the
// probe mails the user as a side effect.
type ResetEmailProbe struct{ Provider Provider }

func (p ResetEmailProbe) Probe(ctx context.Context, email string) (ProbeResult, error) {
	if err := p.Provider.SendResetEmail(ctx, email); err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		return ProbeResult{}, nil
	}
	return ProbeResult{Exists: true, ResetSent: true}, nil
}

// LookupProbe asks the provider directly.
type LookupProbe struct{ Lookup AccountLookup }

func (p LookupProbe) Probe(ctx context.Context, email string) (ProbeResult, error) {
	uid, found, err := p.Lookup.LookupAccount(ctx, email)
	if err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Exists: found, UID: uid}, nil
}
