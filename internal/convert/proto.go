// Package convert maps service results to the wire messages of package api.
package convert

import (
	"github.com/and161185/waitgate/internal/api"
	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/service"
)

// --- helpers ---

func failedWrites(ws []*errs.StoreWriteError) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}

// ToOutcome flattens service side effects.
func ToOutcome(o service.Outcome) api.Outcome {
	return api.Outcome{
		Verified:           o.Verified,
		Warning:            o.Warning,
		SessionInvalidated: o.SessionInvalidated,
		ResetEmailSent:     o.ResetEmailSent,
		FailedWrites:       failedWrites(o.FailedWrites),
	}
}

// --- provisioning ---

func ToApproval(r *service.ApprovalResult) api.Approval {
	return api.Approval{
		Outcome:         ToOutcome(r.Outcome),
		Entry:           r.Entry,
		User:            r.User,
		Secret:          r.Secret,
		ExistingAccount: r.ExistingAccount,
	}
}

func ToAccountCreation(r *service.CreateAccountResult) api.AccountCreation {
	return api.AccountCreation{
		Outcome:         ToOutcome(r.Outcome),
		Entry:           r.Entry,
		ExistingAccount: r.ExistingAccount,
	}
}

func ToRegistration(r *service.RegistrationResult) api.Registration {
	return api.Registration{
		Outcome:         ToOutcome(r.Outcome),
		User:            r.User,
		Entry:           r.Entry,
		ExistingAccount: r.ExistingAccount,
	}
}

// --- reconciliation ---

// ToUsers keeps tempPassword: administrators read issued secrets from it.
func ToUsers(r *service.SweepResult) api.Users {
	users := r.Users
	if users == nil {
		users = []model.UserRecord{}
	}
	return api.Users{Users: users, Writes: r.Writes, FailedWrites: failedWrites(r.FailedWrites)}
}

func ToReplay(r *service.ReplayResult) api.Replay {
	return api.Replay{Replayed: r.Replayed, Skipped: r.Skipped, Failed: r.Failed}
}

// ToPermissions pairs a resolved map with its user.
func ToPermissions(userID string, perms map[model.PermissionKey]bool) api.Permissions {
	return api.Permissions{UserID: userID, Permissions: perms}
}

// --- waitlist / auth ---

func ToEntries(es []model.WaitlistEntry) api.Entries {
	if es == nil {
		es = []model.WaitlistEntry{}
	}
	return api.Entries{Entries: es}
}

func ToSession(t model.Tokens, uid string) api.Session {
	return api.Session{AccessToken: t.AccessToken, ExpiresAt: t.ExpiresAt, UserID: uid}
}
