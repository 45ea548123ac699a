// Package api describes the waitgate.v1.Provisioning gRPC service: method
// names, JSON-shaped request and response messages carried as
// google.protobuf.Struct, and a typed client.
package api

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/waitgate/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "waitgate.v1.Provisioning"

// Method names.
const (
	Join                 = "Join"
	SelfRegister         = "SelfRegister"
	SignIn               = "SignIn"
	ConfirmPasswordReset = "ConfirmPasswordReset"
	ListWaitlist         = "ListWaitlist"
	WatchWaitlist        = "WatchWaitlist"
	Approve              = "Approve"
	CreateAccount        = "CreateAccount"
	RunReconciliation    = "RunReconciliation"
	ListUsers            = "ListUsers"
	ResolvePermissions   = "ResolvePermissions"
	ReplayFailedWrites   = "ReplayFailedWrites"
)

// FullMethod returns "/waitgate.v1.Provisioning/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Requests.

type JoinRequest struct {
	Email string `json:"email"`
}

type CredentialsRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

type ConfirmResetRequest struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

type ListWaitlistRequest struct {
	Status string `json:"status,omitempty"`
}

type EntryRequest struct {
	EntryID string `json:"entryId"`
	Secret  string `json:"secret,omitempty"`
}

type UserRequest struct {
	UserID string `json:"userId"`
}

type Empty struct{}

// Responses.

// Outcome carries the side effects of a provisioning call.
type Outcome struct {
	Verified           bool     `json:"verified"`
	Warning            string   `json:"warning,omitempty"`
	SessionInvalidated bool     `json:"sessionInvalidated"`
	ResetEmailSent     bool     `json:"resetEmailSent"`
	FailedWrites       []string `json:"failedWrites,omitempty"`
}

type Approval struct {
	Outcome
	Entry           model.WaitlistEntry `json:"entry"`
	User            model.UserRecord    `json:"user"`
	Secret          string              `json:"secret,omitempty"`
	ExistingAccount bool                `json:"existingAccount"`
}

type AccountCreation struct {
	Outcome
	Entry           model.WaitlistEntry `json:"entry"`
	ExistingAccount bool                `json:"existingAccount"`
}

type Registration struct {
	Outcome
	User            model.UserRecord     `json:"user"`
	Entry           *model.WaitlistEntry `json:"entry,omitempty"`
	ExistingAccount bool                 `json:"existingAccount"`
}

type Session struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
}

type Entries struct {
	Entries []model.WaitlistEntry `json:"entries"`
}

type Users struct {
	Users        []model.UserRecord `json:"users"`
	Writes       int                `json:"writes"`
	FailedWrites []string           `json:"failedWrites,omitempty"`
}

type Permissions struct {
	UserID      string                       `json:"userId"`
	Permissions map[model.PermissionKey]bool `json:"permissions"`
}

type Replay struct {
	Replayed int `json:"replayed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Encode converts a message into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Decode fills v from a Struct.
func Decode(s *structpb.Struct, v any) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
