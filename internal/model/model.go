// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Collections of the record store.
const (
	CollectionWaitlist       = "waitlist"
	CollectionUsers          = "users"
	CollectionLegacyApproved = "legacy_approved"
)

// Collections lists every collection known to the record store.
var Collections = []string{CollectionWaitlist, CollectionUsers, CollectionLegacyApproved}

// Persisted document field names. They are shared with existing clients and
// must not change.
const (
	FieldID             = "id"
	FieldEmail          = "email"
	FieldStatus         = "status"
	FieldJoinedAt       = "joinedAt"
	FieldApprovedAt     = "approvedAt"
	FieldRegisteredAt   = "registeredAt"
	FieldUID            = "uid"
	FieldTempSecret     = "tempPassword"
	FieldLastUsedSecret = "lastUsedPassword"
	FieldRole           = "role"
	FieldIsApproved     = "isApproved"
	FieldPermissions    = "permissions"
	FieldWaitlistID     = "waitlistId"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
)

// Status is the lifecycle state of a waitlist entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRegistered Status = "registered"
)

// Rank orders statuses along pending → approved → registered. Unknown values rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusApproved:
		return 2
	case StatusRegistered:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() > 0 }

// Precedes reports whether moving from s to next strictly advances the lifecycle.
func (s Status) Precedes(next Status) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

// Role of a user record.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleRegular Role = "regular"
)

// PermissionKey names a single capability.
type PermissionKey string

// Document is a JSON-shaped record as held by the record store.
type Document map[string]any

// WaitlistEntry is a prospective user's signup record.
type WaitlistEntry struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Status         Status     `json:"status"`
	JoinedAt       time.Time  `json:"joinedAt"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
	RegisteredAt   *time.Time `json:"registeredAt,omitempty"`
	UID            string     `json:"uid,omitempty"`
	TempSecret     string     `json:"tempPassword,omitempty"`     // plaintext, kept for admin visibility
	LastUsedSecret string     `json:"lastUsedPassword,omitempty"` // plaintext, kept for admin visibility
}

// UserRecord is the canonical role/approval/permission record of an identity.
type UserRecord struct {
	ID          string                 `json:"id"` // identity provider uid
	Email       string                 `json:"email"`
	Role        Role                   `json:"role"`
	IsApproved  bool                   `json:"isApproved"`
	Permissions map[PermissionKey]bool `json:"permissions,omitempty"`
	TempSecret  string                 `json:"tempPassword,omitempty"`
	WaitlistID  string                 `json:"waitlistId,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// LegacyApprovedRecord mirrors approval state for older clients.
type LegacyApprovedRecord struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	IsApproved bool      `json:"isApproved"`
	TempSecret string    `json:"tempPassword,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// Account is an identity provider account.
type Account struct {
	UID        string
	Email      string
	SecretHash string
	CreatedAt  time.Time
}

// ResetToken is a single-use password reset grant.
type ResetToken struct {
	Token     string
	UID       string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Tokens collects an issued API access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// JournalEntry records a merge-write that failed so it can be diagnosed and replayed.
type JournalEntry struct {
	ID         uuid.UUID
	Op         string
	Collection string
	DocID      string
	Patch      Document
	Error      string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Decode converts a stored document into a typed entity.
func Decode[T any](doc Document) (T, error) {
	var out T
	b, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// Normalize round-trips a document through JSON so values carry the same
// types whether they came from Go code or from storage.
func Normalize(doc Document) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := Document{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SortUsersByRecency orders users newest first; ties break on id for stable output.
func SortUsersByRecency(users []UserRecord) {
	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
}

// SortEntriesByJoined orders waitlist entries newest first.
func SortEntriesByJoined(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.After(entries[j].JoinedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
