// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/waitgate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Query narrows a collection listing to documents whose top-level field
// equals a string value. The zero Query matches everything.
type Query struct {
	Field  string
	Equals string
}

// Where builds a single-field equality query.
func Where(field, value string) Query { return Query{Field: field, Equals: value} }

// IsZero reports whether q has no filter.
func (q Query) IsZero() bool { return q.Field == "" }

// Matches applies q to an already loaded document.
func (q Query) Matches(doc model.Document) bool {
	if q.IsZero() {
		return true
	}
	v, ok := doc[q.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == q.Equals
}

// RecordStore is the document store holding the waitlist, users and
// legacy_approved collections. It carries no business logic.
type RecordStore interface {
	// Get loads one document; errs.ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (model.Document, error)
	// List returns documents of a collection matching q.
	List(ctx context.Context, collection string, q Query) ([]model.Document, error)
	// MergeWrite upserts id, shallow-merging patch over the stored fields.
	MergeWrite(ctx context.Context, collection, id string, patch model.Document) error
	// Subscribe streams snapshots of the documents matching q until the
	// returned Subscription is closed.
	Subscribe(ctx context.Context, collection string, q Query) (*Subscription, error)
}

// Journal keeps failed merge-writes so they can be inspected and replayed.
type Journal interface {
	// Append stores a failed write.
	Append(ctx context.Context, e model.JournalEntry) error
	// Pending returns unresolved entries, oldest first.
	Pending(ctx context.Context) ([]model.JournalEntry, error)
	// Resolve marks an entry as handled.
	Resolve(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AccountStore persists identity provider accounts and reset grants.
type AccountStore interface {
	// CreateAccount inserts an account; errs.ErrAlreadyInUse on duplicate email.
	CreateAccount(ctx context.Context, a *model.Account) error
	// GetAccountByEmail loads an account; errs.ErrNotFound when absent.
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	// UpdateSecretHash replaces the stored credential hash.
	UpdateSecretHash(ctx context.Context, uid, hash string) error
	// PutResetToken stores a reset grant.
	PutResetToken(ctx context.Context, t model.ResetToken) error
	// ConsumeResetToken marks an unused, unexpired token as used and returns it.
	ConsumeResetToken(ctx context.Context, token string, at time.Time) (*model.ResetToken, error)
}

// ValidCollection reports whether name is one of the known collections.
func ValidCollection(name string) bool {
	for _, c := range model.Collections {
		if c == name {
			return true
		}
	}
	return false
}
