// Package service contains the provisioning state machine, the reconciliation
// sweep, waitlist signup and API authentication.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/identity"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/and161185/waitgate/internal/secret"
)

// Stores groups the persistence collaborators shared by services. Journal may be nil.
type Stores struct {
	Records repository.RecordStore
	Journal repository.Journal
}

// Option customizes a service.
type Option func(*options)

type options struct {
	now    func() time.Time
	lookup identity.AccountLookup
}

// WithClock injects a clock (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAccountLookup lets an email-configured bootstrap admin be matched to
// its provider uid before a user record exists for it.
func WithAccountLookup(l identity.AccountLookup) Option {
	return func(o *options) { o.lookup = l }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Outcome reports the side effects of a provisioning operation besides its result.
type Outcome struct {
	// Verified is true when an issued secret was confirmed to authenticate.
	Verified bool
	// Warning explains why a result cannot be presented as confirmed.
	Warning string
	// SessionInvalidated is true when verification replaced the caller's
	// provider session; the caller must re-authenticate.
	SessionInvalidated bool
	// ResetEmailSent is true when a password reset email went to the user.
	ResetEmailSent bool
	// FailedWrites lists merge-writes that failed and were journaled.
	FailedWrites []*errs.StoreWriteError
}

// writer applies best-effort merge-writes: failures are logged, journaled and
// collected, never returned.
type writer struct {
	store   repository.RecordStore
	journal repository.Journal
	log     *zap.Logger
	now     func() time.Time
}

func (w *writer) write(ctx context.Context, op, collection, id string, patch model.Document) *errs.StoreWriteError {
	err := w.store.MergeWrite(ctx, collection, id, patch)
	if err == nil {
		return nil
	}
	we := &errs.StoreWriteError{Collection: collection, ID: id, Err: err}
	w.log.Error("store write failed",
		zap.String("op", op),
		zap.String("collection", collection),
		zap.String("id", id),
		zap.Error(err),
	)
	if w.journal == nil {
		return we
	}
	jid, jerr := uuid.NewV4()
	if jerr == nil {
		jerr = w.journal.Append(ctx, model.JournalEntry{
			ID:         jid,
			Op:         op,
			Collection: collection,
			DocID:      id,
			Patch:      patch,
			Error:      err.Error(),
			CreatedAt:  w.now().UTC(),
		})
	}
	if jerr != nil {
		w.log.Error("journal append failed", zap.String("op", op), zap.String("id", id), zap.Error(jerr))
	}
	return we
}

// SecretSource produces temporary secrets.
type SecretSource interface {
	Generate() (string, error)
}

var _ SecretSource = (*secret.Generator)(nil)

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, validation.Length(3, 254), is.Email); err != nil {
		return fmt.Errorf("%w: email %v", errs.ErrValidation, err)
	}
	return nil
}

func validateSecret(s string) error {
	if err := validation.Validate(s, validation.Required, validation.Length(secret.MinLength, 128)); err != nil {
		return fmt.Errorf("%w: secret %v", errs.ErrValidation, err)
	}
	return nil
}

func loadEntry(ctx context.Context, store repository.RecordStore, id string) (model.WaitlistEntry, error) {
	if id == "" {
		return model.WaitlistEntry{}, fmt.Errorf("%w: empty entry id", errs.ErrValidation)
	}
	doc, err := store.Get(ctx, model.CollectionWaitlist, id)
	if err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("load waitlist entry %s: %w", id, err)
	}
	e, err := model.Decode[model.WaitlistEntry](doc)
	if err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("decode waitlist entry %s: %w", id, err)
	}
	e.ID = id
	return e, nil
}

// Entries decodes waitlist documents, newest first.
func Entries(docs []model.Document) ([]model.WaitlistEntry, error) {
	out := make([]model.WaitlistEntry, 0, len(docs))
	for _, d := range docs {
		e, err := model.Decode[model.WaitlistEntry](d)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	model.SortEntriesByJoined(out)
	return out, nil
}
