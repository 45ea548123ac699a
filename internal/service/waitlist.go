package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
)

// WaitlistService handles signup and listing of waitlist entries.
type WaitlistService interface {
	// Join adds email to the waitlist, returning the existing entry if present.
	Join(ctx context.Context, email string) (model.WaitlistEntry, error)
	// List returns entries with the given status (all when empty), newest first.
	List(ctx context.Context, status model.Status) ([]model.WaitlistEntry, error)
	// Watch streams snapshots of entries with the given status. The caller
	// must Close the subscription.
	Watch(ctx context.Context, status model.Status) (*repository.Subscription, error)
}

type WaitlistServiceImpl struct {
	store repository.RecordStore
	log   *zap.Logger
	opts  options
}

// NewWaitlistService constructs WaitlistService.
func NewWaitlistService(store repository.RecordStore, log *zap.Logger, opts ...Option) *WaitlistServiceImpl {
	return &WaitlistServiceImpl{store: store, log: log, opts: buildOptions(opts)}
}

// Join validates email and creates a pending entry unless one exists.
func (s *WaitlistServiceImpl) Join(ctx context.Context, email string) (model.WaitlistEntry, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return model.WaitlistEntry{}, err
	}
	docs, err := s.store.List(ctx, model.CollectionWaitlist, repository.Where(model.FieldEmail, email))
	if err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("list waitlist: %w", err)
	}
	if len(docs) > 0 {
		existing, err := Entries(docs)
		if err != nil {
			return model.WaitlistEntry{}, fmt.Errorf("decode waitlist: %w", err)
		}
		return existing[len(existing)-1], nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	e := model.WaitlistEntry{
		ID:       id.String(),
		Email:    email,
		Status:   model.StatusPending,
		JoinedAt: s.opts.now().UTC(),
	}
	patch := model.Document{
		model.FieldEmail:    e.Email,
		model.FieldStatus:   e.Status,
		model.FieldJoinedAt: e.JoinedAt,
	}
	if err := s.store.MergeWrite(ctx, model.CollectionWaitlist, e.ID, patch); err != nil {
		return model.WaitlistEntry{}, &errs.StoreWriteError{Collection: model.CollectionWaitlist, ID: e.ID, Err: err}
	}
	s.log.Info("waitlist joined", zap.String("entry", e.ID))
	return e, nil
}

// List returns entries newest first.
func (s *WaitlistServiceImpl) List(ctx context.Context, status model.Status) ([]model.WaitlistEntry, error) {
	q, err := statusQuery(status)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, model.CollectionWaitlist, q)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return Entries(docs)
}

// Watch subscribes to the waitlist collection.
func (s *WaitlistServiceImpl) Watch(ctx context.Context, status model.Status) (*repository.Subscription, error) {
	q, err := statusQuery(status)
	if err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, model.CollectionWaitlist, q)
}

func statusQuery(status model.Status) (repository.Query, error) {
	if status == "" {
		return repository.Query{}, nil
	}
	if !status.Valid() {
		return repository.Query{}, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, status)
	}
	return repository.Where(model.FieldStatus, string(status)), nil
}
