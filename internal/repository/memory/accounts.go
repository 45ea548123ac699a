package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
)

// AccountStore is an in-memory repository.AccountStore.
type AccountStore struct {
	mu      sync.Mutex
	byEmail map[string]*model.Account
	resets  map[string]*model.ResetToken
}

var _ repository.AccountStore = (*AccountStore)(nil)

// NewAccountStore returns an empty account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{byEmail: map[string]*model.Account{}, resets: map[string]*model.ResetToken{}}
}

func (s *AccountStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return errs.ErrAlreadyInUse
	}
	cpy := *a
	if cpy.CreatedAt.IsZero() {
		cpy.CreatedAt = time.Now().UTC()
	}
	s.byEmail[a.Email] = &cpy
	return nil
}

func (s *AccountStore) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *a
	return &cpy, nil
}

func (s *AccountStore) UpdateSecretHash(_ context.Context, uid, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byEmail {
		if a.UID == uid {
			a.SecretHash = hash
			return nil
		}
	}
	return errs.ErrNotFound
}

func (s *AccountStore) PutResetToken(_ context.Context, t model.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := t
	s.resets[t.Token] = &cpy
	return nil
}

func (s *AccountStore) ConsumeResetToken(_ context.Context, token string, at time.Time) (*model.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[token]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(at) {
		return nil, errs.ErrNotFound
	}
	t.UsedAt = &at
	cpy := *t
	return &cpy, nil
}
