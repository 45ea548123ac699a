package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/identity"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/and161185/waitgate/internal/repository/memory"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return testNow } }

type fakeAccount struct {
	uid    string
	secret string
}

// fakeProvider is an identity provider with an ambient session.
type fakeProvider struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount
	session  string
	nextUID  int

	createErr    error
	resetErr     error
	resetFails   int // fail this many reset requests before succeeding
	breakSignIn  bool
	signOutErr   error
	createCalls  int
	resets       []string
	signInCalls  int
	signOutCalls int
}

var (
	_ identity.Provider          = (*fakeProvider)(nil)
	_ identity.CredentialChecker = (*fakeProvider)(nil)
	_ identity.AccountLookup     = (*fakeProvider)(nil)
)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: map[string]fakeAccount{}}
}

func (p *fakeProvider) add(email, secret string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextUID++
	uid := "uid-" + strconv.Itoa(p.nextUID)
	p.accounts[email] = fakeAccount{uid: uid, secret: secret}
	return uid
}

func (p *fakeProvider) CreateAccount(_ context.Context, email, secret string) (string, error) {
	p.mu.Lock()
	p.createCalls++
	err := p.createErr
	_, exists := p.accounts[email]
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	if exists {
		return "", errs.ErrAlreadyInUse
	}
	return p.add(email, secret), nil
}

func (p *fakeProvider) CheckCredentials(_ context.Context, email, secret string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	if !ok || a.secret != secret || p.breakSignIn {
		return "", errs.ErrInvalidCredential
	}
	return a.uid, nil
}

func (p *fakeProvider) SignIn(ctx context.Context, email, secret string) (string, error) {
	p.mu.Lock()
	p.signInCalls++
	p.mu.Unlock()
	uid, err := p.CheckCredentials(ctx, email, secret)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.session = uid
	p.mu.Unlock()
	return uid, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutCalls++
	if p.signOutErr != nil {
		return p.signOutErr
	}
	p.session = ""
	return nil
}

func (p *fakeProvider) SendResetEmail(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetFails > 0 {
		p.resetFails--
		return errors.New("mail relay down")
	}
	if p.resetErr != nil {
		return p.resetErr
	}
	if _, ok := p.accounts[email]; !ok {
		return errs.ErrNotFound
	}
	p.resets = append(p.resets, email)
	return nil
}

func (p *fakeProvider) LookupAccount(_ context.Context, email string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[email]
	return a.uid, ok, nil
}

type staticSecrets struct{ secret string }

func (s staticSecrets) Generate() (string, error) { return s.secret, nil }

// flakyStore fails merge-writes to the listed collections.
type flakyStore struct {
	*memory.RecordStore
	mu   sync.Mutex
	fail map[string]bool
}

func (s *flakyStore) setFail(collection string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = map[string]bool{}
	}
	s.fail[collection] = on
}

func (s *flakyStore) MergeWrite(ctx context.Context, collection, id string, patch model.Document) error {
	s.mu.Lock()
	fail := s.fail[collection]
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.RecordStore.MergeWrite(ctx, collection, id, patch)
}

var _ repository.RecordStore = (*flakyStore)(nil)

func seedEntry(t *testing.T, store repository.RecordStore, id, email string, status model.Status) {
	t.Helper()
	require.NoError(t, store.MergeWrite(context.Background(), model.CollectionWaitlist, id, model.Document{
		model.FieldEmail:    email,
		model.FieldStatus:   status,
		model.FieldJoinedAt: testNow.Add(-time.Hour),
	}))
}

func getEntry(t *testing.T, store repository.RecordStore, id string) model.WaitlistEntry {
	t.Helper()
	doc, err := store.Get(context.Background(), model.CollectionWaitlist, id)
	require.NoError(t, err)
	e, err := model.Decode[model.WaitlistEntry](doc)
	require.NoError(t, err)
	return e
}

func getUser(t *testing.T, store repository.RecordStore, id string) model.UserRecord {
	t.Helper()
	doc, err := store.Get(context.Background(), model.CollectionUsers, id)
	require.NoError(t, err)
	u, err := model.Decode[model.UserRecord](doc)
	require.NoError(t, err)
	return u
}
