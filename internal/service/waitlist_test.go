package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository/memory"
)

func TestWaitlist_JoinIsIdempotentPerEmail(t *testing.T) {
	store := memory.NewRecordStore()
	s := NewWaitlistService(store, zap.NewNop(), WithClock(fixedClock()))
	ctx := context.Background()

	e, err := s.Join(ctx, " New@X.com ")
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", e.Email)
	assert.Equal(t, model.StatusPending, e.Status)
	assert.True(t, e.JoinedAt.Equal(testNow))

	again, err := s.Join(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.ID)
	assert.Equal(t, 1, store.Writes())

	_, err = s.Join(ctx, "nope")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestWaitlist_ListByStatus(t *testing.T) {
	store := memory.NewRecordStore()
	s := NewWaitlistService(store, zap.NewNop())
	ctx := context.Background()
	seedEntry(t, store, "p1", "p1@x.com", model.StatusPending)
	seedEntry(t, store, "a1", "a1@x.com", model.StatusApproved)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := s.List(ctx, model.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "a1", approved[0].ID)

	_, err = s.List(ctx, "archived")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestWaitlist_WatchStreamsAndReleases(t *testing.T) {
	store := memory.NewRecordStore()
	s := NewWaitlistService(store, zap.NewNop())
	ctx := context.Background()

	sub, err := s.Watch(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Empty(t, <-sub.Snapshots())

	_, err = s.Join(ctx, "w@x.com")
	require.NoError(t, err)
	select {
	case snap := <-sub.Snapshots():
		entries, err := Entries(snap)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "w@x.com", entries[0].Email)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after join")
	}

	require.NoError(t, sub.Close())
	assert.Zero(t, store.Subscribers(model.CollectionWaitlist))
}
