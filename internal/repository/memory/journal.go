package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Journal is an in-memory repository.Journal.
type Journal struct {
	mu      sync.Mutex
	entries []model.JournalEntry
}

var _ repository.Journal = (*Journal)(nil)

// NewJournal returns an empty journal.
func NewJournal() *Journal { return &Journal{} }

func (j *Journal) Append(_ context.Context, e model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *Journal) Pending(context.Context) ([]model.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []model.JournalEntry
	for _, e := range j.entries {
		if e.ResolvedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *Journal) Resolve(_ context.Context, id uuid.UUID, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == id && j.entries[i].ResolvedAt == nil {
			j.entries[i].ResolvedAt = &at
			return nil
		}
	}
	return errs.ErrNotFound
}
