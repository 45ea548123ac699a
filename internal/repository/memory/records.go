// Package memory contains in-process implementations of repository interfaces.
// They back the server when no DSN is configured and serve as fixtures in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
)

type stored struct {
	doc model.Document
	seq int64
}

// RecordStore is an in-memory repository.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]stored
	seq     int64
	writes  int
	subs    map[string]map[int]chan struct{}
	nextSub int
}

var _ repository.RecordStore = (*RecordStore)(nil)

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		data: map[string]map[string]stored{},
		subs: map[string]map[int]chan struct{}{},
	}
}

// Writes reports how many merge-writes were applied.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Get returns a copy of the stored document.
func (s *RecordStore) Get(_ context.Context, collection, id string) (model.Document, error) {
	if !repository.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: unknown collection %q", errs.ErrValidation, collection)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[collection][id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return model.Normalize(st.doc)
}

// List returns matching documents, most recently written first.
func (s *RecordStore) List(_ context.Context, collection string, q repository.Query) ([]model.Document, error) {
	if !repository.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: unknown collection %q", errs.ErrValidation, collection)
	}
	s.mu.RLock()
	var hits []stored
	for _, st := range s.data[collection] {
		if q.Matches(st.doc) {
			hits = append(hits, st)
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq > hits[j].seq })
	out := make([]model.Document, 0, len(hits))
	for _, st := range hits {
		doc, err := model.Normalize(st.doc)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// MergeWrite shallow-merges patch over the stored document.
func (s *RecordStore) MergeWrite(_ context.Context, collection, id string, patch model.Document) error {
	if !repository.ValidCollection(collection) {
		return fmt.Errorf("%w: unknown collection %q", errs.ErrValidation, collection)
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	norm, err := model.Normalize(patch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	coll, ok := s.data[collection]
	if !ok {
		coll = map[string]stored{}
		s.data[collection] = coll
	}
	doc := model.Document{}
	for k, v := range coll[id].doc {
		doc[k] = v
	}
	for k, v := range norm {
		doc[k] = v
	}
	doc[model.FieldID] = id
	s.seq++
	s.writes++
	coll[id] = stored{doc: doc, seq: s.seq}
	for _, ch := range s.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	return nil
}

// Subscribe emits a snapshot immediately and after every write to collection.
func (s *RecordStore) Subscribe(ctx context.Context, collection string, q repository.Query) (*repository.Subscription, error) {
	if !repository.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: unknown collection %q", errs.ErrValidation, collection)
	}
	return repository.NewSubscription(ctx, func(ctx context.Context, emit func([]model.Document) error) error {
		ch, release := s.watch(collection)
		defer release()
		for {
			docs, err := s.List(ctx, collection, q)
			if err != nil {
				return err
			}
			if err := emit(docs); err != nil {
				return err
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

// Subscribers reports the number of live watchers on collection.
func (s *RecordStore) Subscribers(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[collection])
}

func (s *RecordStore) watch(collection string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[collection] == nil {
		s.subs[collection] = map[int]chan struct{}{}
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[collection][id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[collection], id)
	}
}
