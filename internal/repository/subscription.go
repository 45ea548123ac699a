package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/and161185/waitgate/internal/model"
)

// Producer feeds a Subscription. It must release whatever it acquired before
// returning, and return once ctx is done.
type Producer func(ctx context.Context, emit func([]model.Document) error) error

// Subscription is a live stream of collection snapshots.
//
// Close cancels the producer and blocks until it has returned, so resources
// held by the producer are released on every exit path.
type Subscription struct {
	snapshots chan []model.Document
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewSubscription starts produce in its own goroutine.
func NewSubscription(parent context.Context, produce Producer) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{
		snapshots: make(chan []model.Document),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.snapshots)
		err := produce(ctx, func(docs []model.Document) error {
			select {
			case s.snapshots <- docs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.err = err
		}
	}()
	return s
}

// Snapshots is closed when the producer stops.
func (s *Subscription) Snapshots() <-chan []model.Document { return s.snapshots }

// Err returns the producer failure once the stream has ended.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the stream and waits for the producer to release its resources.
func (s *Subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return s.err
}
