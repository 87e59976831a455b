// Package store holds the order store contract and its adapters.
// Stores publish full snapshots of the collection; they never send deltas.
package store

import (
	"context"
	"sync"

	"github.com/vaidashi/dispatch-board/internal/models"
)

// OrderStore is the shared backing store every client subscribes to
type OrderStore interface {
	// Subscribe starts a live subscription. The first snapshot is the
	// current collection; later ones follow every change.
	Subscribe(ctx context.Context) (*Subscription, error)
	// Create adds an order and returns its store assigned id
	Create(ctx context.Context, order models.NewOrder) (string, error)
	// Patch writes only the fields the patch names
	Patch(ctx context.Context, id string, patch models.Patch) error
	// Delete removes an order permanently
	Delete(ctx context.Context, id string) error
}

// Subscription delivers snapshots through a one slot buffer. A slow reader
// only ever sees the newest snapshot and publishers never block.
type Subscription struct {
	mu       sync.Mutex
	ch       chan models.Snapshot
	done     chan struct{}
	closed   bool
	err      error
	onClose  func()
	stopOnce sync.Once
}

func newSubscription(onClose func()) *Subscription {
	return &Subscription{
		ch:      make(chan models.Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Snapshots is never closed; select on Done as well
func (s *Subscription) Snapshots() <-chan models.Snapshot {
	return s.ch
}

// Done is closed when the subscription ends, by Close or by the store
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the store ended the subscription. It is nil until Done
// is closed and stays nil after a plain Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. No snapshot is delivered after Close
// returns, and the store side resources are released before it does.
func (s *Subscription) Close() {
	s.end(nil)
	s.stopOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *Subscription) publish(snapshot models.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	// drop a stale undelivered snapshot before queueing the new one
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snapshot
	return true
}

func (s *Subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.err = err
	close(s.done)

	select {
	case <-s.ch:
	default:
	}
}
