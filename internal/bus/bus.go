// Package bus is the in-process publish/subscribe core: one bus per server,
// fanning domain events out to every live subscription. Delivery is
// at-least-once per subscriber registered at publish time; there is no
// replay for late subscribers and no backpressure toward publishers.
package bus

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"pulse/internal/event"
)

var (
	// ErrClosed is returned by Subscribe after Shutdown.
	ErrClosed = errors.New("event bus closed")

	// ErrTooManySubscribers is returned by Subscribe when the configured
	// subscriber limit is reached.
	ErrTooManySubscribers = errors.New("subscriber limit reached")
)

// Bus fans published events out to subscribers without ever blocking the
// publisher. It is a constructed value, not package state: tests and
// embedders run as many independent buses as they like.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	maxSubs int
}

// New constructs a bus with no subscriber limit.
func New() *Bus {
	return NewWithLimit(0)
}

// NewWithLimit constructs a bus that refuses subscriptions beyond max.
// A max of zero means unlimited.
func NewWithLimit(max int) *Bus {
	return &Bus{
		subs:    make(map[string]*Subscription),
		maxSubs: max,
	}
}

// Subscription is the handle returned by Subscribe. The queue it exposes is
// owned exclusively by the caller; the bus only ever appends to it.
type Subscription struct {
	id     string
	queue  *Queue
	bus    *Bus
	cancel sync.Once
}

// ID returns the opaque subscriber identifier.
func (s *Subscription) ID() string { return s.id }

// Queue returns the subscription's event queue.
func (s *Subscription) Queue() *Queue { return s.queue }

// Cancel deregisters the subscription and closes its queue. It is
// idempotent: explicit unsubscribe and connection-drop cleanup may both call
// it without coordination.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.remove(s.id)
		s.queue.close()
	})
}

// Subscribe registers a new subscriber and returns its handle. The
// subscriber sees only events published after registration. Fails
// synchronously with no partial registration left behind.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.maxSubs > 0 && len(b.subs) >= b.maxSubs {
		return nil, ErrTooManySubscribers
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		queue: newQueue(),
		bus:   b,
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Publish copies the event into every queue registered at the moment the
// registry snapshot is taken. It never blocks and never reports per-
// subscriber outcomes: a slow or stalled subscriber must not stall a
// mutation.
func (b *Bus) Publish(ev event.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.queue.push(ev)
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown cancels every subscription and refuses new ones.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel.Do(func() {
			sub.queue.close()
		})
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
