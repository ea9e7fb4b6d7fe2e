package bus

import (
	"context"
	"errors"
	"sync"

	"pulse/internal/event"
)

// ErrQueueClosed is returned by Pop once the queue is closed.
var ErrQueueClosed = errors.New("event queue closed")

// Queue is an unbounded FIFO buffer of pending events, owned by exactly one
// subscription. The bus appends, the owning stream drains; no other party
// touches it. Because it is unbounded, a push never blocks and never drops,
// which is what lets Publish stay fire-and-forget.
type Queue struct {
	mu     sync.Mutex
	items  []event.Event
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// push appends an event. No-op after close: a publish racing with
// unsubscribe either lands in a queue about to be discarded or nowhere.
func (q *Queue) push(ev event.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the oldest pending event without blocking.
func (q *Queue) TryPop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return event.Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Pop blocks until an event is available, the context is cancelled, or the
// queue is closed. Close discards the backlog, so a closed queue fails
// immediately.
func (q *Queue) Pop(ctx context.Context) (event.Event, error) {
	for {
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-q.done:
			return event.Event{}, ErrQueueClosed
		case <-q.wake:
		}
	}
}

// Wake returns a channel that receives a token whenever an event may have
// become available. Spurious wakeups are possible; callers re-check TryPop.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len reports the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.done)
}
