// Package stream turns one bus subscription into the frame sequence sent
// over a watch connection: real events in publish order, interleaved with
// keep-alive pings whenever the line would otherwise go quiet.
package stream

import (
	"context"
	"errors"
	"time"

	"pulse/internal/bus"
	"pulse/internal/event"
)

// HeartbeatInterval is the fixed keep-alive cadence. It is part of the wire
// contract and not client-configurable.
const HeartbeatInterval = 2 * time.Second

// ErrClosed is returned by Next once the underlying subscription is gone.
var ErrClosed = errors.New("subscription stream closed")

// Stream merges a subscription's event queue with a per-connection
// heartbeat ticker. Each stream owns its own ticker, so heartbeat phase is
// independent per connection.
//
// Merge policy: a real event that is ready always goes out before a ping
// that became due at the same instant. Pings are deferred, never dropped:
// a tick that fires while a backlog is draining is remembered and emitted
// as soon as the queue is momentarily empty. At most one ping is pending at
// a time; ticks do not accumulate into a burst.
type Stream struct {
	sub      *bus.Subscription
	ticker   *time.Ticker
	interval time.Duration
	pingDue  bool
}

// New creates a stream over sub with the standard heartbeat interval.
func New(sub *bus.Subscription) *Stream {
	return NewWithInterval(sub, HeartbeatInterval)
}

// NewWithInterval is New with a custom heartbeat interval.
func NewWithInterval(sub *bus.Subscription, interval time.Duration) *Stream {
	return &Stream{
		sub:      sub,
		ticker:   time.NewTicker(interval),
		interval: interval,
	}
}

// Next blocks until the next frame is ready: a pending real event, a due
// ping, or termination via ctx or subscription close.
func (s *Stream) Next(ctx context.Context) (event.Event, error) {
	for {
		if ev, ok := s.sub.Queue().TryPop(); ok {
			return ev, nil
		}
		if s.pingDue {
			s.pingDue = false
			return event.Ping(time.Now()), nil
		}

		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-s.sub.Queue().Done():
			return event.Event{}, ErrClosed
		case <-s.sub.Queue().Wake():
			// Re-check the queue; wakeups may be spurious.
		case <-s.ticker.C:
			// Loop rather than emit directly: if an event became ready in
			// the same instant, it wins and the ping follows it.
			s.pingDue = true
		}
	}
}

// Close stops the heartbeat ticker and cancels the subscription. Safe to
// call from any termination path, any number of times.
func (s *Stream) Close() {
	s.ticker.Stop()
	s.sub.Cancel()
}
