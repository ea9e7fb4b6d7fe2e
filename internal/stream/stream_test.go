package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pulse/internal/bus"
	"pulse/internal/event"
)

func subscribe(t *testing.T, b *bus.Bus) *bus.Subscription {
	t.Helper()
	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return sub
}

func nextFrame(t *testing.T, s *Stream, timeout time.Duration) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return ev
}

func TestRealEventBeatsSimultaneousPing(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	s := NewWithInterval(subscribe(t, b), 20*time.Millisecond)
	defer s.Close()

	// Let several ticks become due while an event is already pending; the
	// event must still come out first.
	b.Publish(event.ResourceCreated(event.Resource{ID: "5"}))
	time.Sleep(60 * time.Millisecond)

	first := nextFrame(t, s, time.Second)
	if first.Type != event.TypeResourceCreated || first.ResourceID != "5" {
		t.Fatalf("first frame = %+v, want resource.created id=5", first)
	}
}

func TestPingFollowsDrainedBacklog(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	s := NewWithInterval(subscribe(t, b), 20*time.Millisecond)
	defer s.Close()

	for i := 0; i < 5; i++ {
		b.Publish(event.ResourceDeleted(fmt.Sprintf("%d", i)))
	}
	time.Sleep(60 * time.Millisecond)

	// Backlog drains in publish order, then the deferred ping arrives.
	for i := 0; i < 5; i++ {
		ev := nextFrame(t, s, time.Second)
		if want := fmt.Sprintf("%d", i); ev.ResourceID != want {
			t.Fatalf("frame %d = %+v, want id %s", i, ev, want)
		}
	}
	if ev := nextFrame(t, s, time.Second); !ev.IsPing() {
		t.Fatalf("frame after backlog = %+v, want ping", ev)
	}
}

func TestTicksCollapseIntoOnePendingPing(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	s := NewWithInterval(subscribe(t, b), 10*time.Millisecond)
	defer s.Close()

	b.Publish(event.ResourceDeleted("1"))
	time.Sleep(80 * time.Millisecond)
	b.Publish(event.ResourceDeleted("2"))

	frames := []event.Event{
		nextFrame(t, s, time.Second),
		nextFrame(t, s, time.Second),
		nextFrame(t, s, time.Second),
	}
	if frames[0].ResourceID != "1" {
		t.Fatalf("frame 0 = %+v, want id 1", frames[0])
	}
	// Many ticks elapsed but at most one ping is owed before the next
	// queued event.
	if frames[1].IsPing() && frames[2].IsPing() {
		t.Fatalf("consecutive pings after backlog: %+v, %+v", frames[1], frames[2])
	}
}

func TestHeartbeatLiveness(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	interval := 20 * time.Millisecond
	s := NewWithInterval(subscribe(t, b), interval)
	defer s.Close()

	// With zero real events, each interval still yields a ping, modulo
	// scheduling jitter.
	for i := 0; i < 3; i++ {
		ev := nextFrame(t, s, 10*interval)
		if !ev.IsPing() {
			t.Fatalf("idle frame %d = %+v, want ping", i, ev)
		}
		if ev.Timestamp == 0 {
			t.Errorf("ping %d missing timestamp", i)
		}
	}
}

func TestNextHonoursCancellation(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	s := New(subscribe(t, b))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next on cancelled context: %v, want context.Canceled", err)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	s := New(subscribe(t, b))
	s.Close()
	s.Close() // closing twice is fine; unsubscribe is idempotent

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount after Close = %d, want 0", n)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after Close: %v, want ErrClosed", err)
	}
}

func TestCancellingOneStreamLeavesOthersRunning(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()

	interval := 20 * time.Millisecond
	s1 := NewWithInterval(subscribe(t, b), interval)
	s2 := NewWithInterval(subscribe(t, b), interval)
	defer s2.Close()

	b.Publish(event.ResourceCreated(event.Resource{ID: "x"}))

	if ev := nextFrame(t, s1, time.Second); ev.ResourceID != "x" {
		t.Fatalf("s1 frame = %+v, want id x", ev)
	}
	if ev := nextFrame(t, s2, time.Second); ev.ResourceID != "x" {
		t.Fatalf("s2 frame = %+v, want id x", ev)
	}

	s1.Close()

	// s2 keeps its own heartbeat cadence after s1 is gone.
	if ev := nextFrame(t, s2, 10*interval); !ev.IsPing() {
		t.Fatalf("s2 post-close frame = %+v, want ping", ev)
	}
}
