package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pulse/internal/cache"
	"pulse/internal/event"
)

func newTestLive(t *testing.T, fetches *atomic.Int32) *Live {
	t.Helper()
	l := &Live{cache: cache.New()}
	l.cache.Register(QueryResources, []string{KeyResources}, func(ctx context.Context) (any, error) {
		fetches.Add(1)
		return []event.Resource{}, nil
	})
	return l
}

func prime(t *testing.T, l *Live) {
	t.Helper()
	if _, err := l.Resources(context.Background()); err != nil {
		t.Fatalf("Resources: %v", err)
	}
}

func TestResourceEventsInvalidateListQuery(t *testing.T) {
	kinds := []event.Event{
		event.ResourceCreated(event.Resource{ID: "1"}),
		event.ResourceUpdated(event.Resource{ID: "1"}),
		event.ResourceDeleted("1"),
	}

	for _, ev := range kinds {
		var fetches atomic.Int32
		l := newTestLive(t, &fetches)
		prime(t, l)

		l.handleFrame(ev)

		waitFor(t, func() bool { return fetches.Load() == 2 })
	}
}

func TestPingsAreFilteredFromObservers(t *testing.T) {
	var fetches atomic.Int32
	l := newTestLive(t, &fetches)
	prime(t, l)

	var seen atomic.Int32
	l.OnEvent(func(event.Event) { seen.Add(1) })

	l.handleFrame(event.Ping(time.Now()))
	l.handleFrame(event.Ping(time.Now()))
	l.handleFrame(event.ResourceDeleted("1"))

	if n := seen.Load(); n != 1 {
		t.Errorf("observer saw %d events, want 1 (pings filtered)", n)
	}

	// Pings also never touch the cache.
	time.Sleep(20 * time.Millisecond)
	waitFor(t, func() bool { return fetches.Load() == 2 })
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

func TestMutationKeysDefaultToResources(t *testing.T) {
	var fetches atomic.Int32
	l := newTestLive(t, &fetches)
	prime(t, l)

	l.invalidateDeclared(nil)
	waitFor(t, func() bool { return fetches.Load() == 2 })

	// A declared key that no query uses is a silent no-op.
	l.invalidateDeclared([]string{"unrelated"})
	time.Sleep(20 * time.Millisecond)
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches after unrelated key = %d, want 2", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
