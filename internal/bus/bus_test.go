package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pulse/internal/event"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	defer b.Shutdown()

	const n = 16
	subs := make([]*Subscription, n)
	var wg sync.WaitGroup
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := b.Subscribe()
			if err != nil {
				t.Errorf("Subscribe: %v", err)
				return
			}
			subs[i] = sub
		}(i)
	}
	wg.Wait()

	b.Publish(event.ResourceDeleted("42"))

	for i, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := sub.Queue().Pop(ctx)
		cancel()
		if err != nil {
			t.Fatalf("subscriber %d never saw the event: %v", i, err)
		}
		if ev.ResourceID != "42" {
			t.Errorf("subscriber %d got id %s, want 42", i, ev.ResourceID)
		}
		// Exactly one copy per subscriber.
		if extra, ok := sub.Queue().TryPop(); ok {
			t.Errorf("subscriber %d got extra event %+v", i, extra)
		}
	}
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := New()
	defer b.Shutdown()

	b.Publish(event.ResourceDeleted("before"))

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	if ev, ok := sub.Queue().TryPop(); ok {
		t.Errorf("late subscriber observed historical event %+v", ev)
	}
}

func TestPerSubscriberFIFO(t *testing.T) {
	b := New()
	defer b.Shutdown()

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		b.Publish(event.ResourceDeleted(fmt.Sprintf("%d", i)))
	}
	for i := 0; i < n; i++ {
		ev, ok := sub.Queue().TryPop()
		if !ok {
			t.Fatalf("event %d missing", i)
		}
		if want := fmt.Sprintf("%d", i); ev.ResourceID != want {
			t.Fatalf("event %d has id %s, want %s", i, ev.ResourceID, want)
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := New()
	defer b.Shutdown()

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	sub.Cancel()
	sub.Cancel()

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount after double cancel = %d, want 0", n)
	}
}

func TestCancelConcurrentWithCancel(t *testing.T) {
	b := New()
	defer b.Shutdown()

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Cancel()
		}()
	}
	wg.Wait()

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestPublishAfterDisconnectIsHarmless(t *testing.T) {
	b := New()
	defer b.Shutdown()

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()

	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount after cancel = %d, want 0", n)
	}

	// Must not panic or error; the event simply goes nowhere.
	b.Publish(event.ResourceDeleted("orphan"))
}

func TestPublishConcurrentWithCancel(t *testing.T) {
	b := New()
	defer b.Shutdown()

	// The publish either lands before removal (queue discarded) or after
	// (no-op). Either way nothing blocks and nothing panics.
	for i := 0; i < 50; i++ {
		sub, err := b.Subscribe()
		if err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Publish(event.ResourceDeleted("racer"))
		}()
		go func() {
			defer wg.Done()
			sub.Cancel()
		}()
		wg.Wait()
	}
}

func TestSubscriberLimit(t *testing.T) {
	b := NewWithLimit(2)
	defer b.Shutdown()

	for i := 0; i < 2; i++ {
		if _, err := b.Subscribe(); err != nil {
			t.Fatalf("Subscribe %d: %v", i, err)
		}
	}
	if _, err := b.Subscribe(); !errors.Is(err, ErrTooManySubscribers) {
		t.Errorf("Subscribe over limit: %v, want ErrTooManySubscribers", err)
	}
	if n := b.SubscriberCount(); n != 2 {
		t.Errorf("failed Subscribe left partial registration: count = %d", n)
	}
}

func TestSubscribeAfterShutdown(t *testing.T) {
	b := New()
	b.Shutdown()

	if _, err := b.Subscribe(); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Shutdown: %v, want ErrClosed", err)
	}
}

func TestShutdownClosesSubscriberQueues(t *testing.T) {
	b := New()
	sub, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}

	b.Shutdown()

	if _, err := sub.Queue().Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop after Shutdown: %v, want ErrQueueClosed", err)
	}
}
