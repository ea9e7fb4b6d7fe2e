package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulse/internal/event"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue()
	q.push(event.ResourceDeleted("1"))
	q.push(event.ResourceDeleted("2"))
	q.push(event.ResourceDeleted("3"))

	for _, want := range []string{"1", "2", "3"} {
		ev, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop returned empty, want id %s", want)
		}
		if ev.ResourceID != want {
			t.Errorf("popped id %s, want %s", ev.ResourceID, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on drained queue reported an event")
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue()

	got := make(chan event.Event, 1)
	go func() {
		ev, err := q.Pop(context.Background())
		if err != nil {
			t.Errorf("Pop: %v", err)
			return
		}
		got <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	q.push(event.ResourceDeleted("7"))

	select {
	case ev := <-got:
		if ev.ResourceID != "7" {
			t.Errorf("popped id %s, want 7", ev.ResourceID)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestQueuePopHonoursCancellation(t *testing.T) {
	q := newQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop on cancelled context: %v, want context.Canceled", err)
	}
}

func TestQueueCloseDropsBacklog(t *testing.T) {
	q := newQueue()
	q.push(event.ResourceDeleted("1"))
	q.close()

	// A closed queue has no reader left; its backlog is discarded.
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop after close: %v, want ErrQueueClosed", err)
	}

	// push after close is a silent no-op.
	q.push(event.ResourceDeleted("2"))
	if n := q.Len(); n != 0 {
		t.Errorf("Len after push-on-closed = %d, want 0", n)
	}
}
