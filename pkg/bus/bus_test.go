package bus

import (
	"context"
	"testing"
	"time"
)

func TestQueue_PublishDropsWhenBufferFull(t *testing.T) {
	q := NewQueue[PerceptionEvent]("fusion", 4)
	defer q.Close()

	for i := 0; i < q.Cap(); i++ {
		if !q.Publish(NewVisualEvent(0, time.Now(), VisualInfoUpdate{Identity: "---"})) {
			t.Fatalf("expected publish %d to be accepted", i)
		}
	}

	if q.Publish(NewVisualEvent(0, time.Now(), VisualInfoUpdate{Identity: "overflow"})) {
		t.Fatalf("expected overflow publish to be rejected")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected dropped count 1, got %d", q.Dropped())
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue[ConsoleLine]("console", 8)
	defer q.Close()

	for _, s := range []string{"a", "b", "c"} {
		q.Publish(ConsoleLine{Text: s})
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.TryConsume()
		if !ok || got.Text != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, got.Text, ok)
		}
	}
	if _, ok := q.TryConsume(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueue_DrainEmptiesPending(t *testing.T) {
	q := NewQueue[string]("fragments", 8)
	defer q.Close()
	q.Publish("one")
	q.Publish("two")

	if n := q.Drain(); n != 2 {
		t.Fatalf("expected 2 drained, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestQueue_ConsumeHonorsContext(t *testing.T) {
	q := NewQueue[string]("fragments", 1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := q.Consume(ctx); ok {
		t.Fatalf("expected consume on empty queue to end with ctx")
	}
}

func TestQueue_ClosedQueueReturnsFalse(t *testing.T) {
	q := NewQueue[string]("fragments", 1)
	q.Close()
	q.Close()

	if q.Publish("late") {
		t.Fatalf("expected publish after close to be rejected")
	}
	if _, ok := q.Consume(context.Background()); ok {
		t.Fatalf("expected closed consume to return ok=false")
	}
}
