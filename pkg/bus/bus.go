package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const publishTimeout = 100 * time.Millisecond

// Queue is a bounded FIFO shared between one producer context and one
// consumer context. Publishing never blocks longer than publishTimeout; a
// message that cannot be enqueued in time is dropped and counted.
type Queue[T any] struct {
	name    string
	ch      chan T
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

func NewQueue[T any](name string, size int) *Queue[T] {
	if size <= 0 {
		size = 100
	}
	return &Queue[T]{
		name: name,
		ch:   make(chan T, size),
	}
}

func (q *Queue[T]) Name() string { return q.name }

// Publish enqueues msg and reports whether it was accepted.
func (q *Queue[T]) Publish(msg T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- msg:
		return true
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case q.ch <- msg:
			return true
		case <-timer.C:
			q.dropped.Add(1)
			return false
		}
	}
}

// TryPublish enqueues msg only if there is room right now.
func (q *Queue[T]) TryPublish(msg T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Consume blocks until a message arrives, ctx ends, or the queue closes.
func (q *Queue[T]) Consume(ctx context.Context) (T, bool) {
	var zero T
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}

// TryConsume returns immediately; ok is false when nothing is pending.
func (q *Queue[T]) TryConsume() (T, bool) {
	var zero T
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return msg, true
	default:
		return zero, false
	}
}

// Drain discards every pending message and returns how many were removed.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		if _, ok := q.TryConsume(); !ok {
			return n
		}
		n++
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
