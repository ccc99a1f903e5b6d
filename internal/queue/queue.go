// Package queue provides the bounded FIFO that separates task generation from
// task consumption.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Poll when nothing arrived within the bound.
	ErrTimeout = errors.New("queue: poll timed out")
	// ErrClosed is returned by Poll once the queue is closed and drained, and
	// by Put after Close.
	ErrClosed = errors.New("queue: closed")
)

// Queue is a fixed-capacity FIFO safe for many producers and consumers.
type Queue[T any] struct {
	items     chan T
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Put appends v, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.items <- v:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll removes the head of the queue, waiting up to timeout for one to arrive.
func (q *Queue[T]) Poll(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	select {
	case v := <-q.items:
		return v, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-q.items:
		return v, nil
	case <-q.closed:
		// Items put before Close still drain.
		select {
		case v := <-q.items:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close marks the end of production. Consumers drain what is left.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }
