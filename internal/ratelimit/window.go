package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	defaultWindow       = time.Second
	defaultPollInterval = time.Millisecond
)

// Window is a token bucket that resets to full capacity once per window.
// Whichever caller first observes an elapsed window performs the refill; a
// compare-and-swap on the window start guarantees a single refill per window.
type Window struct {
	capacity     int64
	window       int64 // nanoseconds
	pollInterval time.Duration
	now          func() int64

	permits     atomic.Int64
	windowStart atomic.Int64
}

// WindowOption customizes a Window limiter.
type WindowOption func(*Window)

// WithWindow overrides the refill period.
func WithWindow(d time.Duration) WindowOption {
	return func(w *Window) {
		if d > 0 {
			w.window = int64(d)
		}
	}
}

// WithPollInterval overrides the sleep between Acquire polls.
func WithPollInterval(d time.Duration) WindowOption {
	return func(w *Window) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithClock injects a monotonic nanosecond clock.
func WithClock(now func() int64) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWindow creates a full bucket of capacity permits.
func NewWindow(capacity int, opts ...WindowOption) *Window {
	if capacity < 1 {
		capacity = 1
	}
	epoch := time.Now()
	w := &Window{
		capacity:     int64(capacity),
		window:       int64(defaultWindow),
		pollInterval: defaultPollInterval,
		now:          func() int64 { return int64(time.Since(epoch)) },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.permits.Store(w.capacity)
	w.windowStart.Store(w.now())
	return w
}

// Acquire polls until a permit is available.
func (w *Window) Acquire(ctx context.Context) error {
	if w.TryAcquire() {
		return nil
	}
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if w.TryAcquire() {
			return nil
		}
		timer.Reset(w.pollInterval)
	}
}

// TryAcquire takes a permit without blocking.
func (w *Window) TryAcquire() bool {
	w.refill()
	for {
		permits := w.permits.Load()
		if permits <= 0 {
			return false
		}
		if w.permits.CompareAndSwap(permits, permits-1) {
			return true
		}
	}
}

// Available returns the permits left in the current window.
func (w *Window) Available() int64 {
	w.refill()
	return w.permits.Load()
}

// Capacity returns the permits granted per window.
func (w *Window) Capacity() int64 { return w.capacity }

func (w *Window) refill() {
	now := w.now()
	start := w.windowStart.Load()
	if now-start < w.window {
		return
	}
	if w.windowStart.CompareAndSwap(start, now) {
		w.permits.Store(w.capacity)
	}
}
