package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/torosent/roomfire/internal/chat"
)

// ErrRetryExhausted wraps the last error of a task that used every attempt.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryPolicy configures retry behavior for a single task.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including the initial try
	BaseDelay   time.Duration                              // delay after attempt n is BaseDelay * 2^n
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // overrides the exponential delay; attempt is 1-based
}

// Delay returns the pause after the given number of failed attempts.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(attempt, err)
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.BaseDelay * time.Duration(1<<attempt)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the task
// has used MaxAttempts. task.Attempts is incremented after each failed
// attempt. No delay follows the last attempt, and cancellation during a
// delay aborts the task immediately.
func (p RetryPolicy) Do(ctx context.Context, task *chat.Task, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		task.Attempts++

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return err
		}
		if task.Attempts >= maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, task.Attempts, err)
		}

		if delay := p.Delay(task.Attempts, err); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
}

// retryable reports whether a failed attempt may succeed on a later try. A
// server rejection is deterministic and is never retried.
func retryable(err error) bool {
	return !errors.Is(err, chat.ErrRejected)
}
