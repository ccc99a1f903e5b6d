package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torosent/roomfire/internal/chat"
	"github.com/torosent/roomfire/internal/runner"
	"github.com/torosent/roomfire/internal/websocket"
)

// TestRetryRespectsMaxAttempts verifies a task that recovers stops retrying.
func TestRetryRespectsMaxAttempts(t *testing.T) {
	var calls int
	policy := runner.RetryPolicy{
		MaxAttempts: 5,
		DelayFunc: func(attempt int, err error) time.Duration {
			return time.Duration(attempt) * time.Millisecond // linear backoff for test determinism
		},
	}

	task := chat.Task{}
	err := policy.Do(context.Background(), &task, func(context.Context) error {
		calls++
		if calls <= 3 {
			return websocket.ErrResponseTimeout
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	// Should succeed on 4th attempt (3 retries after initial failure).
	if calls != 4 || task.Attempts != 3 {
		t.Errorf("calls/attempts = %d/%d, want 4/3", calls, task.Attempts)
	}
}

func TestRetryAlwaysTimingOutFailsAfterFiveAttempts(t *testing.T) {
	var calls int
	var stamps []time.Time
	policy := runner.RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Millisecond}

	task := chat.Task{}
	start := time.Now()
	err := policy.Do(context.Background(), &task, func(context.Context) error {
		calls++
		stamps = append(stamps, time.Now())
		return websocket.ErrResponseTimeout
	})

	if !errors.Is(err, runner.ErrRetryExhausted) || !errors.Is(err, websocket.ErrResponseTimeout) {
		t.Fatalf("Do() error = %v, want ErrRetryExhausted wrapping ErrResponseTimeout", err)
	}
	if calls != 5 || task.Attempts != 5 {
		t.Fatalf("calls/attempts = %d/%d, want 5/5", calls, task.Attempts)
	}
	// Delays of 4, 8, 16 and 32ms between the five attempts and none after the last.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed %s, want at least the 60ms of exponential delays", elapsed)
	}
	for i := 1; i < len(stamps); i++ {
		want := 2 * time.Millisecond << i
		if gap := stamps[i].Sub(stamps[i-1]); gap < want {
			t.Errorf("gap before attempt %d = %s, want >= %s", i+1, gap, want)
		}
	}
}

func TestRetryDelayIsExponential(t *testing.T) {
	policy := runner.RetryPolicy{BaseDelay: 200 * time.Millisecond}
	want := []time.Duration{400, 800, 1600, 3200}
	for i, w := range want {
		if got := policy.Delay(i+1, nil); got != w*time.Millisecond {
			t.Errorf("Delay(%d) = %s, want %dms", i+1, got, w)
		}
	}
}

func TestRetryShouldRetryStopsEarly(t *testing.T) {
	var calls int
	rejected := &chat.RejectedError{Status: chat.StatusError, Reason: "bad"}
	policy := runner.RetryPolicy{
		MaxAttempts: 5,
		ShouldRetry: func(err error) bool { return !errors.Is(err, chat.ErrRejected) },
	}

	task := chat.Task{}
	err := policy.Do(context.Background(), &task, func(context.Context) error {
		calls++
		return rejected
	})
	if !errors.Is(err, chat.ErrRejected) || errors.Is(err, runner.ErrRetryExhausted) {
		t.Fatalf("Do() error = %v, want the rejection unwrapped", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	policy := runner.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	task := chat.Task{}
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, &task, func(context.Context) error {
			return websocket.ErrResponseTimeout
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not abort on cancellation during backoff")
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}
}
