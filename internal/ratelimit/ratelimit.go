// Package ratelimit bounds the global send rate shared by all workers.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
)

// Limiter hands out send permits.
type Limiter interface {
	// Acquire blocks until a permit is available or ctx is done.
	Acquire(ctx context.Context) error
	// TryAcquire takes a permit if one is available right now.
	TryAcquire() bool
}

// Mode selects the limiter implementation.
type Mode string

const (
	// ModeWindow refills the bucket to full once per window and allows
	// full-capacity bursts right after each refill.
	ModeWindow Mode = "window"
	// ModeSmooth spaces permits evenly over the second.
	ModeSmooth Mode = "smooth"
)

// ParseMode validates a mode name. Empty selects ModeWindow.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeWindow:
		return ModeWindow, nil
	case ModeSmooth:
		return ModeSmooth, nil
	default:
		return "", fmt.Errorf("unsupported rate mode %q (use window or smooth)", s)
	}
}

// New builds a limiter allowing perSecond permits per second. A non-positive
// rate disables limiting.
func New(mode Mode, perSecond int) Limiter {
	if perSecond <= 0 {
		return Unlimited{}
	}
	if mode == ModeSmooth {
		return NewSmooth(perSecond)
	}
	return NewWindow(perSecond)
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Acquire(ctx context.Context) error { return ctx.Err() }
func (Unlimited) TryAcquire() bool                  { return true }
