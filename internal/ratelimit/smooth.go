package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Smooth paces permits evenly using a golang.org/x/time/rate limiter with a
// burst of one.
type Smooth struct {
	limiter *rate.Limiter
}

// NewSmooth creates a limiter releasing perSecond evenly spaced permits.
func NewSmooth(perSecond int) *Smooth {
	if perSecond < 1 {
		perSecond = 1
	}
	return &Smooth{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (s *Smooth) Acquire(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

func (s *Smooth) TryAcquire() bool {
	return s.limiter.Allow()
}
