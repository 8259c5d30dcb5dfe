// Package ratelimit paces calls to external APIs.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Waiter blocks until the caller may proceed. *rate.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Per returns the limit allowing eventCount events every duration
func Per(eventCount int, duration time.Duration) rate.Limit {
	return rate.Every(duration / time.Duration(eventCount))
}

// NewLimiter returns a token bucket with burst 1 admitting eventCount events per duration.
// The first Wait returns immediately, later ones are spaced evenly.
func NewLimiter(eventCount int, duration time.Duration) *rate.Limiter {
	if eventCount <= 0 || duration <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(Per(eventCount, duration), 1)
}

// Pause waits a fixed duration on every call
type Pause time.Duration

// Wait sleeps for the pause duration or until ctx is done
func (p Pause) Wait(ctx context.Context) error {
	if p <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(p))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// None never waits
var None Waiter = noWait{}

type noWait struct{}

func (noWait) Wait(ctx context.Context) error {
	return ctx.Err()
}
