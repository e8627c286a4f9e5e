package engine

import (
	"context"
	"time"
)

// Clock abstracts wall time so that wait steps, loop sleeps, and
// absolute-time triggers can be driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is cancelled, whichever comes
	// first. It returns ctx.Err() when woken by cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// realClock is the production Clock backed by the time package.
type realClock struct{}

// NewClock returns the production wall clock.
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
