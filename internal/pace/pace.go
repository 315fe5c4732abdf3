// Package pace provides the politeness-delay primitives shared by the
// scanner, the search client and the key validator. Delays here are
// deliberate pacing to stay under abuse detection, not a performance defect.
package pace

import (
	"context"
	"math/rand"
	"time"
)

// Sleeper abstracts how a component waits so tests can skip real delays.
type Sleeper interface {
	Pause(ctx context.Context, d time.Duration)
}

// TimerSleeper waits on a timer, returning early if the context finishes.
type TimerSleeper struct{}

// Pause blocks for d or until ctx is done.
func (TimerSleeper) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NopSleeper never waits. Useful in tests.
type NopSleeper struct{}

// Pause returns immediately.
func (NopSleeper) Pause(context.Context, time.Duration) {}

// Between returns a uniformly random duration in [min, max).
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
