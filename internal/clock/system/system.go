// Package system provides the wall clock and context-aware sleeper used by
// the crawl pipeline.
package system

import (
	"context"
	"time"
)

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleeper implements crawler.Sleeper with a real timer.
type Sleeper struct{}

// NewSleeper creates a new Sleeper.
func NewSleeper() *Sleeper {
	return &Sleeper{}
}

// Pause blocks for delay or until ctx is done, whichever comes first.
func (Sleeper) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
