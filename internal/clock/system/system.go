// Package system provides the real clock and sleeper implementations.
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

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleeper implements crawler.Sleeper with a timer that honors ctx.
type Sleeper struct{}

// NewSleeper creates a new Sleeper.
func NewSleeper() *Sleeper {
	return &Sleeper{}
}

// Sleep blocks for d or until ctx is done.
func (Sleeper) Sleep(ctx context.Context, d time.Duration) {
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
