// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/progress-coordinator/internal/clock"
)

// Clock implements clock.Clock using the runtime timer heap.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc schedules f on its own goroutine once d has elapsed.
func (Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return time.AfterFunc(d, f)
}
