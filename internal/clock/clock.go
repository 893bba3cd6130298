// Package clock supplies the time source that stamps workouts, messages and
// presence records, and from which the session cache derives elapsed time.
package clock

import (
	"sync"
	"time"
)

// Clock is read wherever a timestamp is written or an elapsed duration is
// computed, so tests can pin workout start times and step time forward.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock is a manually driven clock. It is safe to read from realtime
// handler goroutines while a test advances it.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock returns a clock stopped at start.
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

// Now returns the clock's current reading.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Advance steps the clock forward by d, e.g. to age a running workout.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	t.now = t.now.Add(d)
	t.mu.Unlock()
}

// Set moves the clock to an absolute instant.
func (t *TestClock) Set(now time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}
