// Package timeutil provides a testable abstraction over time operations.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time. Real clocks carry a monotonic reading,
	// so comparisons between two Now values are immune to wall-clock steps.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a manually controlled clock for testing.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by the given duration.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Deadline is a one-shot, non-blocking timer polled once per control cycle.
// The zero value is disarmed.
type Deadline struct {
	at    time.Time
	armed bool
}

// Arm sets the deadline to d from the clock's current time.
func (dl *Deadline) Arm(c Clock, d time.Duration) {
	dl.at = c.Now().Add(d)
	dl.armed = true
}

// Clear disarms the deadline.
func (dl *Deadline) Clear() {
	dl.armed = false
	dl.at = time.Time{}
}

// Armed reports whether the deadline is pending or expired but not cleared.
func (dl *Deadline) Armed() bool {
	return dl.armed
}

// Expired reports whether an armed deadline has been reached.
func (dl *Deadline) Expired(c Clock) bool {
	return dl.armed && !c.Now().Before(dl.at)
}

// Remaining returns the time left before expiry, or 0 when disarmed or expired.
func (dl *Deadline) Remaining(c Clock) time.Duration {
	if !dl.armed {
		return 0
	}
	if r := dl.at.Sub(c.Now()); r > 0 {
		return r
	}
	return 0
}
