// Package testutil holds deterministic clocks, id generators and database
// fixtures shared by package tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start instant for FixedClock.
var Epoch = time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)

// FixedClock is a thread-safe clock that advances by a fixed step on every
// call to Now.
//
// The first call to Now returns the start instant.
type FixedClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewFixedClock creates a clock starting at start. A zero start uses Epoch.
func NewFixedClock(start time.Time, step time.Duration) *FixedClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FixedClock{start: start, step: step}
}

// Now returns the next instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *FixedClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to its start instant.
func (c *FixedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
