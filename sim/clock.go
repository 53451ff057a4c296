package sim

import (
	"sync"
	"time"
)

// Clock is a manual clock.  Sleep advances it instantly, so polling loops
// run their full course without waiting in real time.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	sleeps int
}

// NewClock returns a clock starting at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current simulated time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
		c.slept += d
	}
	c.sleeps++
}

// Slept returns the total time slept and the number of calls to Sleep
func (c *Clock) Slept() (time.Duration, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept, c.sleeps
}
