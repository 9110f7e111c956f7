package common

import (
	"sync"
	"time"
)

// Clock supplies the timestamp an operation executes at. Engines read it once
// per operation so every step of the transition observes the same instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set pins the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Unix returns the clock reading in whole seconds, clamping pre-epoch values.
func Unix(c Clock) uint64 {
	if c == nil {
		c = SystemClock{}
	}
	ts := c.Now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
