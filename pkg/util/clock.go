package util

import (
	"sync"
	"time"
)

// Clock abstracts timers so phase timeouts are testable without wall-clock
// sleeps.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// FakeClock fires pending timers on demand. Advance fires every timer armed
// before the call; timers armed later need another Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []chan time.Time
}

func NewFakeClock() *FakeClock { return &FakeClock{now: time.Unix(0, 0)} }

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.pending = append(c.pending, ch)
	return ch
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	fired := c.pending
	c.pending = nil
	now := c.now
	c.mu.Unlock()
	for _, ch := range fired {
		ch <- now
	}
}
