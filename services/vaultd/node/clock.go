package node

import (
	"sync"
	"time"
)

// Clock is the time source shared by every engine of a node. Devnets may
// shift it to step through commit periods and expiries.
type Clock struct {
	mu     sync.RWMutex
	base   func() int64
	offset int64
}

// NewClock wraps base, defaulting to the wall clock.
func NewClock(base func() int64) *Clock {
	if base == nil {
		base = func() int64 { return time.Now().Unix() }
	}
	return &Clock{base: base}
}

// Now returns the current unix time in seconds.
func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base() + c.offset
}

// Time returns Now as a time.Time.
func (c *Clock) Time() time.Time { return time.Unix(c.Now(), 0).UTC() }

// Set moves the clock so that Now returns ts.
func (c *Clock) Set(ts int64) {
	c.mu.Lock()
	c.offset = ts - c.base()
	c.mu.Unlock()
}

// Advance moves the clock forward by secs.
func (c *Clock) Advance(secs int64) {
	c.mu.Lock()
	c.offset += secs
	c.mu.Unlock()
}

// Offset reports how far the clock is shifted from its base.
func (c *Clock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
