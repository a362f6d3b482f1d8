package util

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	NowMs() int64
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NowMs() int64   { return time.Now().UnixMilli() }

// ManualClock is a Clock whose time only moves when advanced explicitly.
// Deadline gates (payment windows, expiry) are tested against this.
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

func (c *ManualClock) NowMs() int64 { return c.Now().UnixMilli() }

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
