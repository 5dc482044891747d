package mock

import (
	"sync"
	"time"
)

// Clock is the time source shared by the mock portal and the managers under
// test, so both agree on when a token expires.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MockClock only moves when told to.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock starts a clock at start, or at the current time when start is zero.
// The value is truncated to milliseconds, the precision of ArcGIS expiries.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start.Truncate(time.Millisecond)}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AdvancePast moves the clock to just after deadline. A deadline already in
// the past leaves the clock alone.
func (c *MockClock) AdvancePast(deadline time.Time) {
	c.mu.Lock()
	if !c.now.After(deadline) {
		c.now = deadline.Add(time.Millisecond)
	}
	c.mu.Unlock()
}
