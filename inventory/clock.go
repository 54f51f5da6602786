package inventory

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injected time source for expiry and urgency checks
// =============================================================================

// Clock supplies the current time. Aggregates and services never call
// time.Now() directly so expiry/urgency predicates are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func orSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}

// Date builds a UTC midnight time. Mostly used by tests and scenarios.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole days from -> to (negative when to is earlier).
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
