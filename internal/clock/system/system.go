// Package system provides the wall clock.
package system

import "time"

// Clock implements clock.Clock using time.Now, in UTC and truncated to a
// fixed precision so stored timestamps round-trip through every backend.
type Clock struct {
	precision time.Duration
}

// New returns a clock truncating to precision; zero keeps full precision.
func New(precision time.Duration) *Clock {
	return &Clock{precision: precision}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c != nil && c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
