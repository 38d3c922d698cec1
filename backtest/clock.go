package backtest

import (
	"fmt"
	"time"
)

// Clock is the run's simulated time. Only the engine advances it, and
// never backwards; everything else reads it.
type Clock struct {
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulated timestamp.
func (c *Clock) Now() time.Time { return c.now }

// Advance moves the clock forward. Moving it backwards is a bug in the
// timeline merge and fails loudly.
func (c *Clock) Advance(t time.Time) error {
	if t.Before(c.now) {
		return fmt.Errorf("clock cannot move backwards: %s -> %s",
			c.now.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano))
	}
	c.now = t
	return nil
}
