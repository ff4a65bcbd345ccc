// Package simtime holds simulated time for a run. Time is derived from the
// step count as start + steps*dt, so it does not accumulate rounding drift.
package simtime

import (
	"fmt"
	"math"
)

// Clock is the stepping clock owned by a simulation driver.
type Clock struct {
	start float64
	dt    float64
	steps int
	total int
}

// New returns a clock starting at start that advances dt per step and runs
// for total steps.
func New(start, dt float64, total int) (*Clock, error) {
	if dt <= 0 || math.IsNaN(dt) {
		return nil, fmt.Errorf("simtime: dt must be positive, got %g", dt)
	}
	if total < 0 {
		return nil, fmt.Errorf("simtime: total steps must be non-negative, got %d", total)
	}
	return &Clock{start: start, dt: dt, total: total}, nil
}

// ForDuration returns a clock that runs from start to end in steps of dt.
// The step count is rounded to the nearest whole step.
func ForDuration(start, end, dt float64) (*Clock, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("simtime: dt must be positive, got %g", dt)
	}
	if end < start {
		return nil, fmt.Errorf("simtime: end time %g before start %g", end, start)
	}
	return New(start, dt, int(math.Round((end-start)/dt)))
}

// Now returns the current simulated time in hours.
func (c *Clock) Now() float64 {
	return c.start + float64(c.steps)*c.dt
}

// Dt returns the step size.
func (c *Clock) Dt() float64 { return c.dt }

// Steps returns how many steps have elapsed.
func (c *Clock) Steps() int { return c.steps }

// TotalSteps returns the configured number of steps.
func (c *Clock) TotalSteps() int { return c.total }

// Done reports whether every configured step has elapsed.
func (c *Clock) Done() bool { return c.steps >= c.total }

// Advance moves the clock forward one step.
func (c *Clock) Advance() error {
	if c.Done() {
		return fmt.Errorf("simtime: clock already at end (%d steps)", c.total)
	}
	c.steps++
	return nil
}

// Manual is a clock whose time is set directly. Tests and offline tools use
// it where no driver is stepping.
type Manual struct {
	T float64
}

// Now returns the set time.
func (m *Manual) Now() float64 { return m.T }

// Set moves the clock to t.
func (m *Manual) Set(t float64) { m.T = t }
