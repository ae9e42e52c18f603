package timeline

import (
	"math"
	"sync/atomic"
)

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	bits atomic.Uint64
}

// Set moves the clock to t seconds.
func (c *ManualClock) Set(t float64) {
	c.bits.Store(math.Float64bits(t))
}

// Now returns the current clock value.
func (c *ManualClock) Now() float64 {
	return math.Float64frombits(c.bits.Load())
}
