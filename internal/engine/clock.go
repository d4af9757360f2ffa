package engine

import "sync/atomic"

// Clock orders canonical changes within one engine. Each change takes a
// stamp from Next; a load reads Current as it starts and, when it resolves,
// defers to every key stamped after that.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next advances the clock and returns the new stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest stamp handed out, or 0 before the first.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
