package hardware

import "sync/atomic"

// PulseCounter counts flow-meter pulses. Inc is called from the edge watcher
// goroutine and Take from the sampling side; it is the only value shared
// between the two.
type PulseCounter struct {
	n atomic.Uint64
}

func (c *PulseCounter) Inc() {
	c.n.Add(1)
}

// Take returns the current count and resets it to zero.
func (c *PulseCounter) Take() uint64 {
	return c.n.Swap(0)
}
