package irq

import "sync"

// Controller models the BCM2837 interrupt controller's pending-bits
// register well enough for the exception dispatcher to enumerate which
// interrupts fired on a given IRQ exception. The real MMIO driver
// (out of scope: spec.md 1) implements this against hardware; the host
// simulation's Controller below is a plain bitset any device (the
// timer, the test harness) can assert lines on directly.
type Controller struct {
	mu      sync.Mutex
	pending [maxInterrupt]bool
	enabled [maxInterrupt]bool
}

// NewController returns a controller with every line disabled.
func NewController() *Controller {
	return &Controller{}
}

// Enable unmasks i so that future Assert calls actually mark it pending.
func (c *Controller) Enable(i Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[i] = true
}

// Assert marks i pending, if it is enabled.
func (c *Controller) Assert(i Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled[i] {
		c.pending[i] = true
	}
}

// Acknowledge clears i's pending bit; the exception dispatcher calls
// this for each pending interrupt just before invoking its handler.
func (c *Controller) Acknowledge(i Interrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[i] = false
}

// Pending returns every interrupt currently marked pending, in
// ascending index order -- the enumerated set the dispatcher walks on
// every Irq exception (spec.md 4.7).
func (c *Controller) Pending() []Interrupt {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Interrupt
	for i := Interrupt(0); i < maxInterrupt; i++ {
		if c.pending[i] {
			out = append(out, i)
		}
	}
	return out
}
