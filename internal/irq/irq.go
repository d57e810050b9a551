// Package irq implements the registry of per-interrupt handlers invoked
// from the exception vector, in the shape of the teacher's
// chipset.ChipsetBuilder/Chipset split: handlers are registered once
// at boot, then looked up and invoked by the dispatcher on every IRQ
// exception.
package irq

import (
	"fmt"
	"sync"

	"github.com/tinyrange/pikernel/internal/trapframe"
)

// Interrupt indexes the fixed set of interrupt sources this board
// exposes. Only Timer1 drives preemption; the others are placeholders
// future device drivers (the real SD controller, the real UART) would
// register against.
type Interrupt int

const (
	Timer1 Interrupt = iota
	Timer3
	USB
	Uart
	maxInterrupt
)

func (i Interrupt) String() string {
	switch i {
	case Timer1:
		return "Timer1"
	case Timer3:
		return "Timer3"
	case USB:
		return "USB"
	case Uart:
		return "Uart"
	default:
		return fmt.Sprintf("Interrupt(%d)", int(i))
	}
}

// Handler runs with interrupts masked and may mutate the caller's
// trap frame -- this is how the timer handler drives preemption and
// how the sleep syscall's wake path writes results into x0/x7.
type Handler func(tf *trapframe.TrapFrame)

// Table is a fixed-size registry of optional per-interrupt handlers.
// It is built once during boot; after that, Register and Invoke are
// serialized by mu, matching spec.md 4.4.
type Table struct {
	mu       sync.Mutex
	handlers [maxInterrupt]Handler
}

// NewTable constructs an empty interrupt table.
func NewTable() *Table {
	return &Table{}
}

// Register installs handler for the given interrupt, replacing
// whatever was registered before.
func (t *Table) Register(i Interrupt, handler Handler) error {
	if i < 0 || i >= maxInterrupt {
		return fmt.Errorf("irq: interrupt index %d out of range", int(i))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[i] = handler
	return nil
}

// Invoke dispatches to the handler registered for i, if any.
func (t *Table) Invoke(i Interrupt, tf *trapframe.TrapFrame) {
	t.mu.Lock()
	handler := t.handlers[i]
	t.mu.Unlock()
	if handler != nil {
		handler(tf)
	}
}

// Registered reports whether i currently has a handler installed.
func (t *Table) Registered(i Interrupt) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[i] != nil
}
