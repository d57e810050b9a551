// Package scheduler implements round-robin preemptive scheduling over
// a FIFO queue of processes, context-switching through trap frames the
// way the teacher's chipset.Chipset dispatches MMIO/PIO through a
// fixed device table: one registry, built once, looked up on every
// event.
package scheduler

import (
	"runtime"
	"sync"
	"time"

	"github.com/tinyrange/pikernel/internal/irq"
	"github.com/tinyrange/pikernel/internal/process"
	"github.com/tinyrange/pikernel/internal/trapframe"
)

// Scheduler owns the FIFO queue of processes for one machine. It is
// not safe for concurrent use directly; Global wraps it with the
// locking every exported operation needs.
type Scheduler struct {
	processes []*process.Process
	lastID    *process.Id
}

// New returns a Scheduler with an empty queue.
func New() *Scheduler { return &Scheduler{} }

// Add appends p to the queue, assigns it the next process id, stamps
// that id into its trap frame's TPIDR, and returns the id. It returns
// false if the id space is exhausted.
func (s *Scheduler) Add(p *process.Process) (process.Id, bool) {
	var id process.Id
	if s.lastID == nil {
		id = 0
	} else {
		if *s.lastID == ^process.Id(0) {
			return 0, false
		}
		id = *s.lastID + 1
	}
	p.Context.SetTPIDR(id)
	s.processes = append(s.processes, p)
	s.lastID = &id
	return id, true
}

// scheduleOut finds the process whose context matches tf's TPIDR,
// moves it to newState, saves tf into it, and pushes it to the back
// of the queue. It reports whether such a process was found.
func (s *Scheduler) scheduleOut(newState process.State, tf *trapframe.TrapFrame) bool {
	idx := -1
	for i, p := range s.processes {
		if p.Context.TPIDRAsPid() == tf.TPIDRAsPid() {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	p := s.processes[idx]
	s.processes = append(s.processes[:idx], s.processes[idx+1:]...)
	p.State = newState
	*p.Context = *tf
	s.processes = append(s.processes, p)
	return true
}

// switchTo finds the first Ready process in the queue, promotes it to
// Running, restores its trap frame into tf, moves it to the front of
// the queue, and returns its id. It reports false if no process in
// the queue is currently ready.
func (s *Scheduler) switchTo(tf *trapframe.TrapFrame) (process.Id, bool) {
	idx := -1
	for i, p := range s.processes {
		if p.IsReady() {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, false
	}
	p := s.processes[idx]
	s.processes = append(s.processes[:idx], s.processes[idx+1:]...)
	p.State = process.Running()
	id := p.Context.TPIDRAsPid()
	*tf = *p.Context
	s.processes = append([]*process.Process{p}, s.processes...)
	return id, true
}

// kill schedules the process matching tf out as Dead, removes it from
// the back of the queue where scheduleOut left it, releases its
// memory, and returns its id.
func (s *Scheduler) kill(tf *trapframe.TrapFrame) (process.Id, bool) {
	if !s.scheduleOut(process.Dead(), tf) {
		return 0, false
	}
	n := len(s.processes)
	p := s.processes[n-1]
	s.processes = s.processes[:n-1]
	id := p.Context.TPIDRAsPid()
	p.Drop()
	return id, true
}

// Global is the process-wide scheduler: a single Scheduler guarded by
// a mutex, the way the teacher's GlobalScheduler (and chipset's
// device table) serialize access from interrupt handlers and from
// whatever called into the kernel.
type Global struct {
	mu    sync.Mutex
	sched *Scheduler
}

// NewGlobal returns an uninitialized wrapper; Initialize must run
// before any other method.
func NewGlobal() *Global { return &Global{} }

// Initialize installs a fresh, empty Scheduler.
func (g *Global) Initialize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sched = New()
}

// Critical runs f with exclusive access to the underlying Scheduler.
// It panics if Initialize has not run, matching the original's
// "scheduler uninitialized" expect.
func (g *Global) Critical(f func(*Scheduler)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sched == nil {
		panic("scheduler: uninitialized")
	}
	f(g.sched)
}

// Add adds a process to the queue and returns its id.
func (g *Global) Add(p *process.Process) (process.Id, bool) {
	var id process.Id
	var ok bool
	g.Critical(func(s *Scheduler) { id, ok = s.Add(p) })
	return id, ok
}

// Switch performs a full context switch: the currently running
// process (identified by tf's TPIDR) is set to newState and its
// context saved, then the next ready process's context is restored
// into tf.
func (g *Global) Switch(newState process.State, tf *trapframe.TrapFrame) process.Id {
	g.Critical(func(s *Scheduler) { s.scheduleOut(newState, tf) })
	return g.SwitchTo(tf)
}

// SwitchTo restores the next ready process's context into tf. If no
// process is currently ready it yields and retries; on real hardware
// this is a wfe loop waiting for the next interrupt to make a waiting
// process ready.
func (g *Global) SwitchTo(tf *trapframe.TrapFrame) process.Id {
	for {
		var id process.Id
		var ok bool
		g.Critical(func(s *Scheduler) { id, ok = s.switchTo(tf) })
		if ok {
			return id
		}
		runtime.Gosched()
	}
}

// Kill marks the process matching tf's TPIDR as Dead and drops it
// from the queue, returning its id.
func (g *Global) Kill(tf *trapframe.TrapFrame) (process.Id, bool) {
	var id process.Id
	var ok bool
	g.Critical(func(s *Scheduler) { id, ok = s.kill(tf) })
	return id, ok
}

// Ticker schedules the next timer interrupt. The real board programs
// the BCM2837 system timer's compare register; the host simulation
// can back this with time.AfterFunc.
type Ticker interface {
	TickIn(d time.Duration)
}

// Start enables the preemption timer, registers the handler that
// re-arms it and forces a Ready-state switch on every tick, and
// primes the first context switch.
//
// It returns the id and trap frame of the first process to run. On
// real hardware, the trap frame returned here is restored into the
// live CPU registers by context_restore and entered via eret from
// whatever stack the kernel is already running on at boot -- there is
// no separate "reset SP to _start" step, since the kernel's own boot
// stack is never used again after this point.
func (g *Global) Start(table *irq.Table, controller *irq.Controller, ticker Ticker, tick time.Duration) (process.Id, *trapframe.TrapFrame) {
	controller.Enable(irq.Timer1)
	ticker.TickIn(tick)
	table.Register(irq.Timer1, func(tf *trapframe.TrapFrame) {
		ticker.TickIn(tick)
		g.Switch(process.Ready(), tf)
	})

	tf := &trapframe.TrapFrame{}
	id := g.SwitchTo(tf)
	return id, tf
}
