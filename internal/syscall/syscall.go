// Package syscall implements the kernel's EL0 syscall ABI: the
// handful of operations (sleep, time, exit, write, getpid) a user
// process can request through svc, each passing its arguments and
// receiving its results through the trap frame's x registers.
package syscall

import (
	"time"

	"github.com/tinyrange/pikernel/internal/errs"
	"github.com/tinyrange/pikernel/internal/process"
	"github.com/tinyrange/pikernel/internal/trapframe"
)

// Syscall numbers, assigned by this kernel's own ABI rather than any
// external convention.
const (
	NRSleep uint16 = iota + 1
	NRTime
	NRExit
	NRWrite
	NRGetpid
)

// Clock abstracts the board's free-running timer so ABI.sleep and
// ABI.time can be tested without real hardware.
type Clock interface {
	Now() time.Duration
}

// Scheduler is the subset of scheduler.Global the ABI needs: enough
// to park the calling process (sleep) and reap it (exit).
type Scheduler interface {
	Switch(newState process.State, tf *trapframe.TrapFrame) process.Id
	Kill(tf *trapframe.TrapFrame) (process.Id, bool)
}

// Console is the write syscall's target.
type Console interface {
	WriteByte(b byte) error
}

// ABI wires the syscall table to the kernel's actual clock, scheduler,
// and console, the way process.Load wires a trap frame to a concrete
// address space rather than hardcoding one.
type ABI struct {
	Clock     Clock
	Scheduler Scheduler
	Console   Console
}

// Dispatch routes a decoded SVC immediate to its handler, matching
// spec.md 4.8's syscall table. Unknown numbers report
// errs.OsUnknownSyscall in x7 rather than panicking: a user process
// issuing svc with a bad immediate must not be able to crash the
// kernel.
func (a *ABI) Dispatch(num uint16, tf *trapframe.TrapFrame) {
	switch num {
	case NRSleep:
		a.sleep(uint32(tf.Arg(0)), tf)
	case NRTime:
		a.time(tf)
	case NRExit:
		a.exit(tf)
	case NRWrite:
		a.write(byte(tf.Arg(0)), tf)
	case NRGetpid:
		a.getpid(tf)
	default:
		tf.SetStatus(uint64(errs.OsUnknownSyscall))
	}
}

// sleep parks the calling process until at least ms milliseconds have
// elapsed, reporting in x0 on wake how many milliseconds past the
// deadline it woke (now minus deadline; up to one scheduling tick).
func (a *ABI) sleep(ms uint32, tf *trapframe.TrapFrame) {
	end := a.Clock.Now() + time.Duration(ms)*time.Millisecond
	poll := func(p *process.Process) bool {
		now := a.Clock.Now()
		if now < end {
			return false
		}
		p.Context.SetResult(uint64((now - end).Milliseconds()), 0)
		p.Context.SetStatus(uint64(errs.OsOk))
		return true
	}
	a.Scheduler.Switch(process.Waiting(poll), tf)
}

// time reports the current wall-clock time as (seconds, nanoseconds)
// in (x0, x1).
func (a *ABI) time(tf *trapframe.TrapFrame) {
	now := a.Clock.Now()
	secs := uint64(now / time.Second)
	nanos := uint64((now % time.Second).Nanoseconds())
	tf.SetResult(secs, nanos)
	tf.SetStatus(uint64(errs.OsOk))
}

// exit kills the calling process. It never returns to user space: the
// scheduler's next switch lands in a different process entirely.
func (a *ABI) exit(tf *trapframe.TrapFrame) {
	a.Scheduler.Kill(tf)
	tf.SetStatus(uint64(errs.OsOk))
}

// write prints one ASCII byte to the console.
func (a *ABI) write(b byte, tf *trapframe.TrapFrame) {
	if b > 127 {
		tf.SetStatus(uint64(errs.OsInvalidArgument))
		return
	}
	if err := a.Console.WriteByte(b); err != nil {
		tf.SetStatus(uint64(errs.OsInvalidArgument))
		return
	}
	tf.SetStatus(uint64(errs.OsOk))
}

// getpid reports the calling process's id (its trap frame's TPIDR) in x0.
func (a *ABI) getpid(tf *trapframe.TrapFrame) {
	tf.SetResult(tf.TPIDRAsPid(), 0)
	tf.SetStatus(uint64(errs.OsOk))
}
