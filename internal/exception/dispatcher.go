package exception

import (
	"github.com/tinyrange/pikernel/internal/debug"
	"github.com/tinyrange/pikernel/internal/errs"
	"github.com/tinyrange/pikernel/internal/irq"
	"github.com/tinyrange/pikernel/internal/trapframe"
)

// SyscallHandler dispatches a decoded SVC immediate against the
// syscall ABI; internal/syscall.ABI.Dispatch satisfies this.
type SyscallHandler func(num uint16, tf *trapframe.TrapFrame)

// Dispatcher is the single entry point the exception vector calls
// into on every trap, playing the same role the teacher's
// chipset.Chipset plays for MMIO/PIO: one object that knows how to
// route an event to whichever handler owns it.
type Dispatcher struct {
	IRQTable   *irq.Table
	Controller *irq.Controller
	Syscalls   SyscallHandler
	// OnBreakpoint runs before the faulting instruction is skipped;
	// the original drops into an interactive shell here.
	OnBreakpoint func(tf *trapframe.TrapFrame)
	Trace        debug.Tracer
}

// HandleException routes a trap to its handler based on info.Kind,
// and, for synchronous traps, the decoded syndrome. It is called with
// interrupts masked, the way the real exception stub calls it between
// context_save and context_restore.
func (d *Dispatcher) HandleException(info Info, esr uint32, tf *trapframe.TrapFrame) {
	switch info.Kind {
	case KindSynchronous:
		d.handleSynchronous(esr, tf)
	case KindIrq:
		d.handleIrq(tf)
	default:
		// Fiq and SError are not raised on this board's configuration;
		// log and drop, matching the original's silent default arm.
		if d.Trace != nil {
			d.Trace.Writef("unhandled kind=%d esr=%#x", info.Kind, esr)
		}
	}
}

func (d *Dispatcher) handleSynchronous(esr uint32, tf *trapframe.TrapFrame) {
	syn := DecodeSyndrome(esr)
	switch syn.Kind {
	case SyndromeBrk:
		if d.OnBreakpoint != nil {
			d.OnBreakpoint(tf)
		}
		tf.ELR += 4 // skip the brk instruction so execution can resume.
	case SyndromeSvc:
		if d.Syscalls != nil {
			d.Syscalls(syn.Imm, tf)
		}
	case SyndromeInstructionAbort, SyndromeDataAbort:
		if d.Trace != nil {
			fault := &errs.SyndromeFault{Kind: syn.Fault, Level: int(syn.Level)}
			d.Trace.Writef("kind=%d esr=%#x: %v", syn.Kind, esr, fault)
		}
		tf.ELR += 4
	default:
		// Log and skip the offending instruction rather than killing
		// the process; SVC is the only synchronous class whose
		// preferred return address already points past the trapping
		// instruction.
		if d.Trace != nil {
			d.Trace.Writef("synchronous kind=%d esr=%#x", syn.Kind, esr)
		}
		tf.ELR += 4
	}
}

func (d *Dispatcher) handleIrq(tf *trapframe.TrapFrame) {
	for _, i := range d.Controller.Pending() {
		d.Controller.Acknowledge(i)
		d.IRQTable.Invoke(i, tf)
	}
}
