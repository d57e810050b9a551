package exception

import (
	"testing"

	"github.com/tinyrange/pikernel/internal/errs"
	"github.com/tinyrange/pikernel/internal/irq"
	"github.com/tinyrange/pikernel/internal/trapframe"
)

func esr(ec uint8, iss uint32) uint32 {
	return uint32(ec)<<26 | (iss & 0x01ffffff)
}

func TestDecodeSyndromeSvc(t *testing.T) {
	syn := DecodeSyndrome(esr(0x15, 7))
	if syn.Kind != SyndromeSvc || syn.Imm != 7 {
		t.Fatalf("DecodeSyndrome = %+v, want Svc(7)", syn)
	}
}

func TestDecodeSyndromeBrk(t *testing.T) {
	syn := DecodeSyndrome(esr(0x3C, 42))
	if syn.Kind != SyndromeBrk || syn.Imm != 42 {
		t.Fatalf("DecodeSyndrome = %+v, want Brk(42)", syn)
	}
}

func TestDecodeSyndromeDataAbortPermissionFault(t *testing.T) {
	syn := DecodeSyndrome(esr(0x25, 0x0E)) // IFSC 0b001110: permission fault, level 2.
	if syn.Kind != SyndromeDataAbort {
		t.Fatalf("Kind = %v, want DataAbort", syn.Kind)
	}
	if syn.Fault != errs.FaultPermissionFault || syn.Level != 2 {
		t.Fatalf("Fault/Level = %v/%d, want PermissionFault/2", syn.Fault, syn.Level)
	}
}

func TestDecodeSyndromeUnknownEC(t *testing.T) {
	syn := DecodeSyndrome(esr(0x3F, 0))
	if syn.Kind != SyndromeOther || syn.EC != 0x3F {
		t.Fatalf("DecodeSyndrome = %+v, want Other(0x3F)", syn)
	}
}

func TestDispatcherRoutesSvcToSyscallHandler(t *testing.T) {
	var gotNum uint16
	d := &Dispatcher{Syscalls: func(num uint16, tf *trapframe.TrapFrame) { gotNum = num }}

	var tf trapframe.TrapFrame
	d.HandleException(Info{Kind: KindSynchronous}, esr(0x15, 3), &tf)
	if gotNum != 3 {
		t.Fatalf("syscall handler got num=%d, want 3", gotNum)
	}
}

func TestDispatcherSkipsBrkInstruction(t *testing.T) {
	called := false
	d := &Dispatcher{OnBreakpoint: func(tf *trapframe.TrapFrame) { called = true }}

	tf := trapframe.TrapFrame{ELR: 0x1000}
	d.HandleException(Info{Kind: KindSynchronous}, esr(0x3C, 0), &tf)
	if !called {
		t.Fatal("expected OnBreakpoint to run")
	}
	if tf.ELR != 0x1004 {
		t.Fatalf("ELR = %#x, want 0x1004", tf.ELR)
	}
}

func TestDispatcherSkipsDataAbortInstruction(t *testing.T) {
	d := &Dispatcher{}
	tf := trapframe.TrapFrame{ELR: 0x2000}
	d.HandleException(Info{Kind: KindSynchronous}, esr(0x25, 0x0E), &tf) // data abort
	if tf.ELR != 0x2004 {
		t.Fatalf("ELR = %#x, want the faulting instruction skipped", tf.ELR)
	}
}

func TestDispatcherInvokesPendingInterrupts(t *testing.T) {
	table := irq.NewTable()
	controller := irq.NewController()
	controller.Enable(irq.Timer1)

	called := false
	table.Register(irq.Timer1, func(tf *trapframe.TrapFrame) { called = true })

	d := &Dispatcher{IRQTable: table, Controller: controller}
	controller.Assert(irq.Timer1)

	var tf trapframe.TrapFrame
	d.HandleException(Info{Kind: KindIrq}, 0, &tf)
	if !called {
		t.Fatal("expected the Timer1 handler to run")
	}
}
