package irq

import (
	"testing"

	"github.com/tinyrange/pikernel/internal/trapframe"
)

func TestRegisterAndInvoke(t *testing.T) {
	table := NewTable()
	called := false
	if err := table.Register(Timer1, func(tf *trapframe.TrapFrame) { called = true }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var tf trapframe.TrapFrame
	table.Invoke(Timer1, &tf)
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestInvokeWithoutHandlerIsNoop(t *testing.T) {
	table := NewTable()
	var tf trapframe.TrapFrame
	table.Invoke(Uart, &tf) // must not panic
}

func TestControllerOnlyReportsEnabledPending(t *testing.T) {
	c := NewController()
	c.Assert(Timer1) // not enabled yet: should be dropped.
	if len(c.Pending()) != 0 {
		t.Fatal("expected no pending interrupts before Enable")
	}

	c.Enable(Timer1)
	c.Assert(Timer1)
	pending := c.Pending()
	if len(pending) != 1 || pending[0] != Timer1 {
		t.Fatalf("Pending() = %v, want [Timer1]", pending)
	}

	c.Acknowledge(Timer1)
	if len(c.Pending()) != 0 {
		t.Fatal("expected pending to clear after Acknowledge")
	}
}
