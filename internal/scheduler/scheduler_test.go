package scheduler

import (
	"testing"
	"time"

	"github.com/tinyrange/pikernel/internal/irq"
	"github.com/tinyrange/pikernel/internal/process"
	"github.com/tinyrange/pikernel/internal/trapframe"
	"github.com/tinyrange/pikernel/internal/vm"
)

func newTestProcess(t *testing.T) *process.Process {
	t.Helper()
	p := &process.Process{Context: &trapframe.TrapFrame{}, Vmap: &vm.UserPT{}, State: process.Ready()}
	return p
}

func TestAddAssignsSequentialIds(t *testing.T) {
	s := New()
	p1, p2 := newTestProcess(t), newTestProcess(t)

	id1, ok := s.Add(p1)
	if !ok || id1 != 0 {
		t.Fatalf("first id = %d, %v, want 0, true", id1, ok)
	}
	id2, ok := s.Add(p2)
	if !ok || id2 != 1 {
		t.Fatalf("second id = %d, %v, want 1, true", id2, ok)
	}
	if p1.Context.TPIDRAsPid() != 0 || p2.Context.TPIDRAsPid() != 1 {
		t.Fatal("expected ids stamped into each process's trap frame")
	}
}

func TestSwitchToPicksFirstReadyProcess(t *testing.T) {
	s := New()
	p1, p2 := newTestProcess(t), newTestProcess(t)
	p1.State = process.Dead() // never selectable.
	s.Add(p1)
	s.Add(p2)

	var tf trapframe.TrapFrame
	id, ok := s.switchTo(&tf)
	if !ok {
		t.Fatal("expected a ready process to be found")
	}
	if id != p2.Context.TPIDRAsPid() {
		t.Fatalf("switched to id %d, want p2's id %d", id, p2.Context.TPIDRAsPid())
	}
	if p2.State.Kind != process.KindRunning {
		t.Fatal("expected p2 to be Running after switchTo")
	}
}

func TestScheduleOutRequeuesAtBack(t *testing.T) {
	s := New()
	p1, p2 := newTestProcess(t), newTestProcess(t)
	s.Add(p1)
	s.Add(p2)

	var tf trapframe.TrapFrame
	// p1 is "running": give tf its TPIDR before scheduling it out.
	tf.SetTPIDR(p1.Context.TPIDRAsPid())
	tf.X[0] = 99

	if !s.scheduleOut(process.Ready(), &tf) {
		t.Fatal("expected p1 to be found and scheduled out")
	}
	if s.processes[len(s.processes)-1] != p1 {
		t.Fatal("expected p1 to be requeued at the back")
	}
	if p1.Context.X[0] != 99 {
		t.Fatal("expected tf to be saved into p1's context")
	}
}

func TestKillRemovesProcessFromQueue(t *testing.T) {
	s := New()
	p1 := newTestProcess(t)
	s.Add(p1)

	var tf trapframe.TrapFrame
	tf.SetTPIDR(p1.Context.TPIDRAsPid())

	id, ok := s.kill(&tf)
	if !ok || id != p1.Context.TPIDRAsPid() {
		t.Fatalf("kill = %d, %v", id, ok)
	}
	if len(s.processes) != 0 {
		t.Fatal("expected the queue to be empty after killing its only process")
	}
}

type fakeTicker struct{ armed int }

func (f *fakeTicker) TickIn(d time.Duration) { f.armed++ }

func TestStartEnablesTimerAndPrimesFirstProcess(t *testing.T) {
	g := NewGlobal()
	g.Initialize()
	p := newTestProcess(t)
	g.Add(p)

	table := irq.NewTable()
	controller := irq.NewController()
	ticker := &fakeTicker{}

	id, tf := g.Start(table, controller, ticker, time.Millisecond)
	if id != p.Context.TPIDRAsPid() {
		t.Fatalf("Start switched to id %d, want %d", id, p.Context.TPIDRAsPid())
	}
	if tf == nil {
		t.Fatal("expected a non-nil primed trap frame")
	}
	if ticker.armed != 1 {
		t.Fatalf("ticker armed %d times, want 1", ticker.armed)
	}
	if !table.Registered(irq.Timer1) {
		t.Fatal("expected Timer1 handler to be registered")
	}

	// Firing the timer handler should re-arm and force a Ready switch.
	controller.Assert(irq.Timer1)
	table.Invoke(irq.Timer1, tf)
	if ticker.armed != 2 {
		t.Fatal("expected the timer handler to re-arm the tick")
	}
}
