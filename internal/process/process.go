// Package process implements a single schedulable unit of execution:
// its saved register context, its private address space, and the
// Ready/Running/Waiting/Dead state machine the scheduler drives it
// through.
package process

import (
	"fmt"
	"io"

	"github.com/tinyrange/pikernel/internal/errs"
	"github.com/tinyrange/pikernel/internal/platform"
	"github.com/tinyrange/pikernel/internal/trapframe"
	"github.com/tinyrange/pikernel/internal/vm"
)

// Id identifies a process for the lifetime of the scheduler; it is
// also what the trap frame's TPIDR field carries across a context
// switch. 0 is a valid id: the first process ever scheduled gets it.
type Id = uint64

// Kind enumerates the states a Process can be in.
type Kind int

const (
	KindReady Kind = iota
	KindRunning
	KindWaiting
	KindDead
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "Ready"
	case KindRunning:
		return "Running"
	case KindWaiting:
		return "Waiting"
	case KindDead:
		return "Dead"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is the process's scheduling state. Poll is only meaningful
// when Kind == KindWaiting: it is re-evaluated on every scheduling
// pass and reports whether the wait condition has been satisfied.
type State struct {
	Kind Kind
	Poll func(*Process) bool
}

// Ready, Running, and Dead build the three pollable-free states.
func Ready() State   { return State{Kind: KindReady} }
func Running() State { return State{Kind: KindRunning} }
func Dead() State    { return State{Kind: KindDead} }

// Waiting builds a state that blocks until poll returns true.
func Waiting(poll func(*Process) bool) State {
	return State{Kind: KindWaiting, Poll: poll}
}

// PageSource is the capability Process needs from the heap allocator
// to hand out its kernel stack and back its user page table.
type PageSource interface {
	AllocPage(pageSize uint64) (uint64, bool)
	DeallocPage(ptr, pageSize uint64)
}

// PhysMem lets Load copy a loaded file's bytes into a freshly
// allocated physical page. The real freestanding build backs this
// with the kernel's own identity-mapped RAM; the host simulation
// backs it with a plain byte slice indexed by physical address.
type PhysMem interface {
	WritePage(phys platform.PhysicalAddr, data []byte)
}

// FileEntry is the minimal capability Load needs from an opened
// filesystem entry: its total size and sequential reads.
type FileEntry interface {
	Size() uint64
	io.Reader
}

// FileOpener opens a path on the mounted filesystem for reading.
type FileOpener interface {
	Open(path string) (FileEntry, error)
}

// Process is one schedulable unit: a saved trap frame, a private
// kernel stack, a private user address space, and a scheduling state.
type Process struct {
	Context *trapframe.TrapFrame
	Stack   platform.PhysicalAddr
	Vmap    *vm.UserPT
	State   State

	pages   PageSource
	currImg platform.VirtualAddr
}

// GetImageBase is the fixed virtual address every process image is
// loaded at and starts executing from.
func GetImageBase() platform.VirtualAddr { return platform.UserImgBase }

// GetStackBase is the fixed virtual address of a process's one stack
// page.
func GetStackBase() platform.VirtualAddr { return platform.UserStackBase.RoundDownPage() }

// GetStackTop is the initial stack pointer: 16-byte aligned, just
// under the top of the stack page. Adding a full PageSize to the
// stack base would wrap the 64-bit address space, so the top sits 16
// bytes shy of it.
func GetStackTop() platform.VirtualAddr {
	return platform.UserStackBase + (platform.PageSize - 16)
}

// GetMaxVA is the highest virtual address this address-space layout
// can ever map: two L2 entries' worth of L3 tables, each spanning
// L3Entries pages, starting at the image base.
func GetMaxVA() platform.VirtualAddr {
	return platform.UserImgBase + (platform.VirtualAddr(2*platform.L3Entries*platform.PageSize) - 1)
}

// New allocates a bare process: an empty trap frame, a kernel stack
// page, and an empty user page table, all in the Ready state. It
// fails NoMemory when the kernel stack page cannot be allocated; the
// empty user page table takes no pages from pages and cannot fail.
func New(pages PageSource) (*Process, error) {
	stack, ok := pages.AllocPage(platform.PageSize)
	if !ok {
		return nil, &errs.NoMemory{Op: "process kernel stack"}
	}
	return &Process{
		Context: &trapframe.TrapFrame{},
		Stack:   platform.PhysicalAddr(stack),
		Vmap:    vm.NewUserPT(pages),
		State:   Ready(),
		pages:   pages,
	}, nil
}

// Drop releases everything the process owns: its kernel stack page
// and every page its user table backs. The scheduler calls this once,
// when it reaps a Dead process.
func (p *Process) Drop() {
	if p.pages != nil {
		p.pages.DeallocPage(uint64(p.Stack), platform.PageSize)
		p.pages = nil
	}
	if p.Vmap != nil {
		p.Vmap.Drop()
	}
}

// Load builds a process whose image is the file at path: a stack
// page at GetStackBase, the file's bytes copied page by page starting
// at GetImageBase, and a trap frame primed to enter the image at EL0
// on the first switch to this process.
func Load(path string, fs FileOpener, mem PhysMem, kernelTTBR0 platform.PhysicalAddr, pages PageSource) (*Process, error) {
	p, err := New(pages)
	if err != nil {
		return nil, err
	}

	if _, err := p.Vmap.Alloc(GetStackBase(), vm.PermUserRW); err != nil {
		return nil, &errs.NoMemory{Op: "process user stack"}
	}

	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}

	p.currImg = GetImageBase()
	var readSoFar uint64
	size := file.Size()
	buf := make([]byte, platform.PageSize)
	for readSoFar < size {
		n, rerr := file.Read(buf)
		if n > 0 {
			phys, aerr := p.Vmap.Alloc(p.currImg, vm.PermUserRW)
			if aerr != nil {
				return nil, &errs.NoMemory{Op: "process image page"}
			}
			mem.WritePage(phys, buf[:n])
			readSoFar += uint64(n)
			p.currImg += platform.VirtualAddr(platform.PageSize)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return nil, rerr
		}
	}

	p.Context.SetEntryPoint(GetImageBase(), GetStackTop(), kernelTTBR0, p.Vmap.GetBaddr())
	p.Context.SetUserEntry()
	return p, nil
}

// IsReady reports whether this process can be switched to right now.
// A Ready process always can. A Waiting process is polled: if its
// condition is satisfied it transitions to Ready and reports true;
// otherwise it remains Waiting and reports false. Running and Dead
// processes are never ready, per spec.md 4.5.
func (p *Process) IsReady() bool {
	switch p.State.Kind {
	case KindReady:
		return true
	case KindWaiting:
		poll := p.State.Poll
		p.State = Ready()
		if poll != nil && poll(p) {
			return true
		}
		p.State = Waiting(poll)
		return false
	default:
		return false
	}
}
