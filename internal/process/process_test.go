package process

import (
	"bytes"
	"testing"

	"github.com/tinyrange/pikernel/internal/allocator"
	"github.com/tinyrange/pikernel/internal/platform"
)

type fakeMem struct {
	pages map[platform.PhysicalAddr][]byte
}

func newFakeMem() *fakeMem { return &fakeMem{pages: make(map[platform.PhysicalAddr][]byte)} }

func (m *fakeMem) WritePage(phys platform.PhysicalAddr, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[phys] = cp
}

type fakeFile struct{ r *bytes.Reader }

func (f *fakeFile) Size() uint64              { return uint64(f.r.Len()) }
func (f *fakeFile) Read(p []byte) (int, error) { return f.r.Read(p) }

type fakeFS struct{ data []byte }

func (fs *fakeFS) Open(path string) (FileEntry, error) {
	return &fakeFile{r: bytes.NewReader(fs.data)}, nil
}

func TestNewFailsNoMemoryWhenStackExhausted(t *testing.T) {
	a := allocator.New(0, 0) // empty range: every allocation fails.
	if _, err := New(a); err == nil {
		t.Fatal("expected NoMemory error from an exhausted allocator")
	}
}

func TestLoadCopiesImageAcrossPages(t *testing.T) {
	a := allocator.New(0, 16*platform.PageSize)
	mem := newFakeMem()

	image := bytes.Repeat([]byte{0xAB}, int(platform.PageSize)+10) // spans two pages.
	fs := &fakeFS{data: image}

	p, err := Load("/fib.bin", fs, mem, platform.PhysicalAddr(0x1000), a)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Context.ELR != uint64(GetImageBase()) {
		t.Fatalf("ELR = %#x, want image base", p.Context.ELR)
	}
	if p.Context.SP != uint64(GetStackTop()) {
		t.Fatalf("SP = %#x, want stack top", p.Context.SP)
	}
	if p.Context.TTBR0 != 0x1000 {
		t.Fatalf("TTBR0 = %#x, want kernel baddr", p.Context.TTBR0)
	}
	if p.Context.TTBR1 != uint64(p.Vmap.GetBaddr()) {
		t.Fatal("TTBR1 should be the process's own page table baddr")
	}

	if !p.Vmap.IsValid(GetStackBase()) {
		t.Fatal("expected the stack page to be mapped")
	}
	if !p.Vmap.IsValid(GetImageBase()) {
		t.Fatal("expected the first image page to be mapped")
	}
	if !p.Vmap.IsValid(GetImageBase() + platform.PageSize) {
		t.Fatal("expected the second image page to be mapped")
	}

	if len(mem.pages) != 2 {
		t.Fatalf("wrote %d pages, want 2", len(mem.pages))
	}
}

func TestDropReturnsPagesToAllocator(t *testing.T) {
	a := allocator.New(0, 4*platform.PageSize)
	p, err := New(a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stack := uint64(p.Stack)
	p.Drop()

	got, ok := a.AllocPage(platform.PageSize)
	if !ok {
		t.Fatal("expected allocation to succeed after Drop")
	}
	if got != stack {
		t.Fatalf("AllocPage = %#x, want the freed stack page %#x", got, stack)
	}
}

func TestIsReadyStateMachine(t *testing.T) {
	p := &Process{State: Ready()}
	if !p.IsReady() {
		t.Fatal("Ready process must report ready")
	}

	p.State = Running()
	if p.IsReady() {
		t.Fatal("Running process must never report ready")
	}

	p.State = Dead()
	if p.IsReady() {
		t.Fatal("Dead process must never report ready")
	}

	polls := 0
	p.State = Waiting(func(*Process) bool {
		polls++
		return polls >= 2
	})
	if p.IsReady() {
		t.Fatal("expected first poll to fail")
	}
	if p.State.Kind != KindWaiting {
		t.Fatal("expected state to revert to Waiting after a failed poll")
	}
	if !p.IsReady() {
		t.Fatal("expected second poll to succeed")
	}
	if p.State.Kind != KindReady {
		t.Fatal("expected state to settle on Ready after a successful poll")
	}
}
