package vm

import "github.com/tinyrange/pikernel/internal/platform"

// KernelPT is the identity-mapped page table installed in TTBR0 for
// every process: one entry per 64 KiB page across RAM and the MMIO
// window, shared by the whole system since the kernel never changes
// at runtime.
type KernelPT struct {
	*PageTable
}

// NewKernelPT builds a fresh kernel page table and fills its L3
// entries for every page in mem (Normal memory, inner-shareable) and
// in the Raspberry Pi 3 MMIO window (Device memory, outer-shareable),
// both with kernel-read-write permission and the access flag set.
func NewKernelPT(mem platform.MemoryMap) *KernelPT {
	pt := newPageTable(PermKernelRW, 0)
	kpt := &KernelPT{pt}

	for addr := mem.Start; addr < mem.End; addr += platform.PageSize {
		kpt.SetEntry(platform.VirtualAddr(addr), pageEntry(addr, PermKernelRW, AttrMem, ShareInner))
	}
	for addr := platform.IOBase; addr < platform.IOBaseEnd; addr += platform.PageSize {
		kpt.SetEntry(platform.VirtualAddr(addr), pageEntry(addr, PermKernelRW, AttrDev, ShareOuter))
	}

	return kpt
}
