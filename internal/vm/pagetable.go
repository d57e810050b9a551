package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/pikernel/internal/platform"
)

// l2Entry tracks whether an L2 slot has been wired to its L3 table;
// since both L3 tables always exist for the lifetime of a PageTable
// (spec.md 4.2: "L2 entry i is valid iff it references L3 table i"),
// this is really just bookkeeping for is_valid's fast path.
type l2Entry struct {
	valid bool
	perm  Perm
}

// PageTable owns one L2 table and two L3 tables, together spanning 1
// GiB of virtual address space in platform.PageSize pages.
//
// On real hardware get_baddr returns the physical address of the L2
// table, because TTBR0/TTBR1 are literal physical addresses the MMU
// walks. The host simulation has no MMU and keeps PageTable on the Go
// heap (64 KiB-aligned allocation from platform memory is only
// meaningful once this is cross-compiled freestanding), so baddr here
// is a synthetic, monotonically increasing identifier that is unique
// per table and stable for its lifetime -- exactly the property every
// caller (TrapFrame.TTBR0/TTBR1, Scheduler) actually depends on.
type PageTable struct {
	l2    [2]l2Entry
	l3    [2][platform.L3Entries]L3Entry
	baddr uint64
	// base is the first virtual address this table describes:
	// descriptor indices are computed relative to it. Zero for the
	// kernel's identity map, platform.UserImgBase for user tables.
	base platform.VirtualAddr
}

var nextBaddr atomic.Uint64

func newPageTable(perm Perm, base platform.VirtualAddr) *PageTable {
	pt := &PageTable{baddr: nextBaddr.Add(platform.PageSize), base: base}
	for i := range pt.l2 {
		pt.l2[i] = l2Entry{valid: true, perm: perm}
	}
	return pt
}

// GetBaddr returns the table's base address: the value loaded into
// TTBR0/TTBR1 on every process switch (the synthetic baddr described
// on PageTable).
func (pt *PageTable) GetBaddr() platform.PhysicalAddr {
	return platform.PhysicalAddr(pt.baddr)
}

// locate panics when the relative l2 index is >= 2 or va is not
// page-aligned, exactly as spec.md 4.2 requires: both are programming
// errors, never recoverable conditions.
func (pt *PageTable) locate(va platform.VirtualAddr) (l2i, l3i uint64) {
	if !va.PageAligned() {
		panic(fmt.Sprintf("vm: virtual address %s is not page-aligned", va))
	}
	if va < pt.base {
		panic(fmt.Sprintf("vm: virtual address %s precedes table base %s", va, pt.base))
	}
	rel := va - pt.base
	// Unmasked, unlike platform.VirtualAddr.L2Index, so an address far
	// past the window cannot wrap back into index 0 or 1.
	l2i = uint64(rel) >> (platform.PageShift + 13)
	l3i = rel.L3Index()
	if l2i >= 2 {
		panic(fmt.Sprintf("vm: l2 index %d out of range for %s", l2i, va))
	}
	return l2i, l3i
}

// IsValid reports whether the L3 entry for va currently maps a page.
func (pt *PageTable) IsValid(va platform.VirtualAddr) bool {
	l2i, l3i := pt.locate(va)
	return pt.l3[l2i][l3i].IsValid()
}

// IsInvalid is the complement of IsValid.
func (pt *PageTable) IsInvalid(va platform.VirtualAddr) bool {
	return !pt.IsValid(va)
}

// SetEntry installs entry at the L3 slot for va.
func (pt *PageTable) SetEntry(va platform.VirtualAddr, entry L3Entry) *PageTable {
	l2i, l3i := pt.locate(va)
	pt.l3[l2i][l3i] = entry
	return pt
}

// Entry returns the L3 descriptor for va without validity checking.
func (pt *PageTable) Entry(va platform.VirtualAddr) L3Entry {
	l2i, l3i := pt.locate(va)
	return pt.l3[l2i][l3i]
}

// Translate resolves va to its backing physical address for
// logging/debug purposes: phys = L3.Addr | va.offset, where Addr holds
// the page's full physical address.
func (pt *PageTable) Translate(va platform.VirtualAddr) (platform.PhysicalAddr, bool) {
	l2i, l3i := pt.locate(va)
	e := pt.l3[l2i][l3i]
	if !e.Valid {
		return 0, false
	}
	return platform.PhysicalAddr(uint64(e.Addr) | va.Offset()), true
}

// Entries walks every (virtual address, L3Entry) pair backing this
// table's two L3 arrays, in ascending address order.
func (pt *PageTable) Entries(yield func(va platform.VirtualAddr, e L3Entry) bool) {
	for l2i := 0; l2i < 2; l2i++ {
		for l3i := 0; l3i < platform.L3Entries; l3i++ {
			va := pt.base + platform.VirtualAddr((uint64(l2i)<<(platform.PageShift+13))|(uint64(l3i)<<platform.PageShift))
			if !yield(va, pt.l3[l2i][l3i]) {
				return
			}
		}
	}
}
