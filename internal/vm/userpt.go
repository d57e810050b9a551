package vm

import (
	"fmt"

	"github.com/tinyrange/pikernel/internal/platform"
)

// PageSource is the minimal capability UserPT needs from the bin
// allocator: hand back a fresh, page-aligned physical page. It is
// satisfied by (*allocator.Allocator).AllocPage/DeallocPage; UserPT
// depends on this narrow interface rather than the concrete allocator
// type so tests can supply a fake backing store.
type PageSource interface {
	AllocPage(pageSize uint64) (uint64, bool)
	DeallocPage(ptr, pageSize uint64)
}

// UserPT is a process's private page table: empty at construction,
// growing one page per Alloc call, with user-read-write L2 descriptors.
type UserPT struct {
	*PageTable
	pages  PageSource
	backed map[platform.VirtualAddr]uint64 // va -> physical page address, for Drop.
}

// NewUserPT constructs an empty user page table backed by pages.
func NewUserPT(pages PageSource) *UserPT {
	return &UserPT{
		PageTable: newPageTable(PermUserRW, platform.UserImgBase),
		pages:     pages,
		backed:    make(map[platform.VirtualAddr]uint64),
	}
}

// Alloc allocates a fresh 64 KiB page from the heap, wires it into the
// L3 entry for va, and returns the page's physical address.
//
// va < platform.UserImgBase is a programming error, as is double-alloc
// of the same va: both panic, matching spec.md 4.2.
func (u *UserPT) Alloc(va platform.VirtualAddr, perm Perm) (platform.PhysicalAddr, error) {
	if va < platform.UserImgBase {
		panic(fmt.Sprintf("vm: UserPT.Alloc(%s): below USER_IMG_BASE", va))
	}
	if !va.PageAligned() {
		panic(fmt.Sprintf("vm: UserPT.Alloc(%s): not page-aligned", va))
	}
	if u.IsValid(va) {
		panic(fmt.Sprintf("vm: UserPT.Alloc(%s): already mapped", va))
	}

	phys, ok := u.pages.AllocPage(platform.PageSize)
	if !ok {
		return 0, fmt.Errorf("vm: no memory for user page at %s", va)
	}

	u.SetEntry(va, pageEntry(platform.PhysicalAddr(phys), perm, AttrMem, ShareInner))
	u.backed[va] = phys
	return platform.PhysicalAddr(phys), nil
}

// Drop frees every page this table backs. It must be called exactly
// once, when the owning Process is reaped; spec.md 4.2: "On
// UserPT::drop, every valid L3 entry's backing page is freed."
func (u *UserPT) Drop() {
	for va, phys := range u.backed {
		u.pages.DeallocPage(phys, platform.PageSize)
		delete(u.backed, va)
	}
}
