// Package vm implements the two-level virtual-memory manager: one L2
// table of 8192 entries, each pointing at one of two L3 tables of 8192
// entries, covering 1 GiB of virtual address space in 64 KiB pages.
package vm

import "github.com/tinyrange/pikernel/internal/platform"

// Attr selects the memory-type attribute index a descriptor carries.
type Attr uint8

const (
	AttrMem Attr = iota // Normal, cacheable RAM.
	AttrDev             // Device-nGnRE, for the MMIO window.
)

// Share selects the shareability domain of a descriptor.
type Share uint8

const (
	ShareOuter Share = iota
	ShareInner
)

// Perm selects the access-permission bits of a descriptor: kernel- or
// user-accessible, and read-write or read-only.
type Perm uint8

const (
	PermKernelRW Perm = iota
	PermUserRW
	PermKernelRO
	PermUserRO
)

// L3Entry is one leaf page-table descriptor: valid bit, access flag,
// shareability, attribute index, access permission, physical page
// address, and entry type. It mirrors RawL3Entry's field breakdown
// from the original implementation's vmsa layout, flattened into named
// Go fields since this port never needs to pack it into a literal
// 64-bit hardware descriptor register -- the host simulation and the
// eventual assembly MMU program both read these fields directly.
type L3Entry struct {
	Valid bool
	AF    bool // Access flag.
	SH    Share
	AP    Perm
	ATTR  Attr
	Addr  platform.PhysicalAddr
	// Type is true for a page descriptor (vs. a block descriptor); this
	// kernel only ever uses page descriptors at L3.
	Type bool
}

// IsValid reports whether the entry currently maps a page.
func (e L3Entry) IsValid() bool { return e.Valid }

func pageEntry(addr platform.PhysicalAddr, perm Perm, attr Attr, share Share) L3Entry {
	return L3Entry{
		Valid: true,
		AF:    true,
		SH:    share,
		AP:    perm,
		ATTR:  attr,
		Addr:  addr,
		Type:  true,
	}
}
