// Package allocator implements the kernel's bin/segregated-free-list
// heap: the only memory allocator available before any operating
// system exists underneath the kernel, managing one contiguous
// physical range handed to it at boot.
package allocator

import (
	"fmt"
	"math/bits"
)

// numClasses is the number of size classes. Class k holds blocks of
// size 2^(k+3) bytes, so class 29 tops out at 2^32 bytes -- anything
// larger always fails.
const numClasses = 30

// node is one entry of a class's free list. The original reuses the
// freed memory itself as node storage (a LinkedList over raw
// pointers); this port keeps each node on the Go heap and stores the
// freed address in it rather than an unsafe.Pointer, since the
// Allocator never dereferences guest memory on the host simulation
// build, only hands addresses to platform.MemoryRegion callers.
type node struct {
	addr uint64
	next *node
}

// Allocator is a bin/segregated-free-list heap over the fixed range
// [start, end). It never coalesces and never splits a larger class's
// block to satisfy a smaller request: see class.
type Allocator struct {
	start, end uint64
	currStart  uint64
	freeLists  [numClasses]*node
}

// New records the managed range; both free lists and the bump cursor
// start empty/at start.
func New(start, end uint64) *Allocator {
	if end < start {
		panic(fmt.Sprintf("allocator: end 0x%x precedes start 0x%x", end, start))
	}
	return &Allocator{start: start, end: end, currStart: start}
}

// Start returns the lower bound of the managed range.
func (a *Allocator) Start() uint64 { return a.start }

// End returns the upper (exclusive) bound of the managed range.
func (a *Allocator) End() uint64 { return a.end }

// class computes k = min{k : 2^(k+3) >= max(size, align)}. It returns
// (0, false) when max(size, align) exceeds 2^32, the largest request
// any class can satisfy.
func class(size, align uint64) (int, bool) {
	need := size
	if align > need {
		need = align
	}
	if need == 0 {
		need = 1
	}
	const maxNeed = uint64(1) << 32
	if need > maxNeed {
		return 0, false
	}
	// Smallest k with (1 << (k+3)) >= need, i.e. k+3 >= ceil(log2(need)).
	bitLen := bits.Len64(need - 1) // need-1 is safe: need >= 1.
	if need == 1 {
		bitLen = 0
	}
	k := bitLen - 3
	if k < 0 {
		k = 0
	}
	if k >= numClasses {
		return 0, false
	}
	return k, true
}

func classSize(k int) uint64 { return uint64(1) << (k + 3) }

func isPowerOfTwo(v uint64) bool { return v != 0 && v&(v-1) == 0 }

func alignUp(v, align uint64) (uint64, bool) {
	if align == 0 {
		return v, true
	}
	rem := v % align
	if rem == 0 {
		return v, true
	}
	add := align - rem
	sum := v + add
	if sum < v {
		return 0, false // overflow
	}
	return sum, true
}

// dmaMinAlign is the minimum alignment every returned address honors
// regardless of the caller's request, so that handing the block
// straight to the SD card's DMA engine (spec.md 6: "reads require
// 4-byte-aligned buffers") never needs a bounce buffer.
const dmaMinAlign = 4

// Alloc returns an address aligned to align with at least size usable
// bytes, or (0, false) on failure. Align not a power of two,
// size == 0, or no satisfying block are all reported as a failed
// allocation, exactly like a null pointer in the original; only an
// overflow while aligning the bump cursor up panics.
func (a *Allocator) Alloc(size, align uint64) (uint64, bool) {
	if size == 0 || align == 0 || !isPowerOfTwo(align) {
		return 0, false
	}
	k, ok := class(size, align)
	if !ok {
		return 0, false
	}

	effectiveAlign := align
	if effectiveAlign < dmaMinAlign {
		effectiveAlign = dmaMinAlign
	}

	// First, scan the free list at this class for a head whose address
	// already satisfies the alignment.
	var prev *node
	for n := a.freeLists[k]; n != nil; n = n.next {
		if n.addr%effectiveAlign == 0 {
			if prev == nil {
				a.freeLists[k] = n.next
			} else {
				prev.next = n.next
			}
			return n.addr, true
		}
		prev = n
	}

	// Otherwise bump-allocate: round curr_start up to align and carve
	// a class-k block out of [alignedStart, end). The block is always
	// the class matching the request's Layout, never a smaller one
	// that happens to hold size bytes: Dealloc files the block under
	// class(size, align), so serving it from any other class would
	// hand the same bytes out twice after a free.
	alignedStart, ok := alignUp(a.currStart, effectiveAlign)
	if !ok {
		panic("allocator: align-up overflow")
	}
	if alignedStart < a.start {
		panic("allocator: bump cursor moved before start")
	}

	bs := classSize(k)
	if alignedStart > a.end || bs > a.end-alignedStart {
		return 0, false
	}
	a.currStart = alignedStart + bs
	return alignedStart, true
}

// Dealloc pushes ptr onto the free list of the class matching size and
// align -- the class the allocation was originally served from. Unlike
// the C free() contract, the class is derived from (size, align), not
// stored alongside the block, so callers must pass the same Layout
// they allocated with; see vm.UserPT and process.Process, both of
// which always free with the Layout they allocated with.
func (a *Allocator) Dealloc(ptr, size, align uint64) {
	k, ok := class(size, align)
	if !ok {
		panic(fmt.Sprintf("allocator: dealloc of invalid layout (size=%d align=%d)", size, align))
	}
	a.freeLists[k] = &node{addr: ptr, next: a.freeLists[k]}
}

// AllocPage is a convenience wrapper used by vm.UserPT.Alloc and
// process.Process to request exactly one PageSize-aligned page; see
// platform.PageSize. Page tables must be 64 KiB aligned, so callers
// never special-case the alignment -- they just ask for it here.
func (a *Allocator) AllocPage(pageSize uint64) (uint64, bool) {
	return a.Alloc(pageSize, pageSize)
}

// DeallocPage frees a page previously returned by AllocPage.
func (a *Allocator) DeallocPage(ptr, pageSize uint64) {
	a.Dealloc(ptr, pageSize, pageSize)
}
