// Package hostsim backs the kernel's notion of "physical memory" with
// an anonymous mmap'd region on the host, the way the teacher's
// internal/hv/kvm and internal/hv/hvf back a guest's physical address
// space with unix.Mmap over an anonymous region. It gives the
// allocator, the page table, and process.Load the same "contiguous
// range with a fixed base address" contract they get from a real
// bootloader's memory map, without any freestanding/bare-metal build.
package hostsim

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/pikernel/internal/platform"
)

// Memory is a contiguous byte-addressable region starting at
// platform.PhysicalAddr(0) through len(buf). The allocator hands out
// addresses within this range; Memory is where process.Load actually
// deposits a loaded image's bytes.
type Memory struct {
	buf []byte
}

// New mmaps an anonymous, zero-filled region of size bytes.
func New(size uint64) (*Memory, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hostsim: mmap %d bytes: %w", size, err)
	}
	return &Memory{buf: buf}, nil
}

// Close unmaps the region. It must not be called while any page table
// or allocator still references addresses into it.
func (m *Memory) Close() error {
	if m.buf == nil {
		return nil
	}
	err := unix.Munmap(m.buf)
	m.buf = nil
	return err
}

// Size returns the region's length in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.buf)) }

// WritePage copies data into the region starting at phys, satisfying
// process.PhysMem. It panics on an out-of-range write: that is always
// a bug in the caller's page accounting, never a recoverable runtime
// condition.
func (m *Memory) WritePage(phys platform.PhysicalAddr, data []byte) {
	start := uint64(phys)
	if start+uint64(len(data)) > uint64(len(m.buf)) {
		panic(fmt.Sprintf("hostsim: write [%#x, %#x) out of range (size %#x)", start, start+uint64(len(data)), len(m.buf)))
	}
	copy(m.buf[start:], data)
}

// ReadAt copies len(out) bytes starting at phys into out, for
// inspecting a loaded process's pages when debugging.
func (m *Memory) ReadAt(phys platform.PhysicalAddr, out []byte) {
	start := uint64(phys)
	if start+uint64(len(out)) > uint64(len(m.buf)) {
		panic(fmt.Sprintf("hostsim: read [%#x, %#x) out of range (size %#x)", start, start+uint64(len(out)), len(m.buf)))
	}
	copy(out, m.buf[start:])
}
