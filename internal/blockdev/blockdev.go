// Package blockdev defines the narrow contract the FAT32 filesystem
// needs from storage: fixed-size
// sector reads (and, for the host simulation only, writes), in the
// same "device exposes a handful of methods, everything else is
// layered on top" style the teacher's hv.MMIORegion gives every
// device backend.
//
// The real SD controller (out of scope: spec.md 1) is a command/
// response protocol over MMIO; this package only specifies the
// surface internal/fat32 is allowed to depend on, so the real driver
// and the host simulation's file-backed device both satisfy it.
package blockdev

import (
	"github.com/tinyrange/pikernel/internal/errs"
)

// SectorSize is the SD card's native sector size. Reads must target
// buffers at least this large; partitions may declare a logical
// sector size that is an integer multiple of it (spec.md 6).
const SectorSize = 512

// Device is a read-only block device addressed by 512-byte sector
// number. Real hardware additionally requires read buffers to be
// 4-byte aligned (spec.md 6); the host simulation has no such
// constraint since it never touches DMA-incoherent memory, but still
// enforces the length contract so tests catch the same mistakes a
// real SD transfer would.
type Device interface {
	// SectorSize reports this device's native sector size in bytes.
	SectorSize() uint64
	// ReadSector reads one sector at the given sector number into buf,
	// which must be at least SectorSize bytes. It returns the number
	// of bytes read.
	ReadSector(sector uint64, buf []byte) (int, error)
}

// WritableDevice is additionally writable. Per spec.md 1's Non-goals
// the mounted filesystem never writes; only the in-memory Memory
// device implements it, for tests that seed a disk image.
type WritableDevice interface {
	Device
	WriteSector(sector uint64, buf []byte) (int, error)
}

// Memory is an in-process block device backed by a byte slice,
// standing in for the real SD card driver the way
// platform/hostsim.Memory stands in for physical RAM. It is what
// internal/fat32's tests and the host-simulation boot path mount.
type Memory struct {
	sectorSize uint64
	data       []byte
}

// NewMemory wraps data as a block device with the given native sector
// size (almost always blockdev.SectorSize). data's length must be a
// multiple of sectorSize.
func NewMemory(data []byte, sectorSize uint64) *Memory {
	if sectorSize == 0 {
		sectorSize = SectorSize
	}
	return &Memory{sectorSize: sectorSize, data: data}
}

// SectorSize satisfies Device.
func (m *Memory) SectorSize() uint64 { return m.sectorSize }

// ReadSector satisfies Device. An out-of-range sector number surfaces
// as errs.IoNotFound rather than a panic: a corrupt partition table or
// FAT chain reading past the end of the image is a recoverable mount
// failure, not a kernel invariant violation.
func (m *Memory) ReadSector(sector uint64, buf []byte) (int, error) {
	if len(buf) < int(m.sectorSize) {
		return 0, errs.NewIo(errs.IoInvalidInput, nil)
	}
	start := sector * m.sectorSize
	if start+m.sectorSize > uint64(len(m.data)) {
		return 0, errs.NewIo(errs.IoNotFound, nil)
	}
	n := copy(buf, m.data[start:start+m.sectorSize])
	return n, nil
}

// WriteSector satisfies WritableDevice.
func (m *Memory) WriteSector(sector uint64, buf []byte) (int, error) {
	if len(buf) < int(m.sectorSize) {
		return 0, errs.NewIo(errs.IoInvalidInput, nil)
	}
	start := sector * m.sectorSize
	if start+m.sectorSize > uint64(len(m.data)) {
		return 0, errs.NewIo(errs.IoNotFound, nil)
	}
	n := copy(m.data[start:start+m.sectorSize], buf[:m.sectorSize])
	return n, nil
}
