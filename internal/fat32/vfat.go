package fat32

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/pikernel/internal/blockdev"
	"github.com/tinyrange/pikernel/internal/errs"
	"github.com/tinyrange/pikernel/internal/process"
)

// vfat holds everything needed to walk the mounted volume: the
// sector cache, the on-disk geometry, and the root directory's first
// cluster. All logical sector numbers below this line are relative to
// the partition (i.e. already translated by cachedPartition).
type vfat struct {
	device            *cachedPartition
	sectorsPerCluster uint64
	fatStartSector    uint64
	dataStartSector   uint64
	rootDirCluster    cluster
}

// handle is the "generic filesystem handle" capability object design
// note 9 calls for: every operation against the mounted volume takes
// this lock for the duration of one call and never leaks the guard
// across an API boundary, mirroring the original's
// VFatHandle::lock(|&mut VFat| -> R) -> R contract.
type handle struct {
	mu   sync.Mutex
	vfat *vfat
}

func withLock[R any](h *handle, f func(*vfat) (R, error)) (R, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return f(h.vfat)
}

// FS is the mounted, read-only FAT32 filesystem: the capability handed
// to process.Load (as a process.FileOpener) and to the shell's
// ls/cat/cd commands.
type FS struct {
	h *handle
}

// Mount reads the MBR and EBPB from dev, locates the first FAT32
// partition, and constructs an FS ready for Open/ReadDir calls, per
// spec.md 6: "Read-only FAT32 on the first MBR partition whose type
// byte is 0x0B or 0x0C and whose EBPB signature is 0xAA55." It runs
// silently; use MountWithProgress to drive a progress bar off the
// same root-directory validation scan.
func Mount(dev blockdev.Device) (*FS, error) {
	return MountWithProgress(dev, nil)
}

// MountWithProgress is Mount, additionally ticking bar once per
// cluster while it eagerly walks the root directory's cluster chain
// to validate it before returning -- catching a corrupt FAT at mount
// time rather than on the first ls, and giving boot-time feedback for
// a large root directory the same way internal/bootloader's receive
// loop does for a long transfer. Pass a nil bar to mount silently
// (the common case in tests).
func MountWithProgress(dev blockdev.Device, bar *progressbar.ProgressBar) (*FS, error) {
	mbr, err := readMBR(dev)
	if err != nil {
		return nil, err
	}

	part, ok := mbr.firstFatPartition()
	if !ok {
		return nil, &errs.Fs{Kind: errs.FsBadSignature, Cause: fmt.Errorf("no FAT32 partition in MBR")}
	}

	ebpb, err := readEBPB(dev, uint64(part.relativeSector))
	if err != nil {
		return nil, err
	}

	fatStart := uint64(ebpb.numReservedSectors)
	dataStart := fatStart + uint64(ebpb.numFATs)*uint64(ebpb.sectorsPerFAT)

	cp := newCachedPartition(dev, partition{
		start:      uint64(part.relativeSector),
		numSectors: uint64(part.totalSectors),
		sectorSize: uint64(ebpb.bytesPerSector),
	})

	v := &vfat{
		device:            cp,
		sectorsPerCluster: uint64(ebpb.sectorsPerCluster),
		fatStartSector:    fatStart,
		dataStartSector:   dataStart,
		rootDirCluster:    clusterFromRaw(ebpb.rootDirCluster),
	}

	if err := v.validateChain(v.rootDirCluster, bar); err != nil {
		return nil, err
	}

	return &FS{h: &handle{vfat: v}}, nil
}

// validateChain walks a cluster chain without retaining its data,
// confirming every FAT entry it follows decodes to either the next
// cluster or the end-of-chain marker, ticking bar once per cluster
// visited.
func (v *vfat) validateChain(start cluster, bar *progressbar.ProgressBar) error {
	curr := start
	for {
		if _, err := v.readCluster(curr); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		status, err := v.fatEntry(curr)
		if err != nil {
			return err
		}
		switch status.Kind {
		case statusEoc:
			return nil
		case statusData:
			curr = status.Next
		default:
			return errs.NewIo(errs.IoInvalidData, fmt.Errorf("root directory: unexpected FAT status for cluster %d", curr))
		}
	}
}

// fatEntry reads the single FAT entry for c without pulling the whole
// FAT into memory: it maps c to the exact sector and byte offset the
// entry lives at within that sector, one cachedPartition.get call per
// lookup (cached thereafter the same as any other sector).
func (v *vfat) fatEntry(c cluster) (fatStatus, error) {
	const entrySize = 4
	entriesPerSector := v.device.partition.sectorSize / entrySize
	sector := v.fatStartSector + uint64(c)/entriesPerSector
	sectorData, err := v.device.get(sector)
	if err != nil {
		return fatStatus{}, err
	}
	off := (uint64(c) % entriesPerSector) * entrySize
	raw := uint32(sectorData[off]) | uint32(sectorData[off+1])<<8 | uint32(sectorData[off+2])<<16 | uint32(sectorData[off+3])<<24
	return decodeFatEntry(raw), nil
}

// readCluster reads every sector backing c into one contiguous slice.
func (v *vfat) readCluster(c cluster) ([]byte, error) {
	start := c.startSector(v.sectorsPerCluster, v.dataStartSector)
	out := make([]byte, 0, v.sectorsPerCluster*v.device.partition.sectorSize)
	for s := start; s < start+v.sectorsPerCluster; s++ {
		sector, err := v.device.get(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sector...)
	}
	return out, nil
}

// readChain follows the FAT chain starting at start, returning the
// concatenated bytes of every cluster in the chain including the one
// whose entry is the end-of-chain marker -- SPEC_FULL.md 4's resolved
// Open Question: "EOC's cluster contributes its bytes exactly once."
func (v *vfat) readChain(start cluster) ([]byte, error) {
	var out []byte
	curr := start
	for {
		data, err := v.readCluster(curr)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)

		status, err := v.fatEntry(curr)
		if err != nil {
			return nil, err
		}
		switch status.Kind {
		case statusEoc:
			return out, nil
		case statusData:
			curr = status.Next
		case statusFree:
			return nil, errs.NewIo(errs.IoNotFound, fmt.Errorf("free cluster encountered mid-chain"))
		case statusBad:
			return nil, errs.NewIo(errs.IoInvalidData, fmt.Errorf("bad cluster encountered mid-chain"))
		case statusReserved:
			return nil, errs.NewIo(errs.IoInvalidData, fmt.Errorf("reserved cluster encountered mid-chain"))
		}
	}
}

// DirEntry is one named entry returned by ReadDir: enough for the
// shell's ls to print a name and mark directories.
type DirEntry struct {
	Name string
	Size uint64
	Meta Metadata
}

func (d DirEntry) IsDir() bool { return d.Meta.IsDir() }

// ReadDir lists the entries of the directory at path ("/" for root),
// skipping the synthetic "." and ".." slots real FAT32 directories
// carry (this read-only kernel has no use for them: cd resolves paths
// from the root every time rather than walking parent links).
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	return withLock(fs.h, func(v *vfat) ([]DirEntry, error) {
		entry, isRoot, err := v.resolve(path)
		if err != nil {
			return nil, err
		}
		dirCluster := v.rootDirCluster
		if !isRoot {
			if !entry.meta.IsDir() {
				return nil, errs.NewIo(errs.IoInvalidInput, fmt.Errorf("%s is not a directory", path))
			}
			dirCluster = entry.firstCluster
		}
		return v.listDir(dirCluster)
	})
}

func (v *vfat) listDir(c cluster) ([]DirEntry, error) {
	data, err := v.readChain(c)
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	for _, e := range parseDirEntries(data) {
		if e.name == "." || e.name == ".." {
			continue
		}
		out = append(out, DirEntry{Name: e.name, Size: uint64(e.size), Meta: e.meta})
	}
	return out, nil
}

// resolve walks path component by component from the root directory,
// matching names case-insensitively (spec.md 6), and returns the
// final component's own directory entry (cluster, size, metadata). A
// path that names the root directory itself has no such entry, so
// isRoot reports that case instead.
func (v *vfat) resolve(path string) (entry dirEntry, isRoot bool, err error) {
	parts := splitPath(path)
	curr := v.rootDirCluster
	if len(parts) == 0 {
		return dirEntry{}, true, nil
	}
	for i, part := range parts {
		data, rerr := v.readChain(curr)
		if rerr != nil {
			return dirEntry{}, false, rerr
		}
		var found *dirEntry
		for _, e := range parseDirEntries(data) {
			if strings.EqualFold(e.name, part) {
				found = &e
				break
			}
		}
		if found == nil {
			return dirEntry{}, false, errs.NewIo(errs.IoNotFound, fmt.Errorf("%s: no such file or directory", path))
		}
		isLast := i == len(parts)-1
		if !isLast && !found.meta.IsDir() {
			return dirEntry{}, false, errs.NewIo(errs.IoInvalidInput, fmt.Errorf("%s: not a directory", part))
		}
		curr = found.firstCluster
		if isLast {
			return *found, false, nil
		}
	}
	return dirEntry{}, true, nil
}

func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// File is an open, read-only handle on one regular file's contents.
// Open reads the whole cluster chain up front (its consumers,
// process.Load and the shell's cat, both read the whole file
// regardless), so Read here only ever slices an in-memory buffer.
type File struct {
	name   string
	size   uint64
	data   []byte
	cursor int
}

// Name returns the file's resolved name (short or assembled LFN).
func (f *File) Name() string { return f.name }

// Size satisfies process.FileEntry.
func (f *File) Size() uint64 { return f.size }

// Read satisfies io.Reader (and so process.FileEntry).
func (f *File) Read(buf []byte) (int, error) {
	if f.cursor >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(buf, f.data[f.cursor:])
	f.cursor += n
	return n, nil
}

// Open resolves path to a regular file and returns a process.FileEntry
// reading its contents, satisfying process.FileOpener directly so an
// *FS can be handed straight to process.Load.
func (fs *FS) Open(path string) (process.FileEntry, error) {
	return withLock(fs.h, func(v *vfat) (process.FileEntry, error) {
		entry, isRoot, err := v.resolve(path)
		if err != nil {
			return nil, err
		}
		if isRoot || entry.meta.IsDir() {
			return nil, errs.NewIo(errs.IoInvalidInput, fmt.Errorf("%s is a directory", path))
		}
		data, err := v.readChain(entry.firstCluster)
		if err != nil {
			return nil, err
		}
		if uint64(len(data)) > uint64(entry.size) {
			data = data[:entry.size]
		}
		return &File{name: entry.name, size: uint64(entry.size), data: data}, nil
	})
}
