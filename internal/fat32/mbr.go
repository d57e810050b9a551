// Package fat32 implements a read-only FAT32 filesystem over a
// blockdev.Device: MBR/EBPB parsing, FAT chain traversal, and
// directory-entry (8.3 + LFN) decoding, in the same field-at-a-time
// on-disk-struct style the original's lib/fat32 crate uses, adapted
// from packed Rust structs read via a raw pointer cast into Go structs
// decoded field-by-field out of a sector buffer.
package fat32

import (
	"encoding/binary"

	"github.com/tinyrange/pikernel/internal/blockdev"
	"github.com/tinyrange/pikernel/internal/errs"
)

// partitionEntry is one of the four 16-byte slots in the MBR's
// partition table.
type partitionEntry struct {
	bootIndicator  byte
	partitionType  byte
	relativeSector uint32
	totalSectors   uint32
}

// isFat reports whether this partition's type byte names a FAT32
// volume, per spec.md 6: type 0x0B or 0x0C.
func (p partitionEntry) isFat() bool {
	return p.partitionType == 0x0B || p.partitionType == 0x0C
}

func parsePartitionEntry(b []byte) partitionEntry {
	return partitionEntry{
		bootIndicator:  b[0],
		partitionType:  b[4],
		relativeSector: binary.LittleEndian.Uint32(b[8:12]),
		totalSectors:   binary.LittleEndian.Uint32(b[12:16]),
	}
}

// masterBootRecord is the decoded sector-0 partition table.
type masterBootRecord struct {
	partitions [4]partitionEntry
}

// readMBR reads and validates sector 0 of dev: the 0xAA55 signature
// and every partition's boot indicator (0x00 or 0x80 only), matching
// spec.md 6 and the original's MasterBootRecord::from.
func readMBR(dev blockdev.Device) (masterBootRecord, error) {
	buf := make([]byte, blockdev.SectorSize)
	if _, err := dev.ReadSector(0, buf); err != nil {
		return masterBootRecord{}, &errs.Fs{Kind: errs.FsMbrIo, Cause: err}
	}

	sig := binary.LittleEndian.Uint16(buf[510:512])
	if sig != 0xAA55 {
		return masterBootRecord{}, &errs.Fs{Kind: errs.FsBadSignature}
	}

	var mbr masterBootRecord
	for i := 0; i < 4; i++ {
		off := 446 + i*16
		entry := parsePartitionEntry(buf[off : off+16])
		if entry.bootIndicator != 0x00 && entry.bootIndicator != 0x80 {
			return masterBootRecord{}, &errs.Fs{Kind: errs.FsUnknownBootIndicator, BootIndicator: entry.bootIndicator}
		}
		mbr.partitions[i] = entry
	}
	return mbr, nil
}

// firstFatPartition scans the four partition-table slots in order and
// returns the first whose type byte marks it FAT32 (spec.md 6: "the
// first MBR partition whose type byte is 0x0B or 0x0C").
func (m masterBootRecord) firstFatPartition() (partitionEntry, bool) {
	for _, p := range m.partitions {
		if p.isFat() {
			return p, true
		}
	}
	return partitionEntry{}, false
}
