package fat32

import (
	"encoding/binary"

	"github.com/tinyrange/pikernel/internal/blockdev"
	"github.com/tinyrange/pikernel/internal/errs"
)

// biosParameterBlock is the subset of the FAT32 extended BIOS
// parameter block the mount path needs, decoded from the partition's
// boot sector.
type biosParameterBlock struct {
	bytesPerSector     uint16
	sectorsPerCluster  uint8
	numReservedSectors uint16
	numFATs            uint8
	sectorsPerFAT      uint32
	rootDirCluster     uint32
}

// readEBPB reads and validates the EBPB at the given absolute sector
// of dev, checking the same 0xAA55 boot-sector signature the MBR
// carries (spec.md 6).
func readEBPB(dev blockdev.Device, sector uint64) (biosParameterBlock, error) {
	buf := make([]byte, blockdev.SectorSize)
	if _, err := dev.ReadSector(sector, buf); err != nil {
		return biosParameterBlock{}, &errs.Fs{Kind: errs.FsMbrIo, Cause: err}
	}

	sig := binary.LittleEndian.Uint16(buf[510:512])
	if sig != 0xAA55 {
		return biosParameterBlock{}, &errs.Fs{Kind: errs.FsBadEbpb}
	}

	return biosParameterBlock{
		bytesPerSector:     binary.LittleEndian.Uint16(buf[11:13]),
		sectorsPerCluster:  buf[13],
		numReservedSectors: binary.LittleEndian.Uint16(buf[14:16]),
		numFATs:            buf[16],
		sectorsPerFAT:      binary.LittleEndian.Uint32(buf[36:40]),
		rootDirCluster:     binary.LittleEndian.Uint32(buf[44:48]),
	}, nil
}
