package fat32

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/tinyrange/pikernel/internal/blockdev"
)

// buildTestImage constructs the smallest possible disk image
// satisfying spec.md 8 scenario 5: a single FAT32 partition whose
// root directory contains one file, FIB.BIN, 192 bytes long, stored
// in a single cluster starting at cluster 3.
func buildTestImage(t *testing.T, fileContents []byte) []byte {
	t.Helper()
	const numSectors = 8
	img := make([]byte, numSectors*blockdev.SectorSize)

	// Sector 0: MBR with one FAT32 partition (type 0x0C) starting at
	// relative sector 1.
	mbr := img[0:512]
	partOff := 446
	mbr[partOff+0] = 0x00 // boot indicator
	mbr[partOff+4] = 0x0C // partition type: FAT32 LBA
	binary.LittleEndian.PutUint32(mbr[partOff+8:], 1)         // relative sector
	binary.LittleEndian.PutUint32(mbr[partOff+12:], numSectors-1) // total sectors
	binary.LittleEndian.PutUint16(mbr[510:512], 0xAA55)

	// Sector 1 (partition's logical sector 0): EBPB.
	ebpb := img[512:1024]
	binary.LittleEndian.PutUint16(ebpb[11:13], 512) // bytes per sector
	ebpb[13] = 1                                    // sectors per cluster
	binary.LittleEndian.PutUint16(ebpb[14:16], 1)   // reserved sectors
	ebpb[16] = 1                                    // num FATs
	binary.LittleEndian.PutUint32(ebpb[36:40], 1)   // sectors per FAT
	binary.LittleEndian.PutUint32(ebpb[44:48], 2)   // root dir cluster
	binary.LittleEndian.PutUint16(ebpb[510:512], 0xAA55)

	// Logical sector 1 (absolute sector 2): the one-sector FAT.
	fat := img[1024:1536]
	binary.LittleEndian.PutUint32(fat[2*4:], 0x0FFFFFFF) // cluster 2 (root dir): EOC
	binary.LittleEndian.PutUint32(fat[3*4:], 0x0FFFFFFF) // cluster 3 (FIB.BIN): EOC

	// Logical sector 2 (absolute sector 3): root directory, cluster 2.
	root := img[1536:2048]
	copy(root[0:8], "FIB     ")
	copy(root[8:11], "BIN")
	root[11] = 0x20 // archive attribute
	binary.LittleEndian.PutUint16(root[20:22], 0)           // cluster high
	binary.LittleEndian.PutUint16(root[26:28], 3)           // cluster low
	binary.LittleEndian.PutUint32(root[28:32], uint32(len(fileContents)))

	// Logical sector 3 (absolute sector 4): FIB.BIN's data, cluster 3.
	copy(img[2048:2048+len(fileContents)], fileContents)

	return img
}

func TestMountAndOpen(t *testing.T) {
	contents := make([]byte, 192)
	for i := range contents {
		contents[i] = byte(i)
	}
	img := buildTestImage(t, contents)
	dev := blockdev.NewMemory(img, blockdev.SectorSize)

	fs, err := Mount(dev)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	entries, err := fs.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "FIB.BIN" {
		t.Fatalf("ReadDir = %+v, want [FIB.BIN]", entries)
	}
	if entries[0].Size != 192 {
		t.Fatalf("size = %d, want 192", entries[0].Size)
	}

	f, err := fs.Open("/fib.bin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.Size() != 192 {
		t.Fatalf("Size() = %d, want 192", f.Size())
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(data) != 192 {
		t.Fatalf("read %d bytes, want 192", len(data))
	}
	for i := range data {
		if data[i] != contents[i] {
			t.Fatalf("byte %d = %d, want %d", i, data[i], contents[i])
		}
	}
}

func TestOpenMissingFile(t *testing.T) {
	img := buildTestImage(t, make([]byte, 192))
	fs, err := Mount(blockdev.NewMemory(img, blockdev.SectorSize))
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := fs.Open("/nope.bin"); err == nil {
		t.Fatal("expected error opening missing file")
	}
}

func TestBadSignatureRejected(t *testing.T) {
	img := make([]byte, blockdev.SectorSize)
	dev := blockdev.NewMemory(img, blockdev.SectorSize)
	if _, err := Mount(dev); err == nil {
		t.Fatal("expected bad-signature mount to fail")
	}
}
