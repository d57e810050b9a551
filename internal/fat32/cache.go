package fat32

import (
	"github.com/tinyrange/pikernel/internal/blockdev"
	"github.com/tinyrange/pikernel/internal/errs"
)

// partition describes one logical volume's placement on a physical
// block device: where it starts, how many logical sectors it spans,
// and the logical sector size, per spec.md 6.
type partition struct {
	start      uint64
	numSectors uint64
	sectorSize uint64
}

// cachedPartition maps "virtual sector v" to "physical sector
// partition.start + v*factor" and caches every sector it has read, the
// way the original's CachedPartition wraps a raw BlockDevice. Writes
// are unsupported (spec.md 1 Non-goals: no write support on the
// filesystem); cachedPartition only ever reads through to dev.
type cachedPartition struct {
	dev       blockdev.Device
	partition partition
	cache     map[uint64][]byte
}

func newCachedPartition(dev blockdev.Device, p partition) *cachedPartition {
	if p.sectorSize < dev.SectorSize() {
		panic("fat32: partition sector size smaller than device sector size")
	}
	return &cachedPartition{dev: dev, partition: p, cache: make(map[uint64][]byte)}
}

// factor is the number of physical sectors spanned by one logical
// sector.
func (c *cachedPartition) factor() uint64 {
	return c.partition.sectorSize / c.dev.SectorSize()
}

func (c *cachedPartition) virtualToPhysical(virt uint64) (uint64, bool) {
	if virt >= c.partition.numSectors {
		return 0, false
	}
	return c.partition.start + virt*c.factor(), true
}

// get returns the contents of logical sector sector, reading it from
// the underlying device (across factor() physical sectors) the first
// time it is requested.
func (c *cachedPartition) get(sector uint64) ([]byte, error) {
	if cached, ok := c.cache[sector]; ok {
		return cached, nil
	}
	phys, ok := c.virtualToPhysical(sector)
	if !ok {
		return nil, errs.NewIo(errs.IoNotFound, nil)
	}
	buf := make([]byte, c.partition.sectorSize)
	physSectorSize := c.dev.SectorSize()
	for i := uint64(0); i < c.factor(); i++ {
		chunk := buf[i*physSectorSize : (i+1)*physSectorSize]
		if _, err := c.dev.ReadSector(phys+i, chunk); err != nil {
			return nil, errs.NewIo(errs.IoOther, err)
		}
	}
	c.cache[sector] = buf
	return buf, nil
}
