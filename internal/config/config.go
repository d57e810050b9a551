// Package config decodes the kernel's boot-time configuration document,
// in the shape of the teacher's internal/bundle.Metadata: a small YAML
// struct with a normalize step that fills in hardware defaults so the
// document on disk only needs to override what differs from a real
// Raspberry Pi 3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/pikernel/internal/platform"
)

// DefaultConfigFilename is the conventional name for a boot
// configuration document. Nothing loads it implicitly: with no
// -config flag, cmd/pikernel boots from Default().
const DefaultConfigFilename = "pikernel.yaml"

// Boot describes the physical memory map, timer tick, process images,
// and SD image the kernel boots with. On real hardware these are baked
// in from the atags the bootloader hands off; under the host
// simulation they are read from this document so tests can vary them.
type Boot struct {
	Version int `yaml:"version"`

	Memory MemoryConfig `yaml:"memory"`
	Timer  TimerConfig  `yaml:"timer"`

	// ProcessImages lists the flat binary images loaded as user
	// processes at boot, in FAT32 path form (e.g. "/init.bin").
	ProcessImages []string `yaml:"processImages"`

	// SDImage is the path to the disk image backing the simulated SD
	// card when running under the host simulation.
	SDImage string `yaml:"sdImage,omitempty"`
}

// MemoryConfig describes the contiguous physical RAM range handed to
// the allocator.
type MemoryConfig struct {
	StartHex string `yaml:"start"`
	EndHex   string `yaml:"end"`
}

// TimerConfig configures the periodic preemption tick.
type TimerConfig struct {
	// IntervalMicros is the number of microseconds between timer IRQs.
	IntervalMicros uint32 `yaml:"intervalMicros,omitempty"`
}

func (b *Boot) normalize() {
	if b.Version == 0 {
		b.Version = 1
	}
	if b.Memory.StartHex == "" {
		b.Memory.StartHex = "0x100000"
	}
	if b.Memory.EndHex == "" {
		b.Memory.EndHex = "0x3B000000" // leaves the 0x3F00_0000 MMIO window untouched.
	}
	if b.Timer.IntervalMicros == 0 {
		b.Timer.IntervalMicros = 10_000 // 10ms round-robin quantum.
	}
}

// MemoryMap parses MemoryConfig's hex strings into a platform.MemoryMap.
func (b Boot) MemoryMap() (platform.MemoryMap, error) {
	start, err := parseHex(b.Memory.StartHex)
	if err != nil {
		return platform.MemoryMap{}, fmt.Errorf("config: memory.start: %w", err)
	}
	end, err := parseHex(b.Memory.EndHex)
	if err != nil {
		return platform.MemoryMap{}, fmt.Errorf("config: memory.end: %w", err)
	}
	if end <= start {
		return platform.MemoryMap{}, fmt.Errorf("config: memory.end (0x%x) must be greater than memory.start (0x%x)", end, start)
	}
	return platform.MemoryMap{Start: platform.PhysicalAddr(start), End: platform.PhysicalAddr(end)}, nil
}

func parseHex(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "0x%x", &v)
	if err != nil {
		return 0, fmt.Errorf("invalid hex literal %q: %w", s, err)
	}
	return v, nil
}

// Default returns the normalized, hardware-default boot configuration
// used when no document is supplied.
func Default() Boot {
	var b Boot
	b.normalize()
	return b
}

// Load reads and decodes a boot configuration document from path,
// filling in defaults for anything left unset.
func Load(path string) (Boot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Boot{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var b Boot
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Boot{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	b.normalize()
	return b, nil
}
