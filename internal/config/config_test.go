package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMemoryMap(t *testing.T) {
	b := Default()
	m, err := b.MemoryMap()
	if err != nil {
		t.Fatalf("MemoryMap: %v", err)
	}
	if m.Start != 0x100000 {
		t.Fatalf("start = %s, want 0x100000", m.Start)
	}
	if m.End <= m.Start {
		t.Fatal("expected a non-empty memory range")
	}
	if b.Timer.IntervalMicros == 0 {
		t.Fatal("expected a default timer interval")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
memory:
  start: "0x200000"
  end: "0x400000"
timer:
  intervalMicros: 5000
processImages:
  - /fib.bin
sdImage: disk.img
`
	path := filepath.Join(t.TempDir(), "boot.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, err := b.MemoryMap()
	if err != nil {
		t.Fatalf("MemoryMap: %v", err)
	}
	if m.Start != 0x200000 || m.End != 0x400000 {
		t.Fatalf("memory map = [%s, %s)", m.Start, m.End)
	}
	if b.Timer.IntervalMicros != 5000 {
		t.Fatalf("intervalMicros = %d, want 5000", b.Timer.IntervalMicros)
	}
	if len(b.ProcessImages) != 1 || b.ProcessImages[0] != "/fib.bin" {
		t.Fatalf("processImages = %v", b.ProcessImages)
	}
	if b.SDImage != "disk.img" {
		t.Fatalf("sdImage = %q", b.SDImage)
	}
}

func TestMemoryMapRejectsInvertedRange(t *testing.T) {
	b := Default()
	b.Memory.StartHex = "0x400000"
	b.Memory.EndHex = "0x200000"
	if _, err := b.MemoryMap(); err == nil {
		t.Fatal("expected an inverted memory range to be rejected")
	}
}
