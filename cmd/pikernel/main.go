// Command pikernel is the host-simulation boot harness: it wires every
// kernel subsystem together over an mmap'd region standing in for
// physical RAM, mounts a FAT32 disk image as the boot filesystem,
// loads the configured process images, and drops into the interactive
// shell spec.md 4.7 has the kernel present on a debug breakpoint — the
// same role the teacher's cmd/cc plays for a real hypervisor, minus an
// actual AArch64 instruction interpreter, which is out of this
// program's scope (spec.md 1 treats the board's boot assembly and
// exception-vector stubs as external collaborators, not something
// this Go module executes).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/tinyrange/pikernel/internal/allocator"
	"github.com/tinyrange/pikernel/internal/blockdev"
	"github.com/tinyrange/pikernel/internal/config"
	"github.com/tinyrange/pikernel/internal/console"
	"github.com/tinyrange/pikernel/internal/debug"
	"github.com/tinyrange/pikernel/internal/exception"
	"github.com/tinyrange/pikernel/internal/fat32"
	"github.com/tinyrange/pikernel/internal/irq"
	"github.com/tinyrange/pikernel/internal/platform/hostsim"
	"github.com/tinyrange/pikernel/internal/process"
	"github.com/tinyrange/pikernel/internal/scheduler"
	"github.com/tinyrange/pikernel/internal/shell"
	"github.com/tinyrange/pikernel/internal/syscall"
	"github.com/tinyrange/pikernel/internal/trapframe"
	"github.com/tinyrange/pikernel/internal/vm"
)

// fixCrlf keeps log output readable while stdin is in raw terminal
// mode, where a bare '\n' no longer implies a carriage return.
type fixCrlf struct {
	w io.Writer
}

func (f *fixCrlf) Write(p []byte) (n int, err error) {
	return f.w.Write(bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\r', '\n'}))
}

func main() {
	defer dumpTraceOnPanic()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pikernel: %v\n", err)
		os.Exit(1)
	}
}

// dumpTraceOnPanic prints the kernel trace ring under the panic
// banner, so a kernel-invariant violation surfaces the exception/IRQ/
// syscall history that led up to it, then re-panics so the runtime
// still prints the stack.
func dumpTraceOnPanic() {
	r := recover()
	if r == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\r\npikernel panic: %v\r\nkernel trace:\r\n", r)
	for _, line := range debug.Dump(debug.Default) {
		fmt.Fprintf(os.Stderr, "  %s\r\n", line)
	}
	panic(r)
}

func run() error {
	configPath := flag.String("config", "", "boot configuration document (default: built-in hardware defaults)")
	sdImage := flag.String("sdimage", "", "path to the FAT32 disk image (overrides the config document's sdImage)")
	cols := flag.Int("cols", 80, "console screen width")
	rows := flag.Int("rows", 24, "console screen height")
	dbg := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *dbg {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(
		&fixCrlf{w: os.Stderr},
		&slog.HandlerOptions{Level: level},
	)))
	bootLog := slog.With("component", "boot")

	boot, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *sdImage != "" {
		boot.SDImage = *sdImage
	}
	if boot.SDImage == "" {
		return fmt.Errorf("no sdImage configured: pass -sdimage or set sdImage in the config document")
	}

	memMap, err := boot.MemoryMap()
	if err != nil {
		return err
	}

	// The region spans [0, memMap.End) so that the physical addresses
	// the allocator hands out index it directly; the pages below
	// memMap.Start stay untouched, like the kernel image and boot
	// stack they stand in for.
	mem, err := hostsim.New(uint64(memMap.End))
	if err != nil {
		return fmt.Errorf("allocating simulated RAM: %w", err)
	}
	defer mem.Close()

	heap := allocator.New(uint64(memMap.Start), uint64(memMap.End))
	kernelPT := vm.NewKernelPT(memMap)

	diskData, err := os.ReadFile(boot.SDImage)
	if err != nil {
		return fmt.Errorf("reading sd image: %w", err)
	}
	dev := blockdev.NewMemory(diskData, blockdev.SectorSize)
	fs, err := fat32.Mount(dev)
	if err != nil {
		return fmt.Errorf("mounting filesystem: %w", err)
	}
	bootLog.Debug("filesystem mounted", "image", boot.SDImage)

	global := scheduler.NewGlobal()
	global.Initialize()

	for _, path := range boot.ProcessImages {
		p, err := process.Load(path, fs, mem, kernelPT.GetBaddr(), heap)
		if err != nil {
			return fmt.Errorf("loading process image %s: %w", path, err)
		}
		id, ok := global.Add(p)
		if !ok {
			return fmt.Errorf("scheduler process table exhausted loading %s", path)
		}
		bootLog.Debug("process image loaded", "path", path, "pid", id)
	}

	uart := console.New(*cols, *rows)
	defer uart.Close()
	termConsole := &hostConsole{uart: uart, out: os.Stdout}

	clock := &realClock{start: time.Now()}
	abi := &syscall.ABI{Clock: clock, Scheduler: global, Console: termConsole}

	table := irq.NewTable()
	controller := irq.NewController()
	sh := shell.New(termConsole, fsAdapter{fs}, "pikernel> ")
	dispatcher := &exception.Dispatcher{
		IRQTable:   table,
		Controller: controller,
		Syscalls:   abi.Dispatch,
		OnBreakpoint: func(tf *trapframe.TrapFrame) {
			sh.Run()
		},
		Trace: debug.WithSource("pikernel"),
	}

	tick := time.Duration(boot.Timer.IntervalMicros) * time.Microsecond
	ticker := &realTicker{controller: controller}
	if len(boot.ProcessImages) > 0 {
		// Start busy-waits for a ready process, so only call it once
		// there is one; a processless boot still gets the shell.
		firstID, runningTF := global.Start(table, controller, ticker, tick)
		bootLog.Info("boot complete", "processes", len(boot.ProcessImages), "first_pid", firstID)
		debug.Writef("pikernel", "boot complete: %d process(es) loaded, first process id=%d", len(boot.ProcessImages), firstID)
		go pumpIRQs(dispatcher, controller, runningTF)
	} else {
		bootLog.Info("boot complete", "processes", 0)
		debug.Writef("pikernel", "boot complete: no process images configured")
	}

	restoreStdin, err := maybeRawMode()
	if err != nil {
		return err
	}
	defer restoreStdin()

	go feedStdin(uart)

	sh.Run()
	return nil
}

// pumpIRQs stands in for the real exception vector's IRQ entry path:
// it notices whenever realTicker has marked an interrupt pending and
// routes it through dispatcher exactly as the assembly stub would,
// driving the scheduler's round-robin bookkeeping forward even though
// this host simulation has no AArch64 instructions to actually
// interrupt (spec.md 1).
func pumpIRQs(dispatcher *exception.Dispatcher, controller *irq.Controller, tf *trapframe.TrapFrame) {
	for {
		time.Sleep(time.Millisecond)
		if len(controller.Pending()) == 0 {
			continue
		}
		dispatcher.HandleException(exception.Info{Kind: exception.KindIrq}, 0, tf)
	}
}

func loadConfig(path string) (config.Boot, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// realClock reports elapsed time since boot, satisfying syscall.Clock
// without any real hardware free-running counter to read.
type realClock struct{ start time.Time }

func (c *realClock) Now() time.Duration { return time.Since(c.start) }

// realTicker arms a one-shot host timer that marks Timer1 pending when
// it fires, satisfying scheduler.Ticker. The real driver programs the
// BCM2837 system timer's compare register instead (spec.md 1, out of
// scope).
type realTicker struct {
	controller *irq.Controller
}

func (t *realTicker) TickIn(d time.Duration) {
	time.AfterFunc(d, func() {
		t.controller.Assert(irq.Timer1)
	})
}

// hostConsole fans every byte out to both the simulated UART (so its
// vt screen stays a faithful record of everything the kernel printed,
// for tests and a future debug TUI) and the real host terminal, and
// pulls input bytes the stdin reader goroutine fed into the UART.
type hostConsole struct {
	uart *console.UART
	out  io.Writer
}

func (h *hostConsole) WriteByte(b byte) error {
	_ = h.uart.WriteByte(b)
	_, err := h.out.Write([]byte{b})
	return err
}

func (h *hostConsole) Write(p []byte) (int, error) {
	_, _ = h.uart.Write(p)
	return h.out.Write(p)
}

func (h *hostConsole) ReadByte() (byte, bool) { return h.uart.ReadByte() }

// feedStdin copies raw bytes from the host terminal into uart's RX
// FIFO, standing in for the real UART receive interrupt.
func feedStdin(uart *console.UART) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			uart.Feed(buf[0])
		}
		if err != nil {
			return
		}
	}
}

// maybeRawMode puts stdin into raw mode when it is an interactive
// terminal, so the shell sees every keystroke (including backspace
// and control characters) instead of a line-buffered stream, matching
// the teacher's cmd/cc terminal setup. It is a no-op, returning a
// no-op restore function, when stdin is not a terminal (e.g. under a
// test harness or when piped).
func maybeRawMode() (restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("entering raw terminal mode: %w", err)
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

// fsAdapter narrows *fat32.FS to shell.FS, translating fat32.DirEntry
// into shell's own DirEntry shape so the shell package need not import
// fat32's internal Metadata type.
type fsAdapter struct{ fs *fat32.FS }

func (a fsAdapter) ReadDir(path string) ([]shell.DirEntry, error) {
	entries, err := a.fs.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]shell.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = shell.DirEntry{Name: e.Name, Size: e.Size, Dir: e.IsDir()}
	}
	return out, nil
}

func (a fsAdapter) Open(path string) (process.FileEntry, error) { return a.fs.Open(path) }
