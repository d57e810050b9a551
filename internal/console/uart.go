// Package console implements the polled UART the kernel's early boot
// code, syscall write, and interactive shell all write through, in
// the register-level style of the teacher's
// internal/devices/serial.UART8250MMIO but simplified to the
// BCM2837 mini UART this board actually exposes: no baud-rate divisor
// games, just a transmit byte and a receive byte with ready flags.
package console

import (
	"bytes"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

// UART is the host-simulation backing for the mini UART. Every
// transmitted byte is mirrored into a vt.SafeEmulator so tests (and,
// eventually, a debug TUI) can assert on the rendered screen instead
// of re-parsing raw escape sequences, the same role vt.SafeEmulator
// plays in the teacher's internal/term.View.
type UART struct {
	mu     sync.Mutex
	screen *vt.SafeEmulator
	rx     chan byte
}

// New builds a UART backed by a cols x rows virtual screen.
func New(cols, rows int) *UART {
	return &UART{
		screen: vt.NewSafeEmulator(cols, rows),
		rx:     make(chan byte, 256),
	}
}

// crlf prefixes every '\n' in p with '\r'. The UART owns this
// translation so no console consumer ever has to pre-insert carriage
// returns before a line feed.
func crlf(p []byte) []byte {
	if !bytes.ContainsRune(p, '\n') {
		return p
	}
	return bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\r', '\n'})
}

// WriteByte transmits one byte, satisfying syscall.Console. A '\r' is
// written before any '\n'.
func (u *UART) WriteByte(b byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, err := u.screen.Write(crlf([]byte{b}))
	return err
}

// Write transmits a run of bytes, for the shell's multi-byte escape
// sequences and prompt strings, with the same '\r'-before-'\n'
// translation as WriteByte. The returned count is of bytes consumed
// from p, not bytes put on the wire.
func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, err := u.screen.Write(crlf(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadByte polls for one received byte. It never blocks: an empty RX
// FIFO reports ok=false, matching the real UART's LSR data-ready bit
// and the kernel's poll-driven shell loop (spec.md 6).
func (u *UART) ReadByte() (b byte, ok bool) {
	select {
	case b = <-u.rx:
		return b, true
	default:
		return 0, false
	}
}

// Feed enqueues a byte as if it had arrived over the wire. The real
// RX path is driven by the UART's receive interrupt; the host
// simulation and tests call this directly in place of a keyboard
// driver.
func (u *UART) Feed(b byte) {
	u.rx <- b
}

// Close releases the backing virtual screen.
func (u *UART) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.screen.Close()
}

// ClearLine returns the escape sequence that erases the current line
// and returns the cursor to its start, used by the shell before it
// reports an overlong input line.
func ClearLine() string {
	return ansi.EraseEntireLine + "\r"
}

// ClearScreen returns the escape sequence that erases the whole
// screen and homes the cursor, for the shell's clear command.
func ClearScreen() string {
	return ansi.EraseEntireScreen + ansi.CursorPosition(1, 1)
}

// Backspace returns the three-step sequence that erases the character
// immediately left of the cursor in place: move back, overwrite with
// a space, move back again.
func Backspace() string {
	return ansi.CursorBackward(1) + " " + ansi.CursorBackward(1)
}
