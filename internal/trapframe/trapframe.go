// Package trapframe defines the saved register context that crosses
// the EL0/EL1 boundary on every exception, syscall, and scheduler
// context switch.
package trapframe

import (
	"unsafe"

	"github.com/tinyrange/pikernel/internal/platform"
)

// Field order is fixed by spec.md 3 and 9 and must match the
// hand-written assembly save/restore stubs exactly:
// {TTBR1, TTBR0, ELR, SPSR, SP, TPIDR, q[32], x[31]}. Adding a field
// here is a contract change against that assembly, not a routine
// struct edit -- see the size assertion below.
type TrapFrame struct {
	TTBR1 uint64
	TTBR0 uint64
	ELR   uint64
	SPSR  uint64
	SP    uint64
	TPIDR uint64
	Q     [32][2]uint64 // 128-bit SIMD/FP registers, stored as two 64-bit halves.
	X     [31]uint64
}

// sizeofTrapFrame is the packed byte size the assembly stub expects:
// 6 uint64 header fields, 32 128-bit Q registers, 31 64-bit X
// registers.
const sizeofTrapFrame = 6*8 + 32*16 + 31*8

// Compile-time layout assertion: a TrapFrame must never silently grow
// or shrink relative to what the assembly stub expects. Either array
// bound underflows to an invalid (huge) length and fails to compile
// if the sizes ever diverge.
var _ [unsafe.Sizeof(TrapFrame{}) - sizeofTrapFrame]byte
var _ [sizeofTrapFrame - unsafe.Sizeof(TrapFrame{})]byte

// GPR index 30 is LR (the link register) in AArch64's calling
// convention.
const LRIndex = 30

// SPSR bit positions this package manipulates. Only the bits the
// kernel cares about are named; the rest of PSTATE passes through
// untouched.
const (
	spsrModeEL0t = 0b0000 // AArch64 EL0 using SP_EL0.
	spsrModeMask = 0b1111

	spsrIRQMask = 1 << 7 // I bit: IRQ masked when set.
	spsrFIQMask = 1 << 6 // F bit.
	spsrSErrMask = 1 << 8 // A bit.
	spsrDebugMask = 1 << 9 // D bit.
)

// SetUserEntry configures SPSR so that an eret into this frame lands
// in EL0 AArch64 with IRQs unmasked and F/A/D set, matching
// spec.md 4.5's Process::load.
func (tf *TrapFrame) SetUserEntry() {
	tf.SPSR &^= spsrModeMask
	tf.SPSR |= spsrModeEL0t
	tf.SPSR &^= spsrIRQMask // IRQs unmasked: I = 0.
	tf.SPSR |= spsrFIQMask | spsrSErrMask | spsrDebugMask
}

// TPIDRAsPid returns TPIDR reinterpreted as the owning process's id,
// per spec.md 3: "TPIDR is used as the process id."
func (tf *TrapFrame) TPIDRAsPid() uint64 { return tf.TPIDR }

// SetTPIDR stamps this frame with the process id the scheduler
// assigned it; context_save/context_restore preserve it across every
// switch, so it survives for the life of the process.
func (tf *TrapFrame) SetTPIDR(pid uint64) { tf.TPIDR = pid }

// Arg returns syscall argument register n (x0..x6), per the calling
// convention in spec.md 4.8.
func (tf *TrapFrame) Arg(n int) uint64 { return tf.X[n] }

// SetResult writes the primary and secondary syscall result registers
// (x0, x1).
func (tf *TrapFrame) SetResult(x0, x1 uint64) {
	tf.X[0] = x0
	tf.X[1] = x1
}

// SetStatus writes the syscall status register (x7).
func (tf *TrapFrame) SetStatus(status uint64) { tf.X[7] = status }

// SetEntryPoint configures ELR, SP, and the translation table base
// registers for a freshly loaded process.
func (tf *TrapFrame) SetEntryPoint(elr, sp platform.VirtualAddr, kernelTTBR0, userTTBR1 platform.PhysicalAddr) {
	tf.ELR = uint64(elr)
	tf.SP = uint64(sp)
	tf.TTBR0 = uint64(kernelTTBR0)
	tf.TTBR1 = uint64(userTTBR1)
}
