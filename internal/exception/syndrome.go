// Package exception decodes and dispatches the four AArch64 exception
// classes (synchronous, IRQ, FIQ, SError) a trap lands in, and
// classifies synchronous exceptions by their ESR_EL1 syndrome per
// ARMv8-A D1.10.4.
package exception

import "github.com/tinyrange/pikernel/internal/errs"

// Kind is which of the four exception vectors fired.
type Kind uint8

const (
	KindSynchronous Kind = iota
	KindIrq
	KindFiq
	KindSError
)

// Source is which stack/exception level the trap was taken from.
type Source uint8

const (
	SourceCurrentSpEl0 Source = iota
	SourceCurrentSpElx
	SourceLowerAArch64
	SourceLowerAArch32
)

// Info identifies which vector entry ran, decoded from the vector
// offset the exception stub branched from.
type Info struct {
	Source Source
	Kind   Kind
}

// SyndromeKind enumerates the ESR_EL1.EC classes this kernel
// distinguishes. Classes it never acts on besides logging still get a
// name, so Dispatcher's trace output is readable.
type SyndromeKind uint8

const (
	SyndromeUnknown SyndromeKind = iota
	SyndromeWfiWfe
	SyndromeSimdFp
	SyndromeIllegalExecutionState
	SyndromeSvc
	SyndromeHvc
	SyndromeSmc
	SyndromeMsrMrsSystem
	SyndromeInstructionAbort
	SyndromePCAlignmentFault
	SyndromeDataAbort
	SyndromeSpAlignmentFault
	SyndromeTrappedFpu
	SyndromeSError
	SyndromeBreakpoint
	SyndromeStep
	SyndromeWatchpoint
	SyndromeBrk
	SyndromeOther
)

// Syndrome is the decoded form of ESR_EL1 for a synchronous exception.
// Only the fields relevant to Kind are populated: Imm for Svc/Hvc/Smc/
// Brk, Fault/Level for the two abort kinds, EC for Other.
type Syndrome struct {
	Kind  SyndromeKind
	Imm   uint16
	Fault errs.FaultKind
	Level uint8
	EC    uint8
}

// ESR_EL1 field layout: EC occupies bits [31:26], ISS occupies the low
// 25 bits. The abort ISS's low 6 bits are IFSC/DFSC; the SVC/HVC/SMC
// ISS's low 16 bits are the immediate; BRK's low 16 bits are the
// comment field.
func ecField(esr uint32) uint8 { return uint8((esr >> 26) & 0x3f) }
func issField(esr uint32) uint32 { return esr & 0x01ffffff }

// DecodeSyndrome classifies a raw ESR_EL1 value per the EC table in
// ARMv8-A D1.10.4.
func DecodeSyndrome(esr uint32) Syndrome {
	ec := ecField(esr)
	iss := issField(esr)

	switch ec {
	case 0x00:
		return Syndrome{Kind: SyndromeUnknown}
	case 0x01:
		return Syndrome{Kind: SyndromeWfiWfe}
	case 0x07:
		return Syndrome{Kind: SyndromeSimdFp}
	case 0x0E:
		return Syndrome{Kind: SyndromeIllegalExecutionState}
	case 0x11, 0x15:
		return Syndrome{Kind: SyndromeSvc, Imm: uint16(iss & 0xffff)}
	case 0x12, 0x16:
		return Syndrome{Kind: SyndromeHvc, Imm: uint16(iss & 0xffff)}
	case 0x13, 0x17:
		return Syndrome{Kind: SyndromeSmc, Imm: uint16(iss & 0xffff)}
	case 0x18:
		return Syndrome{Kind: SyndromeMsrMrsSystem}
	case 0x20, 0x21:
		fault, level := decodeAbort(iss)
		return Syndrome{Kind: SyndromeInstructionAbort, Fault: fault, Level: level}
	case 0x22:
		return Syndrome{Kind: SyndromePCAlignmentFault}
	case 0x24, 0x25:
		fault, level := decodeAbort(iss)
		return Syndrome{Kind: SyndromeDataAbort, Fault: fault, Level: level}
	case 0x26:
		return Syndrome{Kind: SyndromeSpAlignmentFault}
	case 0x28, 0x2C:
		return Syndrome{Kind: SyndromeTrappedFpu}
	case 0x2F:
		return Syndrome{Kind: SyndromeSError}
	case 0x30, 0x31:
		return Syndrome{Kind: SyndromeBreakpoint}
	case 0x32, 0x33:
		return Syndrome{Kind: SyndromeStep}
	case 0x34, 0x35:
		return Syndrome{Kind: SyndromeWatchpoint}
	case 0x38, 0x3C:
		return Syndrome{Kind: SyndromeBrk, Imm: uint16(iss & 0xffff)}
	default:
		return Syndrome{Kind: SyndromeOther, EC: ec}
	}
}

// decodeAbort classifies an abort's IFSC/DFSC (the ISS's low 6 bits)
// into the fault kinds errs.FaultKind names, with the faulting
// translation level where the encoding carries one.
func decodeAbort(iss uint32) (errs.FaultKind, uint8) {
	ifsc := uint8(iss & 0x3f)
	switch {
	case ifsc <= 0x03:
		return errs.FaultAddressSizeFault, ifsc
	case ifsc >= 0x04 && ifsc <= 0x07:
		return errs.FaultTranslationFault, ifsc - 0x04
	case ifsc >= 0x09 && ifsc <= 0x0B:
		return errs.FaultAccessFlagFault, ifsc - 0x08
	case ifsc >= 0x0D && ifsc <= 0x0F:
		return errs.FaultPermissionFault, ifsc - 0x0C
	case ifsc == 0x10:
		return errs.FaultSynchronousExternalAbort, 0
	case ifsc == 0x11:
		return errs.FaultSynchronousTagCheckFault, 0
	case ifsc == 0x21:
		return errs.FaultAlignmentFault, 0
	default:
		return errs.FaultOther, 0
	}
}
