package trapframe

import "testing"

func TestSetUserEntryBits(t *testing.T) {
	var tf TrapFrame
	tf.SPSR = 0xFFFF_FFFF // start with every bit set to prove masking works both ways.
	tf.SetUserEntry()

	if tf.SPSR&spsrModeMask != spsrModeEL0t {
		t.Fatalf("mode bits = %#x, want EL0t", tf.SPSR&spsrModeMask)
	}
	if tf.SPSR&spsrIRQMask != 0 {
		t.Fatal("expected IRQ mask bit clear (IRQs unmasked)")
	}
	if tf.SPSR&(spsrFIQMask|spsrSErrMask|spsrDebugMask) != spsrFIQMask|spsrSErrMask|spsrDebugMask {
		t.Fatal("expected F/A/D bits set")
	}
}

func TestArgAndResultRegisters(t *testing.T) {
	var tf TrapFrame
	tf.X[3] = 42
	if tf.Arg(3) != 42 {
		t.Fatalf("Arg(3) = %d, want 42", tf.Arg(3))
	}

	tf.SetResult(7, 8)
	tf.SetStatus(0)
	if tf.X[0] != 7 || tf.X[1] != 8 || tf.X[7] != 0 {
		t.Fatalf("result registers = %d,%d,%d", tf.X[0], tf.X[1], tf.X[7])
	}
}
