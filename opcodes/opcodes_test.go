package opcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpcodeNamesCoverEveryDefinedOpcode(t *testing.T) {
	for op := OP_NOP; op <= OP_HALT; op++ {
		assert.NotContains(t, op.String(), "opcode(", "opcode %d is missing a name", op)
	}
	assert.Equal(t, "opcode(255)", Opcode(255).String())
}

func TestInstructionString(t *testing.T) {
	in := Instruction{Op: OP_PUSH_CONST, A: 3, B: 0}
	assert.Equal(t, "push_const a=3 b=0", in.String())
}

func TestFlagBits(t *testing.T) {
	f := FlagTailCall | FlagGCSafepoint
	assert.True(t, f.Has(FlagTailCall))
	assert.True(t, f.Has(FlagGCSafepoint))
	assert.False(t, f.Has(FlagTypeHintInt))
}

func TestNoCatchTypeIsOutOfConstantRange(t *testing.T) {
	assert.Equal(t, ^uint16(0), NoCatchType)
}
