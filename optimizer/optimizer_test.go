package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

func fnWith(constants []*values.Value, instrs ...opcodes.Instruction) *registry.Function {
	out := make([]*opcodes.Instruction, len(instrs))
	for i := range instrs {
		in := instrs[i]
		out[i] = &in
	}
	return &registry.Function{Name: "test", Instructions: out, Constants: constants}
}

func opsOf(fn *registry.Function) []opcodes.Opcode {
	out := make([]opcodes.Opcode, len(fn.Instructions))
	for i, in := range fn.Instructions {
		out[i] = in.Op
	}
	return out
}

func TestConstantFoldingAppendsToPool(t *testing.T) {
	fn := fnWith(
		[]*values.Value{values.NewInt(2), values.NewInt(3)},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 0},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 1},
		opcodes.Instruction{Op: opcodes.OP_ADD},
		opcodes.Instruction{Op: opcodes.OP_RET},
	)

	NewOptimizer().OptimizeFunction(fn)

	require.Len(t, fn.Instructions, 4, "passes never change the instruction count")
	assert.Equal(t, opcodes.OP_PUSH_CONST, fn.Instructions[0].Op)
	assert.Equal(t, int64(5), fn.Constants[fn.Instructions[0].A].ToInt())
	assert.Equal(t, opcodes.OP_NOP, fn.Instructions[1].Op)
	assert.Equal(t, opcodes.OP_NOP, fn.Instructions[2].Op)

	// The original pool entries are still intact at their old indices.
	assert.Equal(t, int64(2), fn.Constants[0].ToInt())
	assert.Equal(t, int64(3), fn.Constants[1].ToInt())
	assert.GreaterOrEqual(t, len(fn.Constants), 3, "the folded value was appended, not written over an existing slot")
}

func TestConstantFoldingNeverFoldsDivisionByZero(t *testing.T) {
	fn := fnWith(
		[]*values.Value{values.NewInt(1), values.NewInt(0)},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 0},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 1},
		opcodes.Instruction{Op: opcodes.OP_DIV},
		opcodes.Instruction{Op: opcodes.OP_RET},
	)

	NewOptimizer().OptimizeFunction(fn)
	assert.Equal(t, opcodes.OP_DIV, fn.Instructions[2].Op,
		"the runtime must raise DivisionByZeroError; folding would lose it")
}

func TestDeadCodeAfterReturnBecomesNop(t *testing.T) {
	fn := fnWith(
		[]*values.Value{values.NewInt(1)},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 0},
		opcodes.Instruction{Op: opcodes.OP_RET},
		opcodes.Instruction{Op: opcodes.OP_PUSH_NULL}, // unreachable
		opcodes.Instruction{Op: opcodes.OP_RET},       // unreachable
	)

	NewOptimizer().OptimizeFunction(fn)
	assert.Equal(t, []opcodes.Opcode{
		opcodes.OP_PUSH_CONST, opcodes.OP_RET, opcodes.OP_NOP, opcodes.OP_NOP,
	}, opsOf(fn))
}

func TestDeadCodeKeepsExceptionHandlers(t *testing.T) {
	// pc0 RET; pc1.. is a catch handler reachable only via the exception
	// table, never via a jump.
	fn := fnWith(
		[]*values.Value{values.NewInt(1)},
		opcodes.Instruction{Op: opcodes.OP_RET_VOID},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 0}, // handler
		opcodes.Instruction{Op: opcodes.OP_RET},
		opcodes.Instruction{Op: opcodes.OP_PUSH_NULL}, // finally body
		opcodes.Instruction{Op: opcodes.OP_POP},
	)
	fn.ExceptionTable = []opcodes.ExceptionEntry{
		{Start: 0, End: 1, HandlerPC: 1, HasCatch: true},
		{Start: 0, End: 1, HasFinally: true, FinallyPC: 3, FinallyEnd: 5},
	}

	NewOptimizer().OptimizeFunction(fn)
	assert.Equal(t, opcodes.OP_PUSH_CONST, fn.Instructions[1].Op, "catch handlers stay live")
	assert.Equal(t, opcodes.OP_PUSH_NULL, fn.Instructions[3].Op, "finally ranges stay live")
	assert.Equal(t, opcodes.OP_POP, fn.Instructions[4].Op)
}

func TestPeepholeRemovesPushPop(t *testing.T) {
	fn := fnWith(
		[]*values.Value{values.NewInt(1)},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 0},
		opcodes.Instruction{Op: opcodes.OP_POP},
		opcodes.Instruction{Op: opcodes.OP_RET_VOID},
	)

	NewOptimizer().OptimizeFunction(fn)
	assert.Equal(t, []opcodes.Opcode{opcodes.OP_NOP, opcodes.OP_NOP, opcodes.OP_RET_VOID}, opsOf(fn))
}

func TestJumpToNextInstructionBecomesNop(t *testing.T) {
	fn := fnWith(nil,
		opcodes.Instruction{Op: opcodes.OP_JMP, A: 1},
		opcodes.Instruction{Op: opcodes.OP_RET_VOID},
	)

	NewOptimizer().OptimizeFunction(fn)
	assert.Equal(t, opcodes.OP_NOP, fn.Instructions[0].Op)
}

func TestJumpChainCollapses(t *testing.T) {
	fn := fnWith(nil,
		opcodes.Instruction{Op: opcodes.OP_JZ, A: 2},
		opcodes.Instruction{Op: opcodes.OP_RET_VOID},
		opcodes.Instruction{Op: opcodes.OP_JMP, A: 4},
		opcodes.Instruction{Op: opcodes.OP_RET_VOID},
		opcodes.Instruction{Op: opcodes.OP_RET_VOID},
	)

	NewOptimizer().OptimizeFunction(fn)
	assert.Equal(t, uint16(4), fn.Instructions[0].A, "JZ retargets through the JMP at its old destination")
}

func TestTailCallMarking(t *testing.T) {
	fn := fnWith(
		[]*values.Value{values.NewString("f")},
		opcodes.Instruction{Op: opcodes.OP_CALL, A: 0, B: 0},
		opcodes.Instruction{Op: opcodes.OP_RET},
	)

	NewOptimizer().OptimizeFunction(fn)
	assert.True(t, fn.Instructions[0].Flags.Has(opcodes.FlagTailCall))
	assert.Equal(t, opcodes.OP_CALL, fn.Instructions[0].Op, "marking never rewrites the opcode itself")
}

func TestOptimizeReachesFixedPointWithStats(t *testing.T) {
	fn := fnWith(
		[]*values.Value{values.NewInt(2), values.NewInt(3), values.NewInt(4)},
		// ((2+3)*4) folds in two rounds.
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 0},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 1},
		opcodes.Instruction{Op: opcodes.OP_ADD},
		opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: 2},
		opcodes.Instruction{Op: opcodes.OP_MUL},
		opcodes.Instruction{Op: opcodes.OP_RET},
	)

	stats := NewOptimizer().OptimizeFunction(fn)
	assert.Greater(t, stats.Iterations, 1)
	assert.Positive(t, stats.PassStats["ConstantFolding"])
	assert.Equal(t, stats.OriginalSize, stats.OptimizedSize)

	var pushes []*opcodes.Instruction
	for _, in := range fn.Instructions {
		if in.Op == opcodes.OP_PUSH_CONST {
			pushes = append(pushes, in)
		}
	}
	require.Len(t, pushes, 1, "the whole expression folded to one constant")
	assert.Equal(t, int64(20), fn.Constants[pushes[0].A].ToInt())
}
