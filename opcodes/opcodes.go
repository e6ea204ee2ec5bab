// Package opcodes defines the bytecode instruction set: a fixed-width
// record (8-bit opcode, two 16-bit operands, 8-bit flags) for a stack
// machine with typed fast-paths. There are no registers:
// every opcode consumes and produces values on the function's operand
// stack, addressing only the constant pool, local/global slots, and jump
// targets through its operands.
package opcodes

import "fmt"

// Opcode is the 8-bit instruction tag.
type Opcode uint8

const (
	OP_NOP Opcode = iota

	// Stack/locals.
	OP_PUSH_CONST  // A: constant pool index
	OP_PUSH_LOCAL  // A: local slot
	OP_PUSH_GLOBAL // A: global slot
	OP_POP
	OP_DUP
	OP_SWAP
	OP_PUSH_NULL
	OP_PUSH_TRUE
	OP_PUSH_FALSE
	OP_PUSH_INT_0
	OP_PUSH_INT_1
	OP_STORE_LOCAL  // A: local slot
	OP_STORE_GLOBAL // A: global slot

	// Arithmetic, typed fast paths.
	OP_ADD_INT
	OP_SUB_INT
	OP_MUL_INT
	OP_DIV_INT
	OP_MOD_INT
	OP_NEG_INT
	OP_INC_INT // A: local slot
	OP_DEC_INT // A: local slot
	OP_POW_INT
	OP_ADD_FLOAT
	OP_SUB_FLOAT
	OP_MUL_FLOAT
	OP_DIV_FLOAT
	OP_MOD_FLOAT
	OP_NEG_FLOAT
	OP_POW_FLOAT
	OP_BIT_AND
	OP_BIT_OR
	OP_BIT_XOR
	OP_BIT_NOT
	OP_SHL
	OP_SHR

	// General (untyped) arithmetic entry point: falls back to PHP coercion
	// rules when the typed fast path above does not apply. The generator
	// emits these when operand types are not known at compile time; the VM
	// dispatches the typed opcode only after confirming both tags match.
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_POW
	OP_NEG

	// Strings.
	OP_CONCAT
	OP_INTERPOLATE // A: number of values to concatenate (top of stack)

	// Compare.
	OP_EQ
	OP_NEQ
	OP_IDENTICAL
	OP_NOT_IDENTICAL
	OP_LT
	OP_LE
	OP_GT
	OP_GE
	OP_SPACESHIP

	// Logic.
	OP_LOGIC_AND
	OP_LOGIC_OR
	OP_LOGIC_NOT
	OP_COALESCE

	// Control.
	OP_JMP        // A: target offset
	OP_JZ         // A: target offset
	OP_JNZ        // A: target offset
	OP_SWITCH_INT // A: index into the function's SwitchTables (see SwitchTable)
	OP_SWITCH_STR
	OP_CALL         // A: constant index of function name, B: argc
	OP_CALL_METHOD  // A: constant index of method name, B: argc
	OP_CALL_STATIC  // A: constant index of "Class::method", B: argc
	OP_CALL_BUILTIN // A: builtin id, B: argc
	OP_CALL_CLOSURE // B: argc (closure is below the args on the stack)
	OP_RET
	OP_RET_VOID
	OP_LOOP_START
	OP_LOOP_END

	// Arrays. ARRAY_SET pops (array, key, value) and pushes value back;
	// ARRAY_PUSH pops (array, value) and pushes value back. Pushing the
	// stored value back lets an assignment like `$a[$k] = $v` or
	// `$a[] = $v` double as an expression without a separate dup/store
	// dance around the array mutation itself.
	OP_NEW_ARRAY
	OP_ARRAY_GET
	OP_ARRAY_SET
	OP_ARRAY_PUSH
	OP_ARRAY_POP
	OP_ARRAY_LEN
	OP_FOREACH_INIT
	OP_FOREACH_NEXT // A: target offset to jump to when exhausted

	// Objects.
	OP_NEW_OBJECT // A: class name constant index, B: argc
	OP_GET_PROP   // A: property name constant index
	OP_SET_PROP   // A: property name constant index; pops (object, value), pushes value back
	OP_INSTANCEOF // A: class name constant index
	OP_CLONE
	OP_NULLSAFE_GET  // A: property name constant index
	OP_NULLSAFE_CALL // A: method name constant index, B: argc

	// Closures.
	OP_CAPTURE_VAR  // A: local slot, B: 0 = by value, 1 = by reference
	OP_MAKE_CLOSURE // A: function prototype constant index, B: capture count
	OP_CLOSURE_CALL // B: argc

	// Exceptions.
	OP_THROW

	// Type coercion/check.
	OP_TO_INT
	OP_TO_FLOAT
	OP_TO_STRING
	OP_TO_BOOL
	OP_TO_ARRAY
	OP_TO_OBJECT
	OP_IS_INT
	OP_IS_FLOAT
	OP_IS_STRING
	OP_IS_BOOL
	OP_IS_ARRAY
	OP_IS_OBJECT
	OP_IS_NULL

	// Unset. The local/global forms drop the slot's binding (releasing its
	// reference); the array/property forms remove one container edge.
	OP_UNSET_LOCAL  // A: local slot
	OP_UNSET_GLOBAL // A: global slot
	OP_ARRAY_UNSET  // pops (array, key)
	OP_UNSET_PROP   // A: property name constant index; pops (object)

	// GC/debug.
	OP_GC_SAFEPOINT
	OP_LINE_NUMBER // A: source line
	OP_HALT
)

var opcodeNames = map[Opcode]string{
	OP_NOP: "nop", OP_PUSH_CONST: "push_const", OP_PUSH_LOCAL: "push_local",
	OP_PUSH_GLOBAL: "push_global", OP_POP: "pop", OP_DUP: "dup", OP_SWAP: "swap",
	OP_PUSH_NULL: "push_null", OP_PUSH_TRUE: "push_true", OP_PUSH_FALSE: "push_false",
	OP_PUSH_INT_0: "push_int_0", OP_PUSH_INT_1: "push_int_1",
	OP_STORE_LOCAL: "store_local", OP_STORE_GLOBAL: "store_global",
	OP_ADD_INT: "add_int", OP_SUB_INT: "sub_int", OP_MUL_INT: "mul_int",
	OP_DIV_INT: "div_int", OP_MOD_INT: "mod_int", OP_NEG_INT: "neg_int",
	OP_INC_INT: "inc_int", OP_DEC_INT: "dec_int", OP_POW_INT: "pow_int",
	OP_ADD_FLOAT: "add_float", OP_SUB_FLOAT: "sub_float", OP_MUL_FLOAT: "mul_float",
	OP_DIV_FLOAT: "div_float", OP_MOD_FLOAT: "mod_float", OP_NEG_FLOAT: "neg_float",
	OP_POW_FLOAT: "pow_float",
	OP_BIT_AND:   "bit_and", OP_BIT_OR: "bit_or", OP_BIT_XOR: "bit_xor",
	OP_BIT_NOT: "bit_not", OP_SHL: "shl", OP_SHR: "shr",
	OP_ADD: "add", OP_SUB: "sub", OP_MUL: "mul", OP_DIV: "div", OP_MOD: "mod",
	OP_POW: "pow", OP_NEG: "neg",
	OP_CONCAT: "concat", OP_INTERPOLATE: "interpolate",
	OP_EQ: "eq", OP_NEQ: "neq", OP_IDENTICAL: "identical", OP_NOT_IDENTICAL: "not_identical",
	OP_LT: "lt", OP_LE: "le", OP_GT: "gt", OP_GE: "ge", OP_SPACESHIP: "spaceship",
	OP_LOGIC_AND: "logic_and", OP_LOGIC_OR: "logic_or", OP_LOGIC_NOT: "logic_not",
	OP_COALESCE: "coalesce",
	OP_JMP:      "jmp", OP_JZ: "jz", OP_JNZ: "jnz",
	OP_SWITCH_INT: "switch_int", OP_SWITCH_STR: "switch_str",
	OP_CALL: "call", OP_CALL_METHOD: "call_method", OP_CALL_STATIC: "call_static",
	OP_CALL_BUILTIN: "call_builtin", OP_CALL_CLOSURE: "closure_call",
	OP_RET: "ret", OP_RET_VOID: "ret_void",
	OP_LOOP_START: "loop_start", OP_LOOP_END: "loop_end",
	OP_NEW_ARRAY: "new_array", OP_ARRAY_GET: "array_get", OP_ARRAY_SET: "array_set",
	OP_ARRAY_PUSH: "array_push", OP_ARRAY_POP: "array_pop", OP_ARRAY_LEN: "array_len",
	OP_FOREACH_INIT: "foreach_init", OP_FOREACH_NEXT: "foreach_next",
	OP_NEW_OBJECT: "new_object", OP_GET_PROP: "get_prop", OP_SET_PROP: "set_prop",
	OP_INSTANCEOF: "instanceof", OP_CLONE: "clone",
	OP_NULLSAFE_GET: "nullsafe_get", OP_NULLSAFE_CALL: "nullsafe_call",
	OP_CAPTURE_VAR: "capture_var", OP_MAKE_CLOSURE: "make_closure",
	OP_CLOSURE_CALL: "closure_call_site",
	OP_THROW:        "throw",
	OP_TO_INT:       "to_int", OP_TO_FLOAT: "to_float", OP_TO_STRING: "to_string",
	OP_TO_BOOL: "to_bool", OP_TO_ARRAY: "to_array", OP_TO_OBJECT: "to_object",
	OP_IS_INT: "is_int", OP_IS_FLOAT: "is_float", OP_IS_STRING: "is_string",
	OP_IS_BOOL: "is_bool", OP_IS_ARRAY: "is_array", OP_IS_OBJECT: "is_object",
	OP_IS_NULL:     "is_null",
	OP_UNSET_LOCAL: "unset_local", OP_UNSET_GLOBAL: "unset_global",
	OP_ARRAY_UNSET: "array_unset", OP_UNSET_PROP: "unset_prop",
	OP_GC_SAFEPOINT: "gc_safepoint", OP_LINE_NUMBER: "line_number", OP_HALT: "halt",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("opcode(%d)", o)
}

// Flag bits occupy the instruction's 8-bit flags field.
type Flag uint8

const (
	FlagTypeHintInt Flag = 1 << iota
	FlagTypeHintFloat
	FlagTypeHintString
	FlagTailCall
	FlagGCSafepoint
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Instruction is the fixed-width bytecode record the VM dispatches on.
type Instruction struct {
	Op    Opcode
	A     uint16
	B     uint16
	Flags Flag
	Line  uint32 // source line, for the line table and backtraces
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s a=%d b=%d", i.Op, i.A, i.B)
}

// SwitchTable backs switch_int/switch_str: an ordered list of
// (value-constant-index, target-offset) pairs plus a default target,
// stored in the function's side-table (not the instruction operands,
// which are too narrow to hold a whole jump table).
type SwitchTable struct {
	Cases   []SwitchCase
	Default uint32
}

type SwitchCase struct {
	ConstIndex uint16
	Target     uint32
}

// ExceptionEntry is one row of a compiled function's exception table:
// try-range [Start,End), handler, optional finally,
// and the catch type (a class name constant index; empty catches — a
// bare `finally` with no catch clause — use CatchType == NoCatchType).
type ExceptionEntry struct {
	Start      uint32
	End        uint32
	HandlerPC  uint32
	CatchType  uint16
	HasCatch   bool
	FinallyPC  uint32
	FinallyEnd uint32
	HasFinally bool
}

// NoCatchType marks a finally-only exception entry with no catch clause.
const NoCatchType = ^uint16(0)

// LineEntry maps a bytecode offset to the source line it was generated
// from, used for backtraces and the `line_number` opcode's debug trace.
type LineEntry struct {
	PC   uint32
	Line uint32
}
