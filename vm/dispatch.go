package vm

import (
	"github.com/wudi/heyvm/errors"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/stdlib"
	"github.com/wudi/heyvm/values"
)

type sigKind int

const (
	sigNone sigKind = iota
	sigReturn
	sigThrow
	sigHalt
)

// ctrl is step's outcome: either "keep going" (sigNone), or a control
// transfer the calling runFrame/runFinallyRange loop must act on.
type ctrl struct {
	kind     sigKind
	value    *values.Value
	haltCode int
	haltMsg  string
}

func none() (ctrl, error)               { return ctrl{kind: sigNone}, nil }
func ret(v *values.Value) (ctrl, error) { return ctrl{kind: sigReturn, value: v}, nil }
func throwValue(v *values.Value) (ctrl, error) {
	return ctrl{kind: sigThrow, value: v}, nil
}
func halt(code int, msg string) (ctrl, error) {
	return ctrl{kind: sigHalt, haltCode: code, haltMsg: msg}, nil
}

// step executes exactly one instruction of fr, advancing fr.pc (jumps set
// it directly; everything else falls through to the next instruction).
//
// Ownership: values popped here are owned by the handler, which either
// transfers them onward (push, a container write's stored-value result, a
// ctrl payload) or releases them. Values read from constants, slots, or
// containers are pushed via pushBorrowed so the stack holds its own
// reference.
func (vm *VM) step(fr *CallFrame) (ctrl, error) {
	instr := fr.fn.Instructions[fr.pc]
	fr.pc++

	switch instr.Op {
	case opcodes.OP_NOP, opcodes.OP_LINE_NUMBER, opcodes.OP_LOOP_START, opcodes.OP_LOOP_END:
		return none()

	case opcodes.OP_GC_SAFEPOINT:
		if vm.collector.PendingRoots() >= vm.cfg.GCThreshold {
			vm.collector.Collect()
		}
		return none()

	case opcodes.OP_HALT:
		code := fr.pop()
		exitCode := int(code.ToInt())
		vm.rel(code)
		return halt(exitCode, "")

	// --- stack/locals ---
	case opcodes.OP_PUSH_CONST:
		fr.pushBorrowed(fr.fn.Constants[instr.A])
	case opcodes.OP_PUSH_LOCAL:
		fr.pushBorrowed(fr.getLocal(instr.A).Deref())
	case opcodes.OP_PUSH_GLOBAL:
		fr.pushBorrowed(vm.pushGlobalSlot(instr.A).Deref())
	case opcodes.OP_POP:
		vm.rel(fr.pop())
	case opcodes.OP_DUP:
		fr.pushBorrowed(fr.peek())
	case opcodes.OP_SWAP:
		a := fr.pop()
		b := fr.pop()
		fr.push(a)
		fr.push(b)
	case opcodes.OP_PUSH_NULL:
		fr.push(values.NewNull())
	case opcodes.OP_PUSH_TRUE:
		fr.push(values.NewBool(true))
	case opcodes.OP_PUSH_FALSE:
		fr.push(values.NewBool(false))
	case opcodes.OP_PUSH_INT_0:
		fr.push(values.NewInt(0))
	case opcodes.OP_PUSH_INT_1:
		fr.push(values.NewInt(1))
	case opcodes.OP_STORE_LOCAL:
		v := fr.pop()
		if cur := fr.getLocal(instr.A); cur.IsReference() {
			cur.Assign(v)
		} else {
			fr.setLocal(instr.A, v)
		}
		vm.rel(v)
	case opcodes.OP_STORE_GLOBAL:
		v := fr.pop()
		if cur := vm.pushGlobalSlot(instr.A); cur.IsReference() {
			cur.Assign(v)
		} else {
			vm.storeGlobalSlot(instr.A, v)
		}
		vm.rel(v)
	case opcodes.OP_UNSET_LOCAL:
		fr.setLocal(instr.A, values.NewNull())
	case opcodes.OP_UNSET_GLOBAL:
		vm.storeGlobalSlot(instr.A, values.NewNull())

	// --- typed fast-path arithmetic (ISA-complete; the generator never
	// emits these today since it has no type-inference pass to prove both
	// operands are int/float at compile time, so these fall back to the
	// same Value arithmetic the untyped opcodes below use) ---
	case opcodes.OP_ADD_INT, opcodes.OP_ADD_FLOAT, opcodes.OP_ADD:
		b, a := fr.pop(), fr.pop()
		fr.push(a.Add(b))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_SUB_INT, opcodes.OP_SUB_FLOAT, opcodes.OP_SUB:
		b, a := fr.pop(), fr.pop()
		fr.push(a.Subtract(b))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_MUL_INT, opcodes.OP_MUL_FLOAT, opcodes.OP_MUL:
		b, a := fr.pop(), fr.pop()
		fr.push(a.Multiply(b))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_DIV_INT, opcodes.OP_DIV_FLOAT, opcodes.OP_DIV:
		return vm.divOp(fr)
	case opcodes.OP_MOD_INT, opcodes.OP_MOD_FLOAT, opcodes.OP_MOD:
		return vm.modOp(fr)
	case opcodes.OP_NEG_INT, opcodes.OP_NEG_FLOAT, opcodes.OP_NEG:
		v := fr.pop()
		fr.push(values.NewInt(0).Subtract(v))
		vm.rel(v)
	case opcodes.OP_INC_INT:
		fr.setLocal(instr.A, fr.getLocal(instr.A).Add(values.NewInt(1)))
	case opcodes.OP_DEC_INT:
		fr.setLocal(instr.A, fr.getLocal(instr.A).Subtract(values.NewInt(1)))
	case opcodes.OP_POW_INT, opcodes.OP_POW_FLOAT, opcodes.OP_POW:
		b, a := fr.pop(), fr.pop()
		fr.push(a.Power(b))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_BIT_AND:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewInt(a.ToInt() & b.ToInt()))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_BIT_OR:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewInt(a.ToInt() | b.ToInt()))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_BIT_XOR:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewInt(a.ToInt() ^ b.ToInt()))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_BIT_NOT:
		v := fr.pop()
		fr.push(values.NewInt(^v.ToInt()))
		vm.rel(v)
	case opcodes.OP_SHL:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewInt(a.ToInt() << uint(b.ToInt())))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_SHR:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewInt(a.ToInt() >> uint(b.ToInt())))
		vm.rel(a)
		vm.rel(b)

	// --- strings ---
	case opcodes.OP_CONCAT:
		b, a := fr.pop(), fr.pop()
		fr.push(a.Concat(b))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_INTERPOLATE:
		parts := fr.popN(int(instr.A))
		s := ""
		for _, p := range parts {
			s += p.ToString()
		}
		fr.push(values.NewString(s))
		vm.relAll(parts)

	// --- compare ---
	case opcodes.OP_EQ:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.Equal(b)))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_NEQ:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(!a.Equal(b)))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_IDENTICAL:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.Identical(b)))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_NOT_IDENTICAL:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(!a.Identical(b)))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_LT:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.Compare(b) < 0))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_LE:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.Compare(b) <= 0))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_GT:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.Compare(b) > 0))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_GE:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.Compare(b) >= 0))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_SPACESHIP:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewInt(int64(a.Compare(b))))
		vm.rel(a)
		vm.rel(b)

	// --- logic ---
	case opcodes.OP_LOGIC_AND:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.ToBool() && b.ToBool()))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_LOGIC_OR:
		b, a := fr.pop(), fr.pop()
		fr.push(values.NewBool(a.ToBool() || b.ToBool()))
		vm.rel(a)
		vm.rel(b)
	case opcodes.OP_LOGIC_NOT:
		v := fr.pop()
		fr.push(values.NewBool(!v.ToBool()))
		vm.rel(v)
	case opcodes.OP_COALESCE:
		b, a := fr.pop(), fr.pop()
		if a.IsNull() {
			fr.push(b)
			vm.rel(a)
		} else {
			fr.push(a)
			vm.rel(b)
		}

	// --- control ---
	case opcodes.OP_JMP:
		fr.pc = int(instr.A)
	case opcodes.OP_JZ:
		v := fr.pop()
		if !v.ToBool() {
			fr.pc = int(instr.A)
		}
		vm.rel(v)
	case opcodes.OP_JNZ:
		v := fr.pop()
		if v.ToBool() {
			fr.pc = int(instr.A)
		}
		vm.rel(v)
	case opcodes.OP_SWITCH_INT, opcodes.OP_SWITCH_STR:
		return vm.switchOp(fr, instr)
	case opcodes.OP_CALL:
		return vm.callNamed(fr, instr)
	case opcodes.OP_CALL_METHOD:
		return vm.callMethod(fr, instr, false)
	case opcodes.OP_NULLSAFE_CALL:
		return vm.callMethod(fr, instr, true)
	case opcodes.OP_CALL_STATIC:
		return vm.callStatic(fr, instr)
	case opcodes.OP_CALL_BUILTIN:
		return vm.callBuiltinByID(fr, instr)
	case opcodes.OP_CALL_CLOSURE, opcodes.OP_CLOSURE_CALL:
		return vm.callClosureOp(fr, instr)
	case opcodes.OP_RET:
		return ret(fr.pop())
	case opcodes.OP_RET_VOID:
		return ret(values.NewNull())

	// --- arrays ---
	case opcodes.OP_NEW_ARRAY:
		fr.push(values.NewArray())
	case opcodes.OP_ARRAY_GET:
		key, target := fr.pop(), fr.pop()
		if target.IsObject() {
			fr.pushBorrowed(target.ObjectGet(key.ToString()))
		} else {
			fr.pushBorrowed(target.ArrayGet(key))
		}
		vm.rel(key)
		vm.rel(target)
	case opcodes.OP_ARRAY_SET:
		value, key, arr := fr.pop(), fr.pop(), fr.pop()
		arr.ArraySet(key, value) // the array's edge retains value
		fr.push(value)           // the handler's reference stays with the stack
		vm.rel(key)
		vm.rel(arr)
	case opcodes.OP_ARRAY_PUSH:
		value, arr := fr.pop(), fr.pop()
		arr.ArrayAppend(value)
		fr.push(value)
		vm.rel(arr)
	case opcodes.OP_ARRAY_POP:
		arr := fr.pop()
		keys := arr.ArrayKeys()
		if len(keys) == 0 {
			fr.push(values.NewNull())
		} else {
			last := keys[len(keys)-1]
			v := arr.ArrayGet(last)
			v.Retain() // keep it alive past the edge's release
			arr.ArrayUnset(last)
			fr.push(v)
		}
		vm.rel(arr)
	case opcodes.OP_ARRAY_LEN:
		v := fr.pop()
		fr.push(values.NewInt(int64(v.ArrayCount())))
		vm.rel(v)
	case opcodes.OP_ARRAY_UNSET:
		key, arr := fr.pop(), fr.pop()
		arr.ArrayUnset(key)
		vm.rel(key)
		vm.rel(arr)
	case opcodes.OP_FOREACH_INIT:
		src := fr.pop()
		fr.push(vm.newForeachCursor(src))
		vm.rel(src)
	case opcodes.OP_FOREACH_NEXT:
		cur := cursorOf(fr.peek())
		if cur == nil {
			fr.pc = int(instr.A)
			return none()
		}
		key, val, ok := cur.next()
		if !ok {
			fr.pc = int(instr.A)
			return none()
		}
		fr.pushBorrowed(val) // still owned by the cursor's snapshot
		fr.push(key)         // fresh key value, on top: stored first

	// --- objects ---
	case opcodes.OP_NEW_OBJECT:
		return vm.newObjectOp(fr, instr)
	case opcodes.OP_GET_PROP:
		return vm.getPropOp(fr, instr, false)
	case opcodes.OP_NULLSAFE_GET:
		return vm.getPropOp(fr, instr, true)
	case opcodes.OP_SET_PROP:
		return vm.setPropOp(fr, instr)
	case opcodes.OP_UNSET_PROP:
		obj := fr.pop()
		obj.ObjectUnset(fr.fn.Constants[instr.A].ToString())
		vm.rel(obj)
	case opcodes.OP_INSTANCEOF:
		v := fr.pop()
		fr.push(values.NewBool(vm.resolveInstanceOf(v, fr.fn.Constants[instr.A].ToString())))
		vm.rel(v)
	case opcodes.OP_CLONE:
		v := fr.pop()
		c := vm.cloneObject(v)
		fr.push(c)
		if c != v {
			vm.rel(v)
		}

	// --- closures ---
	case opcodes.OP_CAPTURE_VAR:
		// B bit 0: by reference; B bit 1: the slot addresses globals (the
		// capture site sits in the program's global scope or reached the
		// variable via a `global` statement).
		isGlobal := instr.B&2 != 0
		var cur *values.Value
		if isGlobal {
			cur = vm.pushGlobalSlot(instr.A)
		} else {
			cur = fr.getLocal(instr.A)
		}
		if instr.B&1 != 0 {
			// By-reference capture shares storage: the slot is promoted to a
			// reference cell, and both the closure and later stores to the
			// slot write through the same cell.
			cell := cur
			if !cell.IsReference() {
				cell = values.NewReference(copyValue(cur))
				if isGlobal {
					vm.storeGlobalSlot(instr.A, cell)
				} else {
					fr.setLocal(instr.A, cell)
				}
			}
			fr.pushBorrowed(cell)
		} else {
			fr.pushBorrowed(copyValue(cur))
		}
	case opcodes.OP_MAKE_CLOSURE:
		return vm.makeClosure(fr, instr)

	// --- exceptions ---
	case opcodes.OP_THROW:
		return throwValue(fr.pop())

	// --- type coercion/check ---
	case opcodes.OP_TO_INT:
		v := fr.pop()
		fr.push(values.NewInt(v.ToInt()))
		vm.rel(v)
	case opcodes.OP_TO_FLOAT:
		v := fr.pop()
		fr.push(values.NewFloat(v.ToFloat()))
		vm.rel(v)
	case opcodes.OP_TO_STRING:
		return vm.toStringOp(fr)
	case opcodes.OP_TO_BOOL:
		v := fr.pop()
		fr.push(values.NewBool(v.ToBool()))
		vm.rel(v)
	case opcodes.OP_TO_ARRAY:
		v := fr.pop()
		if v.IsArray() {
			fr.push(v)
		} else {
			arr := values.NewArray()
			if !v.IsNull() {
				arr.ArrayAppend(v)
			}
			fr.push(arr)
			vm.rel(v)
		}
	case opcodes.OP_TO_OBJECT:
		fr.push(fr.pop()) // object coercion of non-objects is out of scope
	case opcodes.OP_IS_INT:
		v := fr.pop()
		fr.push(values.NewBool(v.IsInt()))
		vm.rel(v)
	case opcodes.OP_IS_FLOAT:
		v := fr.pop()
		fr.push(values.NewBool(v.IsFloat()))
		vm.rel(v)
	case opcodes.OP_IS_STRING:
		v := fr.pop()
		fr.push(values.NewBool(v.IsString()))
		vm.rel(v)
	case opcodes.OP_IS_BOOL:
		v := fr.pop()
		fr.push(values.NewBool(v.IsBool()))
		vm.rel(v)
	case opcodes.OP_IS_ARRAY:
		v := fr.pop()
		fr.push(values.NewBool(v.IsArray()))
		vm.rel(v)
	case opcodes.OP_IS_OBJECT:
		v := fr.pop()
		fr.push(values.NewBool(v.IsObject()))
		vm.rel(v)
	case opcodes.OP_IS_NULL:
		v := fr.pop()
		fr.push(values.NewBool(v.IsNull()))
		vm.rel(v)

	default:
		return throwValue(mustException(vm, errors.FatalError, "unimplemented opcode "+instr.String()))
	}
	return none()
}

func (vm *VM) divOp(fr *CallFrame) (ctrl, error) {
	b, a := fr.pop(), fr.pop()
	v, err := a.Divide(b)
	vm.rel(a)
	vm.rel(b)
	if err != nil {
		return throwValue(mustException(vm, errors.DivisionByZeroError, "Division by zero"))
	}
	fr.push(v)
	return none()
}

func (vm *VM) modOp(fr *CallFrame) (ctrl, error) {
	b, a := fr.pop(), fr.pop()
	v, err := a.Modulo(b)
	vm.rel(a)
	vm.rel(b)
	if err != nil {
		return throwValue(mustException(vm, errors.DivisionByZeroError, "Modulo by zero"))
	}
	fr.push(v)
	return none()
}

func (vm *VM) switchOp(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	v := fr.pop()
	table := fr.fn.SwitchTables[instr.A]
	target := int(table.Default)
	for _, c := range table.Cases {
		if v.Equal(fr.fn.Constants[c.ConstIndex]) {
			target = int(c.Target)
			break
		}
	}
	vm.rel(v)
	fr.pc = target
	return none()
}

func mustException(vm *VM, kind errors.Kind, msg string) *values.Value {
	className := kind.String()
	if _, err := vm.reg.GetClass(className); err != nil {
		className = "Error"
	}
	exc, err := stdlib.NewException(vm.reg, className, msg)
	if err != nil {
		return values.NewString(msg)
	}
	return exc
}

// copyValue returns a shallow, independent scalar copy; composite values
// (array/object/closure) already carry PHP's reference-type identity via
// their shared box, so returning v itself is correct there — the caller
// retains when it stores or pushes the result.
func copyValue(v *values.Value) *values.Value {
	v = v.Deref()
	switch v.Type() {
	case values.TypeInt:
		return values.NewInt(v.ToInt())
	case values.TypeFloat:
		return values.NewFloat(v.ToFloat())
	case values.TypeString:
		return v
	case values.TypeBool:
		return values.NewBool(v.ToBool())
	case values.TypeNull:
		return values.NewNull()
	default:
		return v
	}
}
