package vm

import (
	"github.com/wudi/heyvm/heap"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// CallFrame is one activation of a compiled function: its local-slot
// array, its own operand stack, the instruction pointer, and the
// receiver/class context a method body sees as $this/self.
//
// Reference-count convention: every entry on the operand stack owns one
// strong reference; push transfers ownership in, pop transfers it out,
// and pushBorrowed retains first. Local slots own one reference each:
// setLocal retains the incoming value and releases the one it replaces,
// and frame teardown releases whatever the slots and stack still hold.
type CallFrame struct {
	fn    *registry.Function
	desc  string // name shown in backtraces ("funcName" or "Class::method")
	pc    int
	stack []*values.Value
	local []*values.Value
	this  *values.Value
	class string // current class scope, "" outside a method
}

func newCallFrame(fn *registry.Function, desc string, this *values.Value, class string) *CallFrame {
	locals := make([]*values.Value, fn.LocalCount)
	for i := range locals {
		locals[i] = values.NewNull()
	}
	if this != nil && len(locals) > 0 {
		this.Retain()
		locals[0] = this
	}
	cap := fn.MaxStack
	if cap < 8 {
		cap = 8
	}
	return &CallFrame{
		fn:    fn,
		desc:  desc,
		stack: make([]*values.Value, 0, cap),
		local: locals,
		this:  this,
		class: class,
	}
}

// push appends v, taking over its reference.
func (f *CallFrame) push(v *values.Value) {
	if v == nil {
		v = values.NewNull()
	}
	f.stack = append(f.stack, v)
}

// pushBorrowed retains v's box before pushing, for values some slot or
// container still owns.
func (f *CallFrame) pushBorrowed(v *values.Value) {
	if v == nil {
		v = values.NewNull()
	}
	v.Retain()
	f.stack = append(f.stack, v)
}

// pop removes and returns the top value, transferring its reference to
// the caller.
func (f *CallFrame) pop() *values.Value {
	n := len(f.stack)
	if n == 0 {
		return values.NewNull()
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

func (f *CallFrame) popN(n int) []*values.Value {
	if n <= 0 {
		return nil
	}
	start := len(f.stack) - n
	if start < 0 {
		start = 0
	}
	out := append([]*values.Value(nil), f.stack[start:]...)
	f.stack = f.stack[:start]
	return out
}

func (f *CallFrame) peek() *values.Value {
	if len(f.stack) == 0 {
		return values.NewNull()
	}
	return f.stack[len(f.stack)-1]
}

func (f *CallFrame) getLocal(slot uint16) *values.Value {
	if int(slot) >= len(f.local) {
		return values.NewNull()
	}
	return f.local[slot]
}

// setLocal stores v into slot: the slot retains the incoming value and
// releases the one it held (retain first, so re-storing a slot's own
// value is safe).
func (f *CallFrame) setLocal(slot uint16, v *values.Value) {
	for int(slot) >= len(f.local) {
		f.local = append(f.local, values.NewNull())
	}
	if v != nil {
		v.Retain()
	}
	if old := f.local[slot]; old != nil {
		old.Release(heap.Active())
	}
	f.local[slot] = v
}
