package vm

import (
	stderrors "errors"
	"strconv"

	"github.com/wudi/heyvm/errors"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/stdlib"
	"github.com/wudi/heyvm/values"
)

// asCtrl turns an error returned by invoke/invokeMethod/invokeClosure back
// into the dispatch loop's ctrl shape, so a nested call's thrown exception
// or halt propagates through the caller's own step() return rather than
// unwinding through Go's error return (which would skip the caller's own
// exception table).
func (vm *VM) asCtrl(err error) (ctrl, error) {
	var thrown *thrownError
	if stderrors.As(err, &thrown) {
		return ctrl{kind: sigThrow, value: thrown.value}, nil
	}
	var h *haltError
	if stderrors.As(err, &h) {
		return ctrl{kind: sigHalt, haltCode: h.code, haltMsg: h.msg}, nil
	}
	return ctrl{}, err
}

// callNamed implements OP_CALL: a plain function call, resolved against the
// registry at call time (the generator emits OP_CALL_BUILTIN instead when
// the callee is a known builtin at compile time).
func (vm *VM) callNamed(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	name := fr.fn.Constants[instr.A].ToString()
	args := fr.popN(int(instr.B))
	fn, ok := vm.reg.GetFunction(name)
	if !ok {
		vm.relAll(args)
		return throwValue(mustException(vm, errors.FatalError, "Call to undefined function "+name+"()"))
	}
	result, err := vm.invoke(fn, name, nil, "", args)
	vm.relAll(args)
	if err != nil {
		return vm.asCtrl(err)
	}
	fr.push(result)
	return none()
}

// callBuiltinByID implements OP_CALL_BUILTIN, the fast path the generator
// emits when the callee resolved to a known builtin at compile time.
func (vm *VM) callBuiltinByID(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	args := fr.popN(int(instr.B))
	entry, ok := stdlib.ByID(instr.A)
	if !ok {
		vm.relAll(args)
		return throwValue(mustException(vm, errors.FatalError, "undefined builtin"))
	}
	if len(args) < entry.MinArgs || (entry.MaxArgs >= 0 && len(args) > entry.MaxArgs) {
		vm.relAll(args)
		return throwValue(mustException(vm, errors.ArgumentCountError,
			entry.Name+"() called with a wrong number of arguments"))
	}
	result, err := entry.Fn(vm, args)
	vm.relAll(args)
	if err != nil {
		return vm.asCtrl(vm.classifyBuiltinErr(err))
	}
	if result == nil {
		result = values.NewNull()
	}
	fr.push(result)
	return none()
}

// callMethod implements OP_CALL_METHOD/OP_NULLSAFE_CALL: dispatch against
// the receiver's own runtime class (not the call site's static class), so
// overriding a method in a subclass is honored. The site's inline cache
// short-circuits the hierarchy walk when the receiver's shape was seen
// here before; an undefined method falls through to __call.
func (vm *VM) callMethod(fr *CallFrame, instr *opcodes.Instruction, nullsafe bool) (ctrl, error) {
	name := fr.fn.Constants[instr.A].ToString()
	args := fr.popN(int(instr.B))
	target := fr.pop()
	if nullsafe && target.IsNull() {
		vm.relAll(args)
		fr.push(values.NewNull())
		return none()
	}
	if !target.IsObject() {
		vm.relAll(args)
		vm.rel(target)
		return throwValue(mustException(vm, errors.FatalError, "Call to a member function "+name+"() on "+target.TypeName()))
	}

	// finish releases the handler's own references once the call resolved;
	// the callee frame retained what it needs.
	finish := func(result *values.Value, ierr error) (ctrl, error) {
		vm.relAll(args)
		vm.rel(target)
		if ierr != nil {
			return vm.asCtrl(ierr)
		}
		fr.push(result)
		return none()
	}

	cache := vm.methodCacheAt(fr.fn, fr.pc-1)
	if shape := target.ObjectShape(); shape != nil {
		if fn, owner, ok := cache.lookup(shape.ID()); ok {
			result, ierr := vm.invoke(fn, owner+"::"+name, target, owner, args)
			return finish(result, ierr)
		}
	}

	class, err := vm.reg.GetClass(target.ObjectClassName())
	if err != nil {
		vm.relAll(args)
		vm.rel(target)
		return throwValue(mustException(vm, errors.FatalError, err.Error()))
	}
	fn, owner, ok := vm.findMethod(class, name)
	if !ok {
		if catcher, catcherOwner, hasCall := vm.findMethod(class, "__call"); hasCall {
			packed := values.NewArray()
			for _, a := range args {
				packed.ArrayAppend(a)
			}
			nameVal := values.NewString(name)
			result, ierr := vm.invoke(catcher, class.Name+"::__call", target, catcherOwner,
				[]*values.Value{nameVal, packed})
			vm.rel(nameVal)
			vm.rel(packed)
			return finish(result, ierr)
		}
		vm.relAll(args)
		vm.rel(target)
		return throwValue(mustException(vm, errors.UndefinedMethodError, "Call to undefined method "+class.Name+"::"+name+"()"))
	}
	if shape := target.ObjectShape(); shape != nil {
		cache.install(shape.ID(), fn, owner)
	}
	result, ierr := vm.invoke(fn, class.Name+"::"+name, target, owner, args)
	return finish(result, ierr)
}

// callStatic implements OP_CALL_STATIC (Class::method(...)). self:: and
// parent:: resolve against the calling frame's own class scope so
// parent::method() forwarding calls see the right ancestor; $this still
// carries through to a non-static target, matching PHP's forwarding-call
// semantics.
func (vm *VM) callStatic(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	combined := fr.fn.Constants[instr.A].ToString()
	className, method := staticCallTarget(combined)
	args := fr.popN(int(instr.B))

	switch className {
	case "self", "static":
		className = fr.class
	case "parent":
		cur, err := vm.reg.GetClass(fr.class)
		if err != nil {
			vm.relAll(args)
			return throwValue(mustException(vm, errors.FatalError, err.Error()))
		}
		className = cur.Parent
	}

	class, err := vm.reg.GetClass(className)
	if err != nil {
		vm.relAll(args)
		return throwValue(mustException(vm, errors.FatalError, err.Error()))
	}
	fn, owner, ok := vm.findMethod(class, method)
	if !ok {
		if catcher, catcherOwner, hasCall := vm.findMethod(class, "__callStatic"); hasCall {
			packed := values.NewArray()
			for _, a := range args {
				packed.ArrayAppend(a)
			}
			methodVal := values.NewString(method)
			result, ierr := vm.invoke(catcher, className+"::__callStatic", nil, catcherOwner,
				[]*values.Value{methodVal, packed})
			vm.rel(methodVal)
			vm.rel(packed)
			vm.relAll(args)
			if ierr != nil {
				return vm.asCtrl(ierr)
			}
			fr.push(result)
			return none()
		}
		vm.relAll(args)
		return throwValue(mustException(vm, errors.UndefinedMethodError, "Call to undefined method "+className+"::"+method+"()"))
	}
	var this *values.Value
	if !fn.IsStatic {
		this = fr.this
	}
	result, ierr := vm.invoke(fn, className+"::"+method, this, owner, args)
	vm.relAll(args)
	if ierr != nil {
		return vm.asCtrl(ierr)
	}
	fr.push(result)
	return none()
}

// callClosureOp implements OP_CLOSURE_CALL/OP_CALL_CLOSURE: the callee is a
// values.Closure sitting below its own arguments on the stack.
func (vm *VM) callClosureOp(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	args := fr.popN(int(instr.B))
	callee := fr.pop()
	result, err := vm.invokeClosure(callee, args)
	vm.relAll(args)
	vm.rel(callee)
	if err != nil {
		return vm.asCtrl(err)
	}
	fr.push(result)
	return none()
}

// invokeClosure runs any dynamic callee: a values.Closure (its bound $this
// and positionally-bound captures seeded into the new frame's locals after
// the slots of its parameters), a string naming a function, or an object
// whose class declares __invoke.
func (vm *VM) invokeClosure(v *values.Value, args []*values.Value) (*values.Value, error) {
	if v.IsString() {
		fn, ok := vm.reg.GetFunction(v.ToString())
		if !ok {
			return nil, vm.raiseFatal(errors.FatalError, "Call to undefined function "+v.ToString()+"()")
		}
		return vm.invoke(fn, v.ToString(), nil, "", args)
	}
	if v.IsObject() {
		class, err := vm.reg.GetClass(v.ObjectClassName())
		if err != nil {
			return nil, vm.raiseFatal(errors.FatalError, err.Error())
		}
		fn, owner, ok := vm.findMethod(class, "__invoke")
		if !ok {
			return nil, vm.raiseFatal(errors.TypeError, "Object of class "+class.Name+" is not callable")
		}
		return vm.invoke(fn, class.Name+"::__invoke", v, owner, args)
	}
	cd := v.ClosureData()
	if cd == nil {
		return nil, vm.raiseFatal(errors.FatalError, "Value not callable as a closure")
	}
	holder, ok := cd.Fn.(*closureProto)
	if !ok {
		return nil, vm.raiseFatal(errors.FatalError, "malformed closure")
	}
	if len(vm.frames) >= vm.cfg.MaxCallDepth {
		return nil, vm.raiseFatal(errors.FatalError, "allowed call stack depth exhausted")
	}
	fr := newCallFrame(holder.fn, cd.Name, cd.This, holder.class)
	vm.frames = append(vm.frames, fr)
	defer func() {
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.teardownFrame(fr)
	}()
	base := 0
	if cd.This != nil {
		base = 1
	}
	// Slot layout matches the compiled prototype: [$this,] parameters in
	// declaration order, then captures in capture-list order; setLocal
	// retains, so the closure's own bound references stay intact.
	if err := vm.bindParamsAt(fr, holder.fn, args, base); err != nil {
		return nil, err
	}
	captureBase := base + len(holder.fn.Parameters)
	for i, name := range cd.BoundOrder {
		fr.setLocal(uint16(captureBase+i), cd.BoundVars[name])
	}
	return vm.runFrame(fr)
}

// bindParamsAt is bindParams with the parameter slots starting at an
// explicit base, used by the closure path where $this is optional and the
// capture slots follow the parameters.
func (vm *VM) bindParamsAt(fr *CallFrame, fn *registry.Function, args []*values.Value, base int) error {
	if len(args) < fn.MinArgs {
		return vm.raiseFatal(errors.ArgumentCountError, "Too few arguments to closure")
	}
	for i, p := range fn.Parameters {
		slot := uint16(base + i)
		if p.IsVariadic {
			rest := values.NewArray()
			for _, a := range args[i:] {
				rest.ArrayAppend(a)
			}
			fr.setLocal(slot, rest)
			vm.rel(rest) // the slot holds its own reference now
			return nil
		}
		switch {
		case i < len(args):
			fr.setLocal(slot, args[i])
		case p.HasDefault:
			fr.setLocal(slot, p.DefaultValue)
		default:
			fr.setLocal(slot, values.NewNull())
		}
	}
	return nil
}

// newObjectOp implements OP_NEW_OBJECT.
func (vm *VM) newObjectOp(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	className := fr.fn.Constants[instr.A].ToString()
	args := fr.popN(int(instr.B))
	obj, err := vm.instantiate(className, args)
	vm.relAll(args)
	if err != nil {
		return vm.asCtrl(err)
	}
	fr.push(obj)
	return none()
}

// closureProto adapts a closure's *registry.Function body plus its defining
// class scope to values.CompiledFunction, so values.Closure (which cannot
// import registry) still carries enough to invoke it and to resolve
// self:: correctly if the closure was declared inside a method.
type closureProto struct {
	fn    *registry.Function
	class string
}

func (p *closureProto) FunctionName() string { return p.fn.Name }

// makeClosure implements OP_MAKE_CLOSURE: binds the B captured values (each
// already pushed by a preceding OP_CAPTURE_VAR) positionally into the new
// closure, starting right after its own parameter slots — the function
// prototype carries no capture-name list, so position is the only contract
// between the generator's capture order and the VM's bind order.
func (vm *VM) makeClosure(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	captured := fr.popN(int(instr.B))
	proto := fr.fn.FunctionProtos[instr.A]

	bound := make(map[string]*values.Value, len(captured))
	order := make([]string, len(captured))
	for i, v := range captured {
		key := strconv.Itoa(i)
		order[i] = key
		bound[key] = v
	}

	var this *values.Value
	if !proto.IsStatic && fr.this != nil {
		this = fr.this
		this.Retain() // the closure owns its bound $this
	}
	holder := &closureProto{fn: proto, class: fr.class}
	fr.push(values.NewClosure(holder, bound, order, this, proto.Name))
	return none()
}

// cloneObject implements OP_CLONE: a shallow per-property copy, PHP's
// default clone semantics (a __clone method, if declared, runs over the
// copy afterward).
func (vm *VM) cloneObject(v *values.Value) *values.Value {
	if !v.IsObject() {
		return v
	}
	className := v.ObjectClassName()
	class, err := vm.reg.GetClass(className)
	if err != nil {
		return v
	}
	shape, err := vm.reg.FinalizeClass(className)
	if err != nil {
		return v
	}
	clone := values.NewObject(shape)
	for _, name := range v.ObjectPropertyNames() {
		clone.ObjectSet(name, v.ObjectGet(name))
	}
	if fn, owner, ok := vm.findMethod(class, "__clone"); ok {
		_, _ = vm.invokeMethod(fn, owner, clone, nil)
	}
	return clone
}
