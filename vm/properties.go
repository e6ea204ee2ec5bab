package vm

import (
	"strings"

	"github.com/wudi/heyvm/errors"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// getPropOp implements OP_GET_PROP/OP_NULLSAFE_GET through the site's
// inline cache: a shape hit reads the slot directly; a miss resolves
// through the shape table and installs the result. Undefined properties
// fall through to __get when the class defines it, otherwise they raise
// UndefinedPropertyError.
func (vm *VM) getPropOp(fr *CallFrame, instr *opcodes.Instruction, nullsafe bool) (ctrl, error) {
	obj := fr.pop()
	if nullsafe && obj.IsNull() {
		fr.push(values.NewNull())
		return none()
	}
	name := fr.fn.Constants[instr.A].ToString()
	if !obj.IsObject() {
		vm.rel(obj)
		return throwValue(mustException(vm, errors.TypeError, "Attempt to read property \""+name+"\" on "+obj.TypeName()))
	}

	shape := obj.ObjectShape()
	cache := vm.propCacheAt(fr.fn, fr.pc-1)
	if slot, ok := cache.lookup(shape.ID()); ok {
		fr.pushBorrowed(obj.ObjectGetSlot(slot))
		vm.rel(obj)
		return none()
	}
	if slot, ok := shape.SlotFor(name); ok {
		cache.install(shape.ID(), slot)
		fr.pushBorrowed(obj.ObjectGetSlot(slot))
		vm.rel(obj)
		return none()
	}
	if obj.ObjectHasProp(name) {
		fr.pushBorrowed(obj.ObjectGet(name))
		vm.rel(obj)
		return none()
	}

	class, err := vm.reg.GetClass(obj.ObjectClassName())
	if err == nil {
		if getter, owner, ok := vm.findMethod(class, "__get"); ok {
			nameVal := values.NewString(name)
			result, ierr := vm.invoke(getter, class.Name+"::__get", obj, owner, []*values.Value{nameVal})
			vm.rel(nameVal)
			vm.rel(obj)
			if ierr != nil {
				return vm.asCtrl(ierr)
			}
			fr.push(result)
			return none()
		}
	}
	className := obj.ObjectClassName()
	vm.rel(obj)
	return throwValue(mustException(vm, errors.UndefinedPropertyError,
		"Undefined property: "+className+"::$"+name))
}

// setPropOp implements OP_SET_PROP: readonly enforcement first, then the
// inline-cache/declared-slot path, then dynamic properties, with __set as
// the fallback for a property the instance doesn't carry at all.
func (vm *VM) setPropOp(fr *CallFrame, instr *opcodes.Instruction) (ctrl, error) {
	value, obj := fr.pop(), fr.pop()
	name := fr.fn.Constants[instr.A].ToString()
	if !obj.IsObject() {
		vm.rel(value)
		vm.rel(obj)
		return throwValue(mustException(vm, errors.TypeError, "Attempt to assign property \""+name+"\" on "+obj.TypeName()))
	}

	if prop, declaring, ok := vm.findProperty(obj.ObjectClassName(), name); ok && prop.IsReadonly {
		if err := vm.checkReadonlyWrite(fr, obj, declaring, name); err != nil {
			vm.rel(value)
			vm.rel(obj)
			return vm.asCtrl(err)
		}
	}

	// The container write retains value; the handler's own reference
	// transfers back to the stack as the assignment expression's result.
	shape := obj.ObjectShape()
	cache := vm.propCacheAt(fr.fn, fr.pc-1)
	if slot, ok := cache.lookup(shape.ID()); ok {
		obj.ObjectSetSlot(slot, value)
		fr.push(value)
		vm.rel(obj)
		return none()
	}
	if slot, ok := shape.SlotFor(name); ok {
		cache.install(shape.ID(), slot)
		obj.ObjectSetSlot(slot, value)
		fr.push(value)
		vm.rel(obj)
		return none()
	}
	if obj.ObjectHasProp(name) {
		obj.ObjectSet(name, value)
		fr.push(value)
		vm.rel(obj)
		return none()
	}

	class, err := vm.reg.GetClass(obj.ObjectClassName())
	if err == nil {
		if setter, owner, ok := vm.findMethod(class, "__set"); ok {
			nameVal := values.NewString(name)
			_, ierr := vm.invoke(setter, class.Name+"::__set", obj, owner, []*values.Value{nameVal, value})
			vm.rel(nameVal)
			vm.rel(obj)
			if ierr != nil {
				vm.rel(value)
				return vm.asCtrl(ierr)
			}
			fr.push(value)
			return none()
		}
	}
	// No declaration, no __set: an ordinary dynamic property (stdClass et al).
	obj.ObjectSet(name, value)
	fr.push(value)
	vm.rel(obj)
	return none()
}

// findProperty resolves a property's declaration metadata against the
// class and its ancestors, returning the declaring class's name alongside.
func (vm *VM) findProperty(className, name string) (*registry.Property, string, bool) {
	class, err := vm.reg.GetClass(className)
	if err != nil {
		return nil, "", false
	}
	for class != nil {
		if prop, ok := class.Properties[name]; ok {
			return prop, class.Name, true
		}
		if class.Parent == "" {
			break
		}
		parent, perr := vm.reg.GetClass(class.Parent)
		if perr != nil {
			break
		}
		class = parent
	}
	return nil, "", false
}

// checkReadonlyWrite enforces readonly semantics: the one permitted write
// is initialization from inside the declaring class's own scope while the
// property is still unset. Everything else is an Error.
func (vm *VM) checkReadonlyWrite(fr *CallFrame, obj *values.Value, declaring, name string) error {
	insideDeclaring := fr.class != "" && strings.EqualFold(fr.class, declaring)
	if insideDeclaring && obj.ObjectGet(name).IsNull() {
		return nil
	}
	return vm.raiseFatal(errors.TypeError,
		"Cannot modify readonly property "+declaring+"::$"+name)
}

// toStringOp implements OP_TO_STRING, routing objects through __toString
// when their class declares it.
func (vm *VM) toStringOp(fr *CallFrame) (ctrl, error) {
	v := fr.pop()
	if v.IsObject() {
		if class, err := vm.reg.GetClass(v.ObjectClassName()); err == nil {
			if fn, owner, ok := vm.findMethod(class, "__toString"); ok {
				result, ierr := vm.invoke(fn, class.Name+"::__toString", v, owner, nil)
				vm.rel(v)
				if ierr != nil {
					return vm.asCtrl(ierr)
				}
				fr.push(values.NewString(result.ToString()))
				vm.rel(result)
				return none()
			}
		}
		className := v.ObjectClassName()
		vm.rel(v)
		return throwValue(mustException(vm, errors.TypeError,
			"Object of class "+className+" could not be converted to string"))
	}
	fr.push(values.NewString(v.ToString()))
	vm.rel(v)
	return none()
}
