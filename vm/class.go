package vm

import (
	"strings"

	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// findMethod resolves a method by name against class and its ancestors,
// case-insensitively: compiler/class.go keys registry.Class.Methods by the
// declaration's original source case, while stdlib/exceptions.go's built-in
// exception classes key theirs lowercase, so an exact-match lookup would
// miss getMessage() on every Exception subclass.
func (vm *VM) findMethod(class *registry.Class, name string) (*registry.Function, string, bool) {
	lower := strings.ToLower(name)
	for class != nil {
		for key, fn := range class.Methods {
			if strings.ToLower(key) == lower {
				return fn, class.Name, true
			}
		}
		if class.Parent == "" {
			break
		}
		parent, err := vm.reg.GetClass(class.Parent)
		if err != nil {
			break
		}
		class = parent
	}
	return nil, "", false
}

// findConstructor resolves __construct the same case-insensitive way.
func (vm *VM) findConstructor(class *registry.Class) (*registry.Function, string, bool) {
	return vm.findMethod(class, "__construct")
}

// instantiate implements `new` (OP_NEW_OBJECT): finalize the class's shape,
// allocate the object with every declared property defaulted, seed declared
// defaults, then invoke __construct if the class (or an ancestor) has one.
func (vm *VM) instantiate(className string, args []*values.Value) (*values.Value, error) {
	class, err := vm.reg.GetClass(className)
	if err != nil {
		return nil, err
	}
	shape, err := vm.reg.FinalizeClass(class.Name)
	if err != nil {
		return nil, err
	}
	obj := values.NewObject(shape)
	vm.seedDefaults(obj, class)

	if ctor, ownerClass, ok := vm.findConstructor(class); ok {
		if _, err := vm.invokeMethod(ctor, ownerClass, obj, args); err != nil {
			vm.rel(obj)
			return nil, err
		}
	}
	return obj, nil
}

// seedDefaults walks class and its ancestors outermost-first so a child's
// default overwrites its parent's for a shadowed property name, matching
// the shape's own slot-reuse rule (registry.FinalizeClass).
func (vm *VM) seedDefaults(obj *values.Value, class *registry.Class) {
	var chain []*registry.Class
	for c := class; c != nil; {
		chain = append(chain, c)
		if c.Parent == "" {
			break
		}
		parent, err := vm.reg.GetClass(c.Parent)
		if err != nil {
			break
		}
		c = parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for name, prop := range chain[i].Properties {
			if prop.IsStatic {
				continue
			}
			if prop.DefaultValue != nil {
				obj.ObjectSet(name, prop.DefaultValue)
			}
		}
	}
}

// resolveInstanceOf reports whether v is an instance of typeName, handling
// both user classes (registry.IsInstanceOf) and interfaces.
func (vm *VM) resolveInstanceOf(v *values.Value, typeName string) bool {
	if !v.IsObject() {
		return false
	}
	return vm.reg.IsInstanceOf(v.ObjectClassName(), typeName)
}

// staticCallTarget splits the combined "Class::method" constant OP_CALL_STATIC
// addresses (compiler/expr.go's compileStaticCall emits one string, not two
// separate constant slots).
func staticCallTarget(combined string) (class, method string) {
	idx := strings.Index(combined, "::")
	if idx < 0 {
		return combined, ""
	}
	return combined[:idx], combined[idx+2:]
}
