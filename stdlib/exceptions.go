package stdlib

import (
	"fmt"

	"github.com/wudi/heyvm/heap"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// exceptionClass describes one node of the Throwable hierarchy: its name
// and its parent's name. Every one of these is a plain PHP class carrying message/code/
// previous/file/line properties and builtin methods, not a host-language
// exception — the VM only ever sees them as *values.Value objects flowing
// through the exception table.
type exceptionClass struct {
	name, parent string
}

var exceptionClasses = []exceptionClass{
	{"Throwable", ""},
	{"Exception", "Throwable"},
	{"Error", "Throwable"},
	{"TypeError", "Error"},
	{"ValueError", "Error"},
	{"ArithmeticError", "Error"},
	{"DivisionByZeroError", "ArithmeticError"},
	{"ArgumentCountError", "TypeError"},
	{"UndefinedMethodError", "Error"},
	{"UndefinedPropertyError", "Error"},
	{"ErrorException", "Exception"},
	{"RuntimeException", "Exception"},
	{"LogicException", "Exception"},
	{"InvalidArgumentException", "LogicException"},
	{"OutOfRangeException", "LogicException"},
	{"OutOfBoundsException", "RuntimeException"},
	{"UnexpectedValueException", "RuntimeException"},
}

// receiverAndArgs is the convention this package uses for builtin methods:
// since registry.BuiltinImplementation carries no separate receiver
// parameter, the receiver travels as args[0] followed by the call's own
// arguments, the same shape a PHP method desugars to internally.
func receiverAndArgs(args []*values.Value) (*values.Value, []*values.Value) {
	if len(args) == 0 {
		return values.NewNull(), nil
	}
	return args[0], args[1:]
}

var exceptionProperties = []string{"message", "code", "previous", "file", "line"}

// ownedProp reads a property and retains it, since builtins return owned
// references: the caller releases what it receives, and the property edge
// keeps its own.
func ownedProp(this *values.Value, name string) *values.Value {
	v := this.ObjectGet(name)
	v.Retain()
	return v
}

func registerExceptionClasses(reg *registry.Registry) error {
	for _, ec := range exceptionClasses {
		props := make(map[string]*registry.Property, len(exceptionProperties))
		for _, name := range exceptionProperties {
			props[name] = &registry.Property{Name: name, Visibility: "protected", DefaultValue: values.NewNull()}
		}
		class := &registry.Class{
			Name:       ec.name,
			Parent:     ec.parent,
			Properties: props,
			Methods:    exceptionMethods(),
		}
		if err := reg.RegisterClass(class); err != nil {
			return fmt.Errorf("stdlib: registering class %s: %w", ec.name, err)
		}
	}
	return nil
}

func exceptionMethods() map[string]*registry.Function {
	construct := &registry.Function{
		Name:      "__construct",
		IsBuiltin: true,
		MinArgs:   1,
		MaxArgs:   4,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, rest := receiverAndArgs(args)
			this.ObjectSet("message", argOr(rest, 0, values.NewString("")))
			this.ObjectSet("code", argOr(rest, 1, values.NewInt(0)))
			this.ObjectSet("previous", argOr(rest, 2, values.NewNull()))
			return values.NewNull(), nil
		},
	}
	getMessage := &registry.Function{
		Name: "getMessage", IsBuiltin: true, MinArgs: 1, MaxArgs: 1,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, _ := receiverAndArgs(args)
			return ownedProp(this, "message"), nil
		},
	}
	getCode := &registry.Function{
		Name: "getCode", IsBuiltin: true, MinArgs: 1, MaxArgs: 1,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, _ := receiverAndArgs(args)
			return ownedProp(this, "code"), nil
		},
	}
	getPrevious := &registry.Function{
		Name: "getPrevious", IsBuiltin: true, MinArgs: 1, MaxArgs: 1,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, _ := receiverAndArgs(args)
			return ownedProp(this, "previous"), nil
		},
	}
	getFile := &registry.Function{
		Name: "getFile", IsBuiltin: true, MinArgs: 1, MaxArgs: 1,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, _ := receiverAndArgs(args)
			return ownedProp(this, "file"), nil
		},
	}
	getLine := &registry.Function{
		Name: "getLine", IsBuiltin: true, MinArgs: 1, MaxArgs: 1,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, _ := receiverAndArgs(args)
			return ownedProp(this, "line"), nil
		},
	}
	toString := &registry.Function{
		Name: "__toString", IsBuiltin: true, MinArgs: 1, MaxArgs: 1,
		Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			this, _ := receiverAndArgs(args)
			o := this.Deref()
			return values.NewString(fmt.Sprintf("%s: %s", o.TypeName(), this.ObjectGet("message").ToString())), nil
		},
	}
	return map[string]*registry.Function{
		"__construct": construct,
		"getmessage":  getMessage,
		"getcode":     getCode,
		"getprevious": getPrevious,
		"getfile":     getFile,
		"getline":     getLine,
		"__tostring":  toString,
	}
}

// NewException constructs a Throwable instance of className with message,
// the convenience the vm package uses to raise a recoverable error object
// without duplicating the class lookup/shape finalization dance.
func NewException(reg *registry.Registry, className, message string) (*values.Value, error) {
	class, err := reg.GetClass(className)
	if err != nil {
		return nil, err
	}
	shape, err := reg.FinalizeClass(class.Name)
	if err != nil {
		return nil, err
	}
	obj := values.NewObject(shape)
	msg := values.NewString(message)
	obj.ObjectSet("message", msg) // the property edge retains it
	msg.Release(heap.Active())
	obj.ObjectSet("code", values.NewInt(0))
	obj.ObjectSet("previous", values.NewNull())
	return obj, nil
}
