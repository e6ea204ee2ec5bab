// Package stdlib implements the builtin calling convention plus the
// built-in functions and exception classes the engine needs to run real
// programs end to end. The full PHP standard library surface (string/
// array/math/hash/file/date functions in their entirety) belongs to a
// separate runtime layer; this package wires in the core set the VM,
// compiler, and driver stack exercise directly.
package stdlib

import (
	"fmt"

	"github.com/wudi/heyvm/heap"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// Entry is one builtin: its dispatch id (used by the generator's
// call_builtin opcode when the name is known at compile time), name,
// arity bounds, and Go implementation.
type Entry struct {
	ID      uint16
	Name    string
	MinArgs int
	MaxArgs int // -1 for variadic
	Fn      registry.BuiltinImplementation
}

var table []*Entry
var byName = map[string]*Entry{}
var byID = map[uint16]*Entry{}

func define(name string, min, max int, fn registry.BuiltinImplementation) {
	e := &Entry{ID: uint16(len(table)), Name: name, MinArgs: min, MaxArgs: max, Fn: fn}
	table = append(table, e)
	byName[name] = e
	byID[e.ID] = e
}

// IDByName returns a builtin's dispatch id for the generator's
// compile-time call_builtin resolution.
func IDByName(name string) (uint16, bool) {
	e, ok := byName[name]
	if !ok {
		return 0, false
	}
	return e.ID, true
}

// ByID returns a builtin entry by dispatch id, the VM's call_builtin path.
func ByID(id uint16) (*Entry, bool) {
	e, ok := byID[id]
	return e, ok
}

// ByName returns a builtin entry by name, used for the generic call opcode
// and for reflection-style lookups (function_exists, etc).
func ByName(name string) (*Entry, bool) {
	e, ok := byName[name]
	return e, ok
}

// Register installs every builtin into reg as a registry.Function, so
// user code can call builtins through the same Function lookup path as
// user-defined functions.
func Register(reg *registry.Registry) error {
	for _, e := range table {
		fn := &registry.Function{
			Name:      e.Name,
			IsBuiltin: true,
			Builtin:   e.Fn,
			MinArgs:   e.MinArgs,
			MaxArgs:   e.MaxArgs,
		}
		if err := reg.RegisterFunction(fn); err != nil {
			return fmt.Errorf("stdlib: registering %s: %w", e.Name, err)
		}
	}
	if err := registerExceptionClasses(reg); err != nil {
		return err
	}
	// stdClass declares nothing; every property on it is dynamic.
	return reg.RegisterClass(&registry.Class{
		Name:       "stdClass",
		Properties: map[string]*registry.Property{},
		Methods:    map[string]*registry.Function{},
		Constants:  map[string]*registry.ClassConstant{},
	})
}

func argOr(args []*values.Value, i int, def *values.Value) *values.Value {
	if i < len(args) && args[i] != nil {
		return args[i]
	}
	return def
}

func init() {
	define("echo", 0, -1, func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		for _, a := range args {
			if err := ctx.WriteOutput(a); err != nil {
				return nil, err
			}
		}
		return values.NewNull(), nil
	})

	define("print", 1, 1, func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		if err := ctx.WriteOutput(argOr(args, 0, values.NewNull())); err != nil {
			return nil, err
		}
		return values.NewInt(1), nil
	})

	define("var_dump", 0, -1, func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		for _, a := range args {
			if err := ctx.WriteOutput(values.NewString(a.VarDump() + "\n")); err != nil {
				return nil, err
			}
		}
		return values.NewNull(), nil
	})

	define("print_r", 1, 2, func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		s := argOr(args, 0, values.NewNull()).PrintR()
		if len(args) > 1 && args[1].ToBool() {
			return values.NewString(s), nil
		}
		if err := ctx.WriteOutput(values.NewString(s)); err != nil {
			return nil, err
		}
		return values.NewBool(true), nil
	})

	define("gettype", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		return values.NewString(argOr(args, 0, values.NewNull()).TypeName()), nil
	})

	define("intdiv", 2, 2, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		a, b := args[0].ToInt(), args[1].ToInt()
		if b == 0 {
			return nil, values.ErrDivisionByZero
		}
		return values.NewInt(a / b), nil
	})

	define("abs", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		v := args[0]
		if v.IsInt() {
			i := v.ToInt()
			if i < 0 {
				i = -i
			}
			return values.NewInt(i), nil
		}
		f := v.ToFloat()
		if f < 0 {
			f = -f
		}
		return values.NewFloat(f), nil
	})

	define("strlen", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		return values.NewInt(int64(len(args[0].ToString()))), nil
	})

	define("count", 1, 2, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		return values.NewInt(int64(args[0].ArrayCount())), nil
	})

	define("spl_object_id", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		id, _ := args[0].ObjectIdentity()
		return values.NewInt(int64(id)), nil
	})

	define("memory_get_usage", 0, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		return values.NewInt(heap.LiveBoxes() * 64), nil
	})

	define("gc_collect_cycles", 0, 0, func(ctx registry.BuiltinCallContext, _ []*values.Value) (*values.Value, error) {
		if ctx == nil {
			return values.NewInt(0), nil
		}
		return values.NewInt(int64(ctx.CollectCycles())), nil
	})

	define("is_numeric", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		v := args[0]
		return values.NewBool(v.IsNumeric() || v.IsNumericString()), nil
	})
}
