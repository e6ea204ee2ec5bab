package compiler

import (
	"fmt"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// Result is everything Compile produces from one ast.Root: the top-level
// code as Main, plus every function/class/interface/trait declared
// anywhere in the program, ready for registry.Registry to absorb before
// the vm package runs Main.
type Result struct {
	Main       *registry.Function
	Functions  map[string]*registry.Function
	Classes    map[string]*registry.Class
	Interfaces map[string]*registry.Interface
	Traits     map[string]*registry.Trait

	// GlobalNames maps a global-scope variable name to its slot, the same
	// numbering OP_PUSH_GLOBAL/OP_STORE_GLOBAL address by index; the vm
	// package needs the name side of this table for name-based builtins
	// (extract, compact, get_defined_vars) that bytecode never reaches.
	GlobalNames map[string]uint16
}

// Compiler lowers an ast.Root into bytecode. A single Compiler instance is
// not safe for concurrent use, but nothing about it is safe to reuse
// across Root values that don't share a global scope either, since
// globalSlots accumulates across the whole Compile call.
type Compiler struct {
	globalSlots    map[string]uint16
	nextGlobalSlot uint16

	result *Result
}

// New constructs a Compiler ready for a single Compile call.
func New() *Compiler {
	return &Compiler{globalSlots: make(map[string]uint16)}
}

// Compile lowers root into a Result. Function and class calls resolve by
// name at run time (PHP allows calling a function declared later in the
// same file, so forward references are ordinary), which makes
// this is a single pass: declarations are compiled into their own
// registry.Function/registry.Class value and collected, everything else is
// appended to Main's instruction stream in source order.
func (c *Compiler) Compile(root *ast.Root) (*Result, error) {
	c.result = &Result{
		Functions:  make(map[string]*registry.Function),
		Classes:    make(map[string]*registry.Class),
		Interfaces: make(map[string]*registry.Interface),
		Traits:     make(map[string]*registry.Trait),
	}

	main := newFuncContext()
	main.isGlobalScope = true

	for _, stmt := range root.Stmts {
		if err := c.compileTopLevel(main, stmt); err != nil {
			return nil, err
		}
	}
	main.emit(opcodes.OP_RET_VOID, 0, 0, main.lastLine, 0)

	c.result.Main = c.finish(main, "{main}", nil)
	c.result.GlobalNames = c.globalSlots
	return c.result, nil
}

// compileTopLevel handles the statements that only mean something at
// program scope (declarations); everything else is an ordinary statement
// appended to fc.
func (c *Compiler) compileTopLevel(fc *funcContext, stmt ast.Statement) error {
	switch n := stmt.(type) {
	case *ast.FunctionDecl:
		fn, err := c.compileFunction(n.Name, n.Params, n.Body, "", false)
		if err != nil {
			return err
		}
		c.result.Functions[n.Name] = fn
		return nil
	case *ast.ClassDecl:
		return c.compileClassDecl(n)
	case *ast.InterfaceDecl:
		return c.compileInterfaceDecl(n)
	case *ast.TraitDecl:
		return c.compileTraitDecl(n)
	case *ast.EnumDecl:
		return c.compileEnumDecl(n)
	default:
		return c.compileStmt(fc, stmt)
	}
}

// finish converts a funcContext's accumulated state into a registry.Function.
func (c *Compiler) finish(fc *funcContext, name string, params []*registry.Parameter) *registry.Function {
	instrs := make([]*opcodes.Instruction, len(fc.instructions))
	for i := range fc.instructions {
		instr := fc.instructions[i]
		instrs[i] = &instr
	}
	minArgs, maxArgs := 0, len(params)
	for _, p := range params {
		if !p.HasDefault && !p.IsVariadic {
			minArgs++
		}
	}
	return &registry.Function{
		Name:           name,
		Parameters:     params,
		Instructions:   instrs,
		Constants:      fc.constants,
		LocalCount:     int(fc.nextLocal),
		ArgCount:       len(params),
		MinArgs:        minArgs,
		MaxArgs:        maxArgs,
		MaxStack:       fc.maxStack,
		ExceptionTable: fc.exceptionTable,
		SwitchTables:   fc.switchTables,
		LineTable:      fc.lineTable,
		FunctionProtos: fc.functionProtos,
	}
}

// compileFunction compiles one function/method/closure body. className is
// non-empty when compiling a method, so `self`/`$this` resolve correctly;
// isMethod reserves local slot 0 for $this. captures pre-assigns slots for
// a closure's captured variables, in capture-list order, immediately after
// the parameters — the slot layout make_closure's bind sequence relies on.
func (c *Compiler) compileFunction(name string, astParams []*ast.Parameter, body *ast.Block, class string, isMethod bool, captures ...string) (*registry.Function, error) {
	fc := newFuncContext()
	fc.class = class
	if isMethod {
		fc.slotFor("this")
	}
	for _, p := range astParams {
		fc.slotFor(p.Name[1:])
	}
	for _, capName := range captures {
		fc.slotFor(capName)
	}
	params := convertParams(astParams)
	if body != nil {
		for _, s := range body.Stmts {
			if err := c.compileStmt(fc, s); err != nil {
				return nil, fmt.Errorf("compiling %s: %w", name, err)
			}
		}
	}
	fc.emit(opcodes.OP_PUSH_NULL, 0, 0, fc.lastLine, 1)
	fc.emit(opcodes.OP_RET, 0, 0, fc.lastLine, -1)
	return c.finish(fc, name, params), nil
}

// constantFold evaluates literal-only expressions at compile time, used
// for parameter default values and class constant/property defaults, which
// must be available without executing bytecode (for reflection and for the
// registry's default-property snapshot on `new`).
func constantFold(e ast.Expression) (*values.Value, bool) {
	switch n := e.(type) {
	case *ast.IntLiteral:
		return values.NewInt(n.Value), true
	case *ast.FloatLiteral:
		return values.NewFloat(n.Value), true
	case *ast.StringLiteral:
		return values.NewString(n.Value), true
	case *ast.BoolLiteral:
		return values.NewBool(n.Value), true
	case *ast.NullLiteral:
		return values.NewNull(), true
	case *ast.UnaryExpr:
		if v, ok := constantFold(n.Operand); ok && n.Op == "-" {
			if v.IsInt() {
				return values.NewInt(-v.ToInt()), true
			}
			return values.NewFloat(-v.ToFloat()), true
		}
		return nil, false
	case *ast.ArrayInit:
		arr := values.NewArray()
		for _, el := range n.Elements {
			v, ok := constantFold(el.Value)
			if !ok {
				return nil, false
			}
			if el.Key != nil {
				k, ok := constantFold(el.Key)
				if !ok {
					return nil, false
				}
				arr.ArraySet(k, v)
			} else {
				arr.ArrayAppend(v)
			}
		}
		return arr, true
	default:
		return nil, false
	}
}

// globalSlot returns the shared slot for a global-scope variable name,
// allocating one on first reference. Main's own local slots ARE the
// program's globals; any other function reaches the same storage only
// through an explicit `global` statement.
func (c *Compiler) globalSlot(name string) uint16 {
	if slot, ok := c.globalSlots[name]; ok {
		return slot
	}
	slot := c.nextGlobalSlot
	c.globalSlots[name] = slot
	c.nextGlobalSlot++
	return slot
}
