package compiler

import (
	"fmt"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/stdlib"
	"github.com/wudi/heyvm/values"
)

// varAccess picks local vs global addressing for a variable reference: main
// IS the global scope, and any other function only reaches global storage
// through an explicit `global` declaration.
func (c *Compiler) varAccess(fc *funcContext, name string) (load, store opcodes.Opcode, slot uint16) {
	if fc.isGlobalScope {
		return opcodes.OP_PUSH_GLOBAL, opcodes.OP_STORE_GLOBAL, c.globalSlot(name)
	}
	if slot, ok := fc.globalNames[name]; ok {
		return opcodes.OP_PUSH_GLOBAL, opcodes.OP_STORE_GLOBAL, slot
	}
	return opcodes.OP_PUSH_LOCAL, opcodes.OP_STORE_LOCAL, fc.slotFor(name)
}

func (c *Compiler) line(n ast.Node) uint32 { return uint32(n.GetPosition().Line) }

// compileExpr lowers e, leaving exactly one value on the stack.
func (c *Compiler) compileExpr(fc *funcContext, e ast.Expression) error {
	line := c.line(e)
	switch n := e.(type) {
	case *ast.IntLiteral:
		fc.emit(opcodes.OP_PUSH_CONST, fc.addConstant(values.NewInt(n.Value)), 0, line, 1)
	case *ast.FloatLiteral:
		fc.emit(opcodes.OP_PUSH_CONST, fc.addConstant(values.NewFloat(n.Value)), 0, line, 1)
	case *ast.StringLiteral:
		fc.emit(opcodes.OP_PUSH_CONST, fc.addConstant(values.NewString(n.Value)), 0, line, 1)
	case *ast.BoolLiteral:
		if n.Value {
			fc.emit(opcodes.OP_PUSH_TRUE, 0, 0, line, 1)
		} else {
			fc.emit(opcodes.OP_PUSH_FALSE, 0, 0, line, 1)
		}
	case *ast.NullLiteral:
		fc.emit(opcodes.OP_PUSH_NULL, 0, 0, line, 1)
	case *ast.InterpolatedString:
		for _, part := range n.Parts {
			if err := c.compileExpr(fc, part); err != nil {
				return err
			}
		}
		fc.emit(opcodes.OP_INTERPOLATE, uint16(len(n.Parts)), 0, line, -(len(n.Parts) - 1))
	case *ast.Variable:
		load, _, slot := c.varAccess(fc, n.Name[1:])
		fc.emit(load, slot, 0, line, 1)
	case *ast.Assignment:
		return c.compileAssignment(fc, n)
	case *ast.BinaryExpr:
		return c.compileBinary(fc, n)
	case *ast.UnaryExpr:
		return c.compileUnary(fc, n)
	case *ast.PostfixExpr:
		return c.compilePostfix(fc, n)
	case *ast.TernaryExpr:
		return c.compileTernary(fc, n)
	case *ast.CoalesceExpr:
		if err := c.compileExpr(fc, n.LHS); err != nil {
			return err
		}
		if err := c.compileExpr(fc, n.RHS); err != nil {
			return err
		}
		fc.emit(opcodes.OP_COALESCE, 0, 0, line, -1)
	case *ast.PipeExpr:
		return c.compilePipe(fc, n)
	case *ast.FunctionCall:
		return c.compileFunctionCall(fc, n)
	case *ast.MethodCall:
		return c.compileMethodCall(fc, n)
	case *ast.StaticCall:
		return c.compileStaticCall(fc, n)
	case *ast.ArrayInit:
		return c.compileArrayInit(fc, n)
	case *ast.ArrayAccess:
		if n.Index == nil {
			return fmt.Errorf("line %d: cannot read []-append as a value", line)
		}
		if err := c.compileExpr(fc, n.Target); err != nil {
			return err
		}
		if err := c.compileExpr(fc, n.Index); err != nil {
			return err
		}
		fc.emit(opcodes.OP_ARRAY_GET, 0, 0, line, -1)
	case *ast.PropertyAccess:
		return c.compilePropertyGet(fc, n)
	case *ast.ObjectInstantiation:
		return c.compileNew(fc, n)
	case *ast.CloneExpr:
		return c.compileClone(fc, n)
	case *ast.InstanceofExpr:
		if err := c.compileExpr(fc, n.Target); err != nil {
			return err
		}
		fc.emit(opcodes.OP_INSTANCEOF, fc.addConstant(values.NewString(n.Class)), 0, line, 0)
	case *ast.Closure:
		return c.compileClosure(fc, n)
	case *ast.ArrowFunction:
		return c.compileArrowFunction(fc, n)
	default:
		return fmt.Errorf("line %d: compiler: unsupported expression %T", line, e)
	}
	return nil
}

func (c *Compiler) compileAssignment(fc *funcContext, n *ast.Assignment) error {
	line := c.line(n)
	if n.Op == "=" {
		return c.compileStore(fc, n.Target, func() error { return c.compileExpr(fc, n.Value) })
	}
	if n.Op == "??=" {
		// ??= assigns only when the target is actually null (not merely
		// falsy), so the branch is driven by IS_NULL rather than JZ/JNZ on
		// the raw value the way Coalesce's read-only form can get away with.
		if err := c.compileExpr(fc, n.Target); err != nil {
			return err
		}
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
		fc.emit(opcodes.OP_IS_NULL, 0, 0, line, 0)
		skip := fc.emit(opcodes.OP_JZ, 0, 0, line, -1)
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
		if err := c.compileStore(fc, n.Target, func() error { return c.compileExpr(fc, n.Value) }); err != nil {
			return err
		}
		fc.patchTarget(skip, fc.pc())
		return nil
	}
	op := n.Op[:len(n.Op)-1] // strip trailing "="
	return c.compileStore(fc, n.Target, func() error {
		if err := c.compileExpr(fc, n.Target); err != nil {
			return err
		}
		if err := c.compileExpr(fc, n.Value); err != nil {
			return err
		}
		return c.emitBinaryOp(fc, op, line)
	})
}

// compileStore writes the value emitValue produces into target, leaving
// that value on the stack as the assignment expression's result. Composite
// targets (array/property) are re-evaluated once for the write regardless
// of whether emitValue already read them for a compound operator — the
// generator does not attempt to cache their array/object reference across
// the read and the write.
func (c *Compiler) compileStore(fc *funcContext, target ast.Expression, emitValue func() error) error {
	line := c.line(target)
	switch t := target.(type) {
	case *ast.Variable:
		if err := emitValue(); err != nil {
			return err
		}
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
		_, store, slot := c.varAccess(fc, t.Name[1:])
		fc.emit(store, slot, 0, line, -1)
		return nil
	case *ast.ArrayAccess:
		// Push order array, [key,] value: ARRAY_SET/ARRAY_PUSH consume all
		// three/two and push the stored value back as their result, so the
		// assignment expression's value falls out with no extra shuffling.
		if err := c.compileExpr(fc, t.Target); err != nil {
			return err
		}
		if t.Index == nil {
			if err := emitValue(); err != nil {
				return err
			}
			fc.emit(opcodes.OP_ARRAY_PUSH, 0, 0, line, -1)
			return nil
		}
		if err := c.compileExpr(fc, t.Index); err != nil {
			return err
		}
		if err := emitValue(); err != nil {
			return err
		}
		fc.emit(opcodes.OP_ARRAY_SET, 0, 0, line, -2)
		return nil
	case *ast.PropertyAccess:
		if err := c.compileExpr(fc, t.Target); err != nil {
			return err
		}
		if err := emitValue(); err != nil {
			return err
		}
		fc.emit(opcodes.OP_SET_PROP, fc.addConstant(values.NewString(t.Property)), 0, line, -1)
		return nil
	default:
		return fmt.Errorf("line %d: invalid assignment target %T", line, target)
	}
}

func (c *Compiler) emitBinaryOp(fc *funcContext, op string, line uint32) error {
	switch op {
	case "+":
		fc.emit(opcodes.OP_ADD, 0, 0, line, -1)
	case "-":
		fc.emit(opcodes.OP_SUB, 0, 0, line, -1)
	case "*":
		fc.emit(opcodes.OP_MUL, 0, 0, line, -1)
	case "/":
		fc.emit(opcodes.OP_DIV, 0, 0, line, -1)
	case "%":
		fc.emit(opcodes.OP_MOD, 0, 0, line, -1)
	case "**":
		fc.emit(opcodes.OP_POW, 0, 0, line, -1)
	case ".":
		fc.emit(opcodes.OP_CONCAT, 0, 0, line, -1)
	case "&":
		fc.emit(opcodes.OP_BIT_AND, 0, 0, line, -1)
	case "|":
		fc.emit(opcodes.OP_BIT_OR, 0, 0, line, -1)
	case "^":
		fc.emit(opcodes.OP_BIT_XOR, 0, 0, line, -1)
	case "<<":
		fc.emit(opcodes.OP_SHL, 0, 0, line, -1)
	case ">>":
		fc.emit(opcodes.OP_SHR, 0, 0, line, -1)
	case "==":
		fc.emit(opcodes.OP_EQ, 0, 0, line, -1)
	case "!=", "<>":
		fc.emit(opcodes.OP_NEQ, 0, 0, line, -1)
	case "===":
		fc.emit(opcodes.OP_IDENTICAL, 0, 0, line, -1)
	case "!==":
		fc.emit(opcodes.OP_NOT_IDENTICAL, 0, 0, line, -1)
	case "<":
		fc.emit(opcodes.OP_LT, 0, 0, line, -1)
	case "<=":
		fc.emit(opcodes.OP_LE, 0, 0, line, -1)
	case ">":
		fc.emit(opcodes.OP_GT, 0, 0, line, -1)
	case ">=":
		fc.emit(opcodes.OP_GE, 0, 0, line, -1)
	case "<=>":
		fc.emit(opcodes.OP_SPACESHIP, 0, 0, line, -1)
	default:
		return fmt.Errorf("line %d: unsupported operator %q", line, op)
	}
	return nil
}

func (c *Compiler) compileBinary(fc *funcContext, n *ast.BinaryExpr) error {
	line := c.line(n)
	if n.Op == "&&" || n.Op == "and" {
		return c.compileShortCircuit(fc, n, true)
	}
	if n.Op == "||" || n.Op == "or" {
		return c.compileShortCircuit(fc, n, false)
	}
	if err := c.compileExpr(fc, n.LHS); err != nil {
		return err
	}
	if err := c.compileExpr(fc, n.RHS); err != nil {
		return err
	}
	return c.emitBinaryOp(fc, n.Op, line)
}

// compileShortCircuit lowers && and || without evaluating the RHS unless
// necessary: `isAnd` picks JZ (skip RHS once false) vs JNZ (skip once true).
func (c *Compiler) compileShortCircuit(fc *funcContext, n *ast.BinaryExpr, isAnd bool) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.LHS); err != nil {
		return err
	}
	fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
	var skip int
	if isAnd {
		skip = fc.emit(opcodes.OP_JZ, 0, 0, line, -1)
	} else {
		skip = fc.emit(opcodes.OP_JNZ, 0, 0, line, -1)
	}
	fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	if err := c.compileExpr(fc, n.RHS); err != nil {
		return err
	}
	fc.emit(opcodes.OP_TO_BOOL, 0, 0, line, 0)
	fc.patchTarget(skip, fc.pc())
	return nil
}

func (c *Compiler) compileUnary(fc *funcContext, n *ast.UnaryExpr) error {
	line := c.line(n)
	switch n.Op {
	case "++", "--":
		return c.compileIncDec(fc, n.Operand, n.Op == "++", true)
	}
	if err := c.compileExpr(fc, n.Operand); err != nil {
		return err
	}
	switch n.Op {
	case "-":
		fc.emit(opcodes.OP_NEG, 0, 0, line, 0)
	case "+":
	case "!":
		fc.emit(opcodes.OP_LOGIC_NOT, 0, 0, line, 0)
	case "~":
		fc.emit(opcodes.OP_BIT_NOT, 0, 0, line, 0)
	default:
		return fmt.Errorf("line %d: unsupported unary operator %q", line, n.Op)
	}
	return nil
}

func (c *Compiler) compilePostfix(fc *funcContext, n *ast.PostfixExpr) error {
	return c.compileIncDec(fc, n.Operand, n.Op == "++", false)
}

// compileIncDec lowers ++/-- for a variable operand, leaving the pre- or
// post-value on the stack per isPrefix.
func (c *Compiler) compileIncDec(fc *funcContext, operand ast.Expression, isInc, isPrefix bool) error {
	line := c.line(operand)
	v, ok := operand.(*ast.Variable)
	if !ok {
		return fmt.Errorf("line %d: ++/-- only supported on variables", line)
	}
	load, store, slot := c.varAccess(fc, v.Name[1:])
	fc.emit(load, slot, 0, line, 1)
	if !isPrefix {
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
	}
	fc.emit(opcodes.OP_PUSH_INT_1, 0, 0, line, 1)
	if isInc {
		fc.emit(opcodes.OP_ADD, 0, 0, line, -1)
	} else {
		fc.emit(opcodes.OP_SUB, 0, 0, line, -1)
	}
	if isPrefix {
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
	}
	// Postfix: stack is [old, new] here; storing pops new, leaving old as
	// the expression's value with no extra shuffling needed. Prefix: the
	// dup above means stack is [new, new]; storing pops one copy, leaving
	// the other as the expression's value.
	fc.emit(store, slot, 0, line, -1)
	return nil
}

func (c *Compiler) compileTernary(fc *funcContext, n *ast.TernaryExpr) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.Condition); err != nil {
		return err
	}
	if n.Then == nil { // Elvis: cond ?: else
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
		jnz := fc.emit(opcodes.OP_JNZ, 0, 0, line, -1)
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
		if err := c.compileExpr(fc, n.Else); err != nil {
			return err
		}
		fc.patchTarget(jnz, fc.pc())
		return nil
	}
	jz := fc.emit(opcodes.OP_JZ, 0, 0, line, -1)
	if err := c.compileExpr(fc, n.Then); err != nil {
		return err
	}
	jmp := fc.emit(opcodes.OP_JMP, 0, 0, line, 0)
	fc.patchTarget(jz, fc.pc())
	if err := c.compileExpr(fc, n.Else); err != nil {
		return err
	}
	fc.patchTarget(jmp, fc.pc())
	return nil
}

// compilePipe lowers PHP 8.5's `value |> callable` into a call with value as
// the sole argument.
func (c *Compiler) compilePipe(fc *funcContext, n *ast.PipeExpr) error {
	line := c.line(n)
	if name, ok := calleeName(n.Callable); ok {
		return c.compileFunctionCall(fc, &ast.FunctionCall{Base: n.Base, Name: name, Args: []ast.Argument{{Value: n.Value}}})
	}
	if err := c.compileExpr(fc, n.Value); err != nil {
		return err
	}
	if err := c.compileExpr(fc, n.Callable); err != nil {
		return err
	}
	fc.emit(opcodes.OP_SWAP, 0, 0, line, 0)
	fc.emit(opcodes.OP_CLOSURE_CALL, 0, 1, line, -1)
	return nil
}

// calleeName recognizes PHP 8.5's first-class callable syntax (`strlen(...)`)
// so a pipe stage written that way compiles straight to a call instead of
// materializing a closure just to invoke it once.
func calleeName(e ast.Expression) (string, bool) {
	if fc, ok := e.(*ast.FunctionCall); ok && fc.FirstClassRef && fc.Callee == nil {
		return fc.Name, true
	}
	return "", false
}

// compileArgs pushes a call's arguments (named/spread arguments are not
// given special bytecode treatment: they are resolved to plain positional
// arguments at the generator's level since the ISA has no operand for
// argument names).
func (c *Compiler) compileArgs(fc *funcContext, args []ast.Argument) (int, error) {
	for _, a := range args {
		if err := c.compileExpr(fc, a.Value); err != nil {
			return 0, err
		}
	}
	return len(args), nil
}

func (c *Compiler) compileFunctionCall(fc *funcContext, n *ast.FunctionCall) error {
	line := c.line(n)
	if n.Callee != nil {
		if err := c.compileExpr(fc, n.Callee); err != nil {
			return err
		}
		argc, err := c.compileArgs(fc, n.Args)
		if err != nil {
			return err
		}
		fc.emit(opcodes.OP_CLOSURE_CALL, 0, uint16(argc), line, -argc)
		return nil
	}
	argc, err := c.compileArgs(fc, n.Args)
	if err != nil {
		return err
	}
	if id, ok := stdlib.IDByName(n.Name); ok {
		fc.emit(opcodes.OP_CALL_BUILTIN, id, uint16(argc), line, -argc+1)
		return nil
	}
	fc.emit(opcodes.OP_CALL, fc.addConstant(values.NewString(n.Name)), uint16(argc), line, -argc+1)
	return nil
}

func (c *Compiler) compileMethodCall(fc *funcContext, n *ast.MethodCall) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.Target); err != nil {
		return err
	}
	argc, err := c.compileArgs(fc, n.Args)
	if err != nil {
		return err
	}
	op := opcodes.OP_CALL_METHOD
	if n.NullSafe {
		op = opcodes.OP_NULLSAFE_CALL
	}
	fc.emit(op, fc.addConstant(values.NewString(n.Method)), uint16(argc), line, -argc)
	return nil
}

func (c *Compiler) compileStaticCall(fc *funcContext, n *ast.StaticCall) error {
	line := c.line(n)
	argc, err := c.compileArgs(fc, n.Args)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s::%s", n.Class, n.Method)
	fc.emit(opcodes.OP_CALL_STATIC, fc.addConstant(values.NewString(name)), uint16(argc), line, -argc+1)
	return nil
}

func (c *Compiler) compileArrayInit(fc *funcContext, n *ast.ArrayInit) error {
	line := c.line(n)
	fc.emit(opcodes.OP_NEW_ARRAY, 0, 0, line, 1)
	for _, el := range n.Elements {
		if el.Spread {
			// Spread elements are merged at runtime through array union;
			// compile the source and leave merging to OP_ADD's array-union
			// path (PHP array `+`: first-wins on key clash).
			if err := c.compileExpr(fc, el.Value); err != nil {
				return err
			}
			fc.emit(opcodes.OP_ADD, 0, 0, line, -1)
			continue
		}
		// ARRAY_SET/ARRAY_PUSH consume (array[, key], value) and push the
		// stored value back as their result; that copy is unneeded here
		// since the live array reference stays on the stack from NEW_ARRAY.
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
		if el.Key != nil {
			if err := c.compileExpr(fc, el.Key); err != nil {
				return err
			}
			if err := c.compileExpr(fc, el.Value); err != nil {
				return err
			}
			fc.emit(opcodes.OP_ARRAY_SET, 0, 0, line, -2)
		} else {
			if err := c.compileExpr(fc, el.Value); err != nil {
				return err
			}
			fc.emit(opcodes.OP_ARRAY_PUSH, 0, 0, line, -1)
		}
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	}
	return nil
}

func (c *Compiler) compilePropertyGet(fc *funcContext, n *ast.PropertyAccess) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.Target); err != nil {
		return err
	}
	if n.Dynamic != nil {
		if err := c.compileExpr(fc, n.Dynamic); err != nil {
			return err
		}
		fc.emit(opcodes.OP_TO_STRING, 0, 0, line, 0)
		// Dynamic property names still resolve through GET_PROP's constant
		// operand path isn't available here; fall back to array-style get
		// since PHPObject's dynamic bag behaves like a string-keyed map.
		fc.emit(opcodes.OP_ARRAY_GET, 0, 0, line, -1)
		return nil
	}
	op := opcodes.OP_GET_PROP
	if n.NullSafe {
		op = opcodes.OP_NULLSAFE_GET
	}
	fc.emit(op, fc.addConstant(values.NewString(n.Property)), 0, line, 0)
	return nil
}

func (c *Compiler) compileNew(fc *funcContext, n *ast.ObjectInstantiation) error {
	line := c.line(n)
	argc, err := c.compileArgs(fc, n.Args)
	if err != nil {
		return err
	}
	fc.emit(opcodes.OP_NEW_OBJECT, fc.addConstant(values.NewString(n.Class)), uint16(argc), line, -argc+1)
	return nil
}

func (c *Compiler) compileClone(fc *funcContext, n *ast.CloneExpr) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.Target); err != nil {
		return err
	}
	fc.emit(opcodes.OP_CLONE, 0, 0, line, 0)
	for _, pair := range n.With {
		key, ok := pair.Key.(*ast.StringLiteral)
		if !ok {
			return fmt.Errorf("line %d: clone...with keys must be literal property names", line)
		}
		fc.emit(opcodes.OP_DUP, 0, 0, line, 1)
		if err := c.compileExpr(fc, pair.Value); err != nil {
			return err
		}
		fc.emit(opcodes.OP_SET_PROP, fc.addConstant(values.NewString(key.Value)), 0, line, -1)
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	}
	return nil
}

// compileClosure lowers `function(...) use (...) {...}` into a function
// prototype plus the explicit capture list it declares.
func (c *Compiler) compileClosure(fc *funcContext, n *ast.Closure) error {
	line := c.line(n)
	isMethod := fc.class != "" && !n.Static
	captureNames := make([]string, len(n.Captures))
	for i, capture := range n.Captures {
		captureNames[i] = capture.Name[1:]
	}
	fn, err := c.compileFunction("{closure}", n.Params, n.Body, fc.class, isMethod, captureNames...)
	if err != nil {
		return err
	}
	protoIdx := fc.addFunctionProto(fn)
	for _, capture := range n.Captures {
		load, _, slot := c.varAccess(fc, capture.Name[1:])
		mode := uint16(0)
		if capture.ByRef {
			mode |= 1
		}
		if load == opcodes.OP_PUSH_GLOBAL {
			mode |= 2
		}
		fc.emit(opcodes.OP_CAPTURE_VAR, slot, mode, line, 1)
	}
	fc.emit(opcodes.OP_MAKE_CLOSURE, protoIdx, uint16(len(n.Captures)), line, -len(n.Captures)+1)
	return nil
}

// compileArrowFunction lowers `fn(...) => expr`: unlike a full closure, every
// outer variable the body references is captured by value implicitly.
func (c *Compiler) compileArrowFunction(fc *funcContext, n *ast.ArrowFunction) error {
	line := c.line(n)
	body := &ast.Block{Stmts: []ast.Statement{&ast.Return{Value: n.Body}}}
	own := make(map[string]bool, len(n.Params))
	for _, p := range n.Params {
		own[p.Name[1:]] = true
	}
	captured := collectVariableNames(n.Body, own)
	fn, err := c.compileFunction("{closure}", n.Params, body, fc.class, fc.class != "", captured...)
	if err != nil {
		return err
	}
	protoIdx := fc.addFunctionProto(fn)
	for _, name := range captured {
		load, _, slot := c.varAccess(fc, name)
		mode := uint16(0)
		if load == opcodes.OP_PUSH_GLOBAL {
			mode |= 2
		}
		fc.emit(opcodes.OP_CAPTURE_VAR, slot, mode, line, 1)
	}
	fc.emit(opcodes.OP_MAKE_CLOSURE, protoIdx, uint16(len(captured)), line, -len(captured)+1)
	return nil
}

// collectVariableNames walks e for Variable references not in exclude,
// returning each distinct name once in first-seen order. It covers the
// expression forms an arrow function body can realistically be (PHP only
// allows a single expression there), not full statement-level recursion.
func collectVariableNames(e ast.Expression, exclude map[string]bool) []string {
	seen := map[string]bool{}
	var order []string
	var walk func(ast.Expression)
	add := func(name string) {
		if exclude[name] || seen[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
	}
	walk = func(e ast.Expression) {
		if e == nil {
			return
		}
		switch n := e.(type) {
		case *ast.Variable:
			add(n.Name[1:])
		case *ast.Assignment:
			walk(n.Target)
			walk(n.Value)
		case *ast.BinaryExpr:
			walk(n.LHS)
			walk(n.RHS)
		case *ast.UnaryExpr:
			walk(n.Operand)
		case *ast.PostfixExpr:
			walk(n.Operand)
		case *ast.TernaryExpr:
			walk(n.Condition)
			walk(n.Then)
			walk(n.Else)
		case *ast.CoalesceExpr:
			walk(n.LHS)
			walk(n.RHS)
		case *ast.PipeExpr:
			walk(n.Value)
			walk(n.Callable)
		case *ast.FunctionCall:
			walk(n.Callee)
			for _, a := range n.Args {
				walk(a.Value)
			}
		case *ast.MethodCall:
			walk(n.Target)
			for _, a := range n.Args {
				walk(a.Value)
			}
		case *ast.StaticCall:
			for _, a := range n.Args {
				walk(a.Value)
			}
		case *ast.ArrayInit:
			for _, el := range n.Elements {
				walk(el.Key)
				walk(el.Value)
			}
		case *ast.ArrayAccess:
			walk(n.Target)
			walk(n.Index)
		case *ast.PropertyAccess:
			walk(n.Target)
			walk(n.Dynamic)
		case *ast.ObjectInstantiation:
			walk(n.ClassExpr)
			for _, a := range n.Args {
				walk(a.Value)
			}
		case *ast.CloneExpr:
			walk(n.Target)
			for _, p := range n.With {
				walk(p.Value)
			}
		case *ast.InstanceofExpr:
			walk(n.Target)
		case *ast.InterpolatedString:
			for _, p := range n.Parts {
				walk(p)
			}
		case *ast.ArrowFunction:
			own := map[string]bool{}
			for _, p := range n.Params {
				own[p.Name[1:]] = true
			}
			for _, name := range collectVariableNames(n.Body, own) {
				add(name)
			}
		}
	}
	walk(e)
	return order
}
