package compiler

import (
	"fmt"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/values"
)

// compileStmt lowers one statement, leaving the operand stack exactly as it
// found it (every expression statement pops its own result).
func (c *Compiler) compileStmt(fc *funcContext, stmt ast.Statement) error {
	line := c.line(stmt)
	switch n := stmt.(type) {
	case *ast.Block:
		for _, s := range n.Stmts {
			if err := c.compileStmt(fc, s); err != nil {
				return err
			}
		}
	case *ast.ExpressionStatement:
		if err := c.compileExpr(fc, n.Expr); err != nil {
			return err
		}
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	case *ast.If:
		return c.compileIf(fc, n)
	case *ast.While:
		return c.compileWhile(fc, n)
	case *ast.DoWhile:
		return c.compileDoWhile(fc, n)
	case *ast.For:
		return c.compileFor(fc, n)
	case *ast.Foreach:
		return c.compileForeach(fc, n)
	case *ast.Return:
		if n.Value != nil {
			if err := c.compileExpr(fc, n.Value); err != nil {
				return err
			}
		} else {
			fc.emit(opcodes.OP_PUSH_NULL, 0, 0, line, 1)
		}
		// Run every enclosing finally block, innermost first, before the
		// value actually leaves the function (PHP's finally always runs,
		// even past a return in the try or catch body).
		for i := len(fc.tries) - 1; i >= 0; i-- {
			if body := fc.tries[i].finallyBody; body != nil {
				if err := c.compileBlock(fc, body); err != nil {
					return err
				}
			}
		}
		fc.emit(opcodes.OP_RET, 0, 0, line, -1)
	case *ast.Break:
		lf, ok := fc.loopAt(n.Depth)
		if !ok {
			return fmt.Errorf("line %d: break outside a loop", line)
		}
		pc := fc.emit(opcodes.OP_JMP, 0, 0, line, 0)
		lf.breakPatches = append(lf.breakPatches, pc)
	case *ast.Continue:
		lf, ok := fc.loopAt(n.Depth)
		if !ok {
			return fmt.Errorf("line %d: continue outside a loop", line)
		}
		if lf.continueTarget >= 0 {
			fc.emit(opcodes.OP_JMP, uint16(lf.continueTarget), 0, line, 0)
		} else {
			pc := fc.emit(opcodes.OP_JMP, 0, 0, line, 0)
			lf.continuePatches = append(lf.continuePatches, pc)
		}
	case *ast.Global:
		for _, name := range n.Names {
			bare := name
			if len(bare) > 0 && bare[0] == '$' {
				bare = bare[1:]
			}
			fc.declareGlobal(bare, c.globalSlot(bare))
		}
	case *ast.Unset:
		return c.compileUnset(fc, n)
	case *ast.Try:
		return c.compileTry(fc, n)
	case *ast.Throw:
		if err := c.compileExpr(fc, n.Value); err != nil {
			return err
		}
		fc.emit(opcodes.OP_THROW, 0, 0, line, -1)
	default:
		return fmt.Errorf("line %d: compiler: unsupported statement %T", line, stmt)
	}
	return nil
}

// compileUnset lowers `unset(...)`: a variable target drops its slot's
// binding, an array-access target removes one key, a property target
// removes one property edge.
func (c *Compiler) compileUnset(fc *funcContext, n *ast.Unset) error {
	line := c.line(n)
	for _, target := range n.Targets {
		switch t := target.(type) {
		case *ast.Variable:
			load, _, slot := c.varAccess(fc, t.Name[1:])
			if load == opcodes.OP_PUSH_GLOBAL {
				fc.emit(opcodes.OP_UNSET_GLOBAL, slot, 0, line, 0)
			} else {
				fc.emit(opcodes.OP_UNSET_LOCAL, slot, 0, line, 0)
			}
		case *ast.ArrayAccess:
			if t.Index == nil {
				return fmt.Errorf("line %d: cannot unset an []-append expression", line)
			}
			if err := c.compileExpr(fc, t.Target); err != nil {
				return err
			}
			if err := c.compileExpr(fc, t.Index); err != nil {
				return err
			}
			fc.emit(opcodes.OP_ARRAY_UNSET, 0, 0, line, -2)
		case *ast.PropertyAccess:
			if err := c.compileExpr(fc, t.Target); err != nil {
				return err
			}
			fc.emit(opcodes.OP_UNSET_PROP, fc.addConstant(values.NewString(t.Property)), 0, line, -1)
		default:
			return fmt.Errorf("line %d: cannot unset %T", line, target)
		}
	}
	return nil
}

func (c *Compiler) compileBlock(fc *funcContext, b *ast.Block) error {
	if b == nil {
		return nil
	}
	for _, s := range b.Stmts {
		if err := c.compileStmt(fc, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileIf(fc *funcContext, n *ast.If) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.Condition); err != nil {
		return err
	}
	jz := fc.emit(opcodes.OP_JZ, 0, 0, line, -1)
	if err := c.compileBlock(fc, n.Then); err != nil {
		return err
	}
	if n.Else == nil {
		fc.patchTarget(jz, fc.pc())
		return nil
	}
	jmp := fc.emit(opcodes.OP_JMP, 0, 0, line, 0)
	fc.patchTarget(jz, fc.pc())
	switch els := n.Else.(type) {
	case *ast.Block:
		if err := c.compileBlock(fc, els); err != nil {
			return err
		}
	case *ast.If:
		if err := c.compileIf(fc, els); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: if: unsupported else node %T", line, n.Else)
	}
	fc.patchTarget(jmp, fc.pc())
	return nil
}

func (c *Compiler) compileWhile(fc *funcContext, n *ast.While) error {
	line := c.line(n)
	top := fc.pc()
	fc.emit(opcodes.OP_GC_SAFEPOINT, 0, 0, line, 0)
	if err := c.compileExpr(fc, n.Condition); err != nil {
		return err
	}
	exit := fc.emit(opcodes.OP_JZ, 0, 0, line, -1)
	lf := fc.pushLoop(top)
	if err := c.compileBlock(fc, n.Body); err != nil {
		return err
	}
	fc.emit(opcodes.OP_JMP, uint16(top), 0, line, 0)
	fc.patchTarget(exit, fc.pc())
	for _, p := range lf.breakPatches {
		fc.patchTarget(p, fc.pc())
	}
	fc.popLoop()
	return nil
}

func (c *Compiler) compileDoWhile(fc *funcContext, n *ast.DoWhile) error {
	line := c.line(n)
	top := fc.pc()
	fc.emit(opcodes.OP_GC_SAFEPOINT, 0, 0, line, 0)
	lf := fc.pushLoop(-1) // continue target is the condition check, known only after the body
	if err := c.compileBlock(fc, n.Body); err != nil {
		return err
	}
	fc.resolveContinue(lf, fc.pc())
	if err := c.compileExpr(fc, n.Condition); err != nil {
		return err
	}
	fc.emit(opcodes.OP_JNZ, uint16(top), 0, line, -1)
	for _, p := range lf.breakPatches {
		fc.patchTarget(p, fc.pc())
	}
	fc.popLoop()
	return nil
}

func (c *Compiler) compileFor(fc *funcContext, n *ast.For) error {
	line := c.line(n)
	if n.Init != nil {
		if err := c.compileExpr(fc, n.Init); err != nil {
			return err
		}
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	}
	top := fc.pc()
	fc.emit(opcodes.OP_GC_SAFEPOINT, 0, 0, line, 0)
	var exit int
	hasCond := n.Condition != nil
	if hasCond {
		if err := c.compileExpr(fc, n.Condition); err != nil {
			return err
		}
		exit = fc.emit(opcodes.OP_JZ, 0, 0, line, -1)
	}
	lf := fc.pushLoop(-1) // continue must run the update step before retesting
	if err := c.compileBlock(fc, n.Body); err != nil {
		return err
	}
	fc.resolveContinue(lf, fc.pc())
	if n.Update != nil {
		if err := c.compileExpr(fc, n.Update); err != nil {
			return err
		}
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	}
	fc.emit(opcodes.OP_JMP, uint16(top), 0, line, 0)
	if hasCond {
		fc.patchTarget(exit, fc.pc())
	}
	for _, p := range lf.breakPatches {
		fc.patchTarget(p, fc.pc())
	}
	fc.popLoop()
	return nil
}

// compileForeach lowers foreach with snapshot-at-init semantics: FOREACH_INIT
// takes the iterable once at loop entry and owns an internal cursor, so
// mutations to the source during iteration are not observed.
func (c *Compiler) compileForeach(fc *funcContext, n *ast.Foreach) error {
	line := c.line(n)
	if err := c.compileExpr(fc, n.Iterable); err != nil {
		return err
	}
	fc.emit(opcodes.OP_FOREACH_INIT, 0, 0, line, 0)
	top := fc.pc()
	fc.emit(opcodes.OP_GC_SAFEPOINT, 0, 0, line, 0)
	exit := fc.emit(opcodes.OP_FOREACH_NEXT, 0, 0, line, 2)
	if n.Key != nil {
		_, store, slot := c.varAccess(fc, n.Key.Name[1:])
		fc.emit(store, slot, 0, line, -1)
	} else {
		fc.emit(opcodes.OP_POP, 0, 0, line, -1)
	}
	_, store, slot := c.varAccess(fc, n.Value.Name[1:])
	fc.emit(store, slot, 0, line, -1)
	lf := fc.pushLoop(top)
	if err := c.compileBlock(fc, n.Body); err != nil {
		return err
	}
	fc.emit(opcodes.OP_JMP, uint16(top), 0, line, 0)
	fc.patchTarget(exit, fc.pc())
	for _, p := range lf.breakPatches {
		fc.patchTarget(p, fc.pc())
	}
	fc.popLoop()
	fc.emit(opcodes.OP_POP, 0, 0, line, -1) // drop the iterator cursor
	return nil
}

// compileTry lowers try/catch/finally into straight-line code plus an
// ExceptionEntry row per try range; the VM walks that table on OP_THROW to
// find the innermost matching handler, so the generator's job is only to
// record accurate [Start,End) ranges and handler/finally targets.
func (c *Compiler) compileTry(fc *funcContext, n *ast.Try) error {
	line := c.line(n)
	start := fc.pc()
	hasFinally := n.Finally != nil

	// The frame stays active through the catch bodies too: a return from
	// either still owes this try's finally block, per PHP semantics.
	tf := &tryFrame{}
	if hasFinally {
		tf.finallyBody = n.Finally
	}
	fc.tries = append(fc.tries, tf)
	if err := c.compileBlock(fc, n.Body); err != nil {
		return err
	}
	end := fc.pc()

	afterTryJmp := fc.emit(opcodes.OP_JMP, 0, 0, line, 0)

	var catchJmps []int
	for _, cat := range n.Catches {
		handlerPC := fc.pc()
		if cat.Var != nil {
			_, store, slot := c.varAccess(fc, cat.Var.Name[1:])
			fc.emit(store, slot, 0, line, 0)
		} else {
			fc.emit(opcodes.OP_POP, 0, 0, line, 0)
		}
		if err := c.compileBlock(fc, cat.Body); err != nil {
			return err
		}
		catchJmps = append(catchJmps, fc.emit(opcodes.OP_JMP, 0, 0, line, 0))

		catchType := opcodes.NoCatchType
		if len(cat.Types) > 0 {
			catchType = fc.addConstant(values.NewString(cat.Types[0]))
		}
		fc.exceptionTable = append(fc.exceptionTable, opcodes.ExceptionEntry{
			Start: uint32(start), End: uint32(end), HandlerPC: uint32(handlerPC),
			CatchType: catchType, HasCatch: true,
		})
	}
	fc.tries = fc.tries[:len(fc.tries)-1]

	fc.patchTarget(afterTryJmp, fc.pc())
	for _, p := range catchJmps {
		fc.patchTarget(p, fc.pc())
	}

	if hasFinally {
		finallyPC := uint32(fc.pc())
		if err := c.compileBlock(fc, n.Finally); err != nil {
			return err
		}
		fc.exceptionTable = append(fc.exceptionTable, opcodes.ExceptionEntry{
			Start: uint32(start), End: uint32(end), HasFinally: true, FinallyPC: finallyPC,
			FinallyEnd: uint32(fc.pc()), CatchType: opcodes.NoCatchType,
		})
	}
	return nil
}
