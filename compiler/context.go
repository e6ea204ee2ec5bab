// Package compiler implements the bytecode generator: it walks the
// ast.Root an external parser produces and lowers it into
// registry.Function/registry.Class values carrying opcodes.Instruction
// streams, constant pools, exception tables and line tables.
package compiler

import (
	"fmt"

	"github.com/wudi/heyvm/ast"
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// loopFrame tracks one enclosing loop's break/continue patch sites. A
// while/foreach loop knows its continue target (the top of the loop) before
// compiling the body, so continue jumps there directly; a for/do-while
// loop's continue target is the update step or condition check, which only
// gets a pc once the body has been compiled, so continue there is patched
// the same way break always is.
type loopFrame struct {
	continueTarget  int // -1 until known
	continuePatches []int
	breakPatches    []int // instruction indices whose A operand is the post-loop pc
}

// tryFrame tracks an enclosing try's finally block, so `return` inside a try
// body can run it before actually returning: compileStmt recompiles
// finallyBody inline at each such return site, since the generator has no
// subroutine-call opcode to jump into the finally code already emitted at
// the try's natural location and back out again.
type tryFrame struct {
	finallyBody *ast.Block // nil when the try has no finally
}

// funcContext is the per-CompiledFunction compilation state: locals,
// constants, the growing instruction stream, and the control-flow stacks
// needed to resolve forward jumps and exception ranges. Closures and
// methods each get their own funcContext, with no link back to the
// enclosing function's (variable scoping in PHP functions is NOT lexical
// the way block scoping is, so funcContext never chains variable lookups
// into an enclosing one).
type funcContext struct {
	locals    map[string]uint16
	nextLocal uint16

	constants  []*values.Value
	constIndex map[string]uint16 // dedup key -> index, append-only (never overwritten)

	instructions []opcodes.Instruction
	lineTable    []opcodes.LineEntry
	lastLine     uint32

	exceptionTable []opcodes.ExceptionEntry
	switchTables   []opcodes.SwitchTable
	functionProtos []*registry.Function // closures/arrow functions declared in this body

	loops []*loopFrame
	tries []*tryFrame

	class         string            // current class name, "" outside a method
	isGlobalScope bool              // true only for the program's main function
	globalNames   map[string]uint16 // names reached via `global $x;` in this function

	maxStack int
	curStack int
}

func newFuncContext() *funcContext {
	return &funcContext{
		locals:     make(map[string]uint16),
		constIndex: make(map[string]uint16),
	}
}

// slotFor returns a local variable's slot, allocating one on first use.
func (fc *funcContext) slotFor(name string) uint16 {
	if slot, ok := fc.locals[name]; ok {
		return slot
	}
	slot := fc.nextLocal
	fc.locals[name] = slot
	fc.nextLocal++
	return slot
}

// constKey derives a dedup key for scalar constants; composite values
// (arrays used as literal defaults, function prototypes) are never
// deduplicated since each needs its own identity.
func constKey(v *values.Value) (string, bool) {
	switch v.Type() {
	case values.TypeNull:
		return "n", true
	case values.TypeBool:
		return fmt.Sprintf("b%v", v.ToBool()), true
	case values.TypeInt:
		return fmt.Sprintf("i%d", v.ToInt()), true
	case values.TypeFloat:
		return fmt.Sprintf("f%v", v.ToFloat()), true
	case values.TypeString:
		return fmt.Sprintf("s%s", v.ToString()), true
	default:
		return "", false
	}
}

// addConstant appends v to the pool and returns its index, reusing an
// existing slot for an identical scalar. The pool is append-only: an
// index, once handed out, always maps to the same value for the lifetime
// of the function (a later optimizer pass that folds constants must add
// new entries rather than overwrite existing ones).
func (fc *funcContext) addConstant(v *values.Value) uint16 {
	if key, ok := constKey(v); ok {
		if idx, exists := fc.constIndex[key]; exists {
			return idx
		}
		idx := uint16(len(fc.constants))
		fc.constants = append(fc.constants, v)
		fc.constIndex[key] = idx
		return idx
	}
	idx := uint16(len(fc.constants))
	fc.constants = append(fc.constants, v)
	return idx
}

// emit appends an instruction and returns its pc, tracking the line table
// and a conservative running stack-depth estimate for MaxStack.
func (fc *funcContext) emit(op opcodes.Opcode, a, b uint16, line uint32, delta int) int {
	pc := len(fc.instructions)
	fc.instructions = append(fc.instructions, opcodes.Instruction{Op: op, A: a, B: b, Line: line})
	if line != 0 && line != fc.lastLine {
		fc.lineTable = append(fc.lineTable, opcodes.LineEntry{PC: uint32(pc), Line: line})
		fc.lastLine = line
	}
	fc.curStack += delta
	if fc.curStack > fc.maxStack {
		fc.maxStack = fc.curStack
	}
	if fc.curStack < 0 {
		fc.curStack = 0
	}
	return pc
}

func (fc *funcContext) pc() int { return len(fc.instructions) }

func (fc *funcContext) patchTarget(pc int, target int) {
	fc.instructions[pc].A = uint16(target)
}

func (fc *funcContext) pushLoop(continueTarget int) *loopFrame {
	lf := &loopFrame{continueTarget: continueTarget}
	fc.loops = append(fc.loops, lf)
	return lf
}

func (fc *funcContext) popLoop() {
	fc.loops = fc.loops[:len(fc.loops)-1]
}

// resolveContinue fixes a loop's continue target once it becomes known
// (for/do-while only; while/foreach pass it to pushLoop up front) and
// patches every continue jump compiled before that point.
func (fc *funcContext) resolveContinue(lf *loopFrame, target int) {
	lf.continueTarget = target
	for _, p := range lf.continuePatches {
		fc.patchTarget(p, target)
	}
	lf.continuePatches = nil
}

// loopAt returns the loop frame `depth` levels up from the innermost
// (depth=1 is the innermost loop, matching PHP's break/continue N).
func (fc *funcContext) loopAt(depth int) (*loopFrame, bool) {
	idx := len(fc.loops) - depth
	if idx < 0 || idx >= len(fc.loops) {
		return nil, false
	}
	return fc.loops[idx], true
}

// declareGlobal records that name was brought into scope by a `global`
// statement, so later references within this function address the shared
// global slot instead of a fresh local one.
func (fc *funcContext) declareGlobal(name string, slot uint16) {
	if fc.globalNames == nil {
		fc.globalNames = make(map[string]uint16)
	}
	fc.globalNames[name] = slot
}

// addFunctionProto registers a closure/arrow-function body compiled inside
// this function and returns its index for OP_MAKE_CLOSURE's A operand.
func (fc *funcContext) addFunctionProto(fn *registry.Function) uint16 {
	idx := uint16(len(fc.functionProtos))
	fc.functionProtos = append(fc.functionProtos, fn)
	return idx
}
