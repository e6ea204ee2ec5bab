// Package optimizer implements a bytecode-to-bytecode optimization
// pipeline that runs over a registry.Function after the compiler emits it
// and before the VM executes it. Jump targets and exception-table rows
// address instructions by absolute index, so a pass can never change the
// instruction count: removing an instruction would silently desync every
// later jump and exception-table offset. Every pass rewrites in place
// instead (dead code becomes OP_NOP, a fold collapses to one real
// instruction followed by OP_NOP filler).
package optimizer

import (
	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// OptimizationStats captures bookkeeping for optimizer runs: instruction
// counts before and after, rounds run, and per pass the number of rounds
// in which it changed something.
type OptimizationStats struct {
	OriginalSize  int
	OptimizedSize int
	Iterations    int
	PassStats     map[string]int
}

// pass is one rewrite step: it mutates fn.Instructions/fn.Constants in
// place and reports whether it changed anything, so OptimizeFunction can
// iterate the pipeline to a fixed point. Passes see
// the whole function, not just its instruction stream, because a
// reachability analysis that ignores ExceptionTable would wrongly treat a
// catch/finally block as dead code (it's entered only via vm.unwind
// setting fr.pc directly, never through an ordinary jump).
type pass interface {
	name() string
	run(fn *registry.Function) bool
}

// Optimizer runs a fixed pipeline of passes to a fixed point (bounded by
// maxIterations).
type Optimizer struct {
	passes []pass
}

// NewOptimizer constructs an optimizer with the default pass pipeline.
func NewOptimizer() *Optimizer {
	return &Optimizer{
		passes: []pass{
			&constantFoldingPass{},
			&deadCodePass{},
			&peepholePass{},
			&jumpPass{},
			&tailCallPass{},
		},
	}
}

const maxIterations = 10

// OptimizeFunction rewrites fn's bytecode in place and returns stats. Only
// the instruction stream and constant pool change; LocalCount, MaxStack,
// ExceptionTable and SwitchTables (all index-addressed) stay valid because
// no pass here changes instruction count.
func (o *Optimizer) OptimizeFunction(fn *registry.Function) OptimizationStats {
	stats := OptimizationStats{
		OriginalSize: len(fn.Instructions),
		PassStats:    make(map[string]int),
	}

	for stats.Iterations < maxIterations {
		changedThisRound := false
		for _, p := range o.passes {
			if p.run(fn) {
				stats.PassStats[p.name()]++
				changedThisRound = true
			}
		}
		stats.Iterations++
		if !changedThisRound {
			break
		}
	}

	stats.OptimizedSize = len(fn.Instructions)
	return stats
}

// OptimizeWithStats runs the pipeline over a whole compiled program: fn
// itself plus every closure/arrow-function prototype it declared.
func (o *Optimizer) OptimizeWithStats(fn *registry.Function) OptimizationStats {
	total := o.OptimizeFunction(fn)
	for _, proto := range fn.FunctionProtos {
		sub := o.OptimizeWithStats(proto)
		total.OriginalSize += sub.OriginalSize
		total.OptimizedSize += sub.OptimizedSize
		for name, n := range sub.PassStats {
			total.PassStats[name] += n
		}
	}
	return total
}

func nop(i *opcodes.Instruction) { *i = opcodes.Instruction{Op: opcodes.OP_NOP, Line: i.Line} }

// constantFoldingPass collapses `PUSH_CONST a; PUSH_CONST b; <binop>` into
// `PUSH_CONST folded; NOP; NOP`, evaluating the operation at compile time.
// The folded constant is appended to the pool; existing indices are never
// overwritten, so every other instruction's operand stays valid.
type constantFoldingPass struct{}

func (p *constantFoldingPass) name() string { return "ConstantFolding" }

func (p *constantFoldingPass) run(fn *registry.Function) bool {
	instr := fn.Instructions
	landable := landableSet(fn)
	changed := false
	for i := 0; i < len(instr); i++ {
		if instr[i].Op != opcodes.OP_PUSH_CONST {
			continue
		}
		// NOP filler from earlier folds may sit between the pattern's
		// elements, so match across it rather than requiring adjacency.
		j := nextReal(instr, i)
		if j < 0 || instr[j].Op != opcodes.OP_PUSH_CONST {
			continue
		}
		k := nextReal(instr, j)
		if k < 0 {
			continue
		}
		// A jump or exception edge landing inside the pattern would observe
		// a half-evaluated stack after the fold; leave such sites alone.
		if anyLandable(landable, i+1, k) {
			continue
		}
		folded, ok := foldBinary(instr[k].Op, fn.Constants[instr[i].A], fn.Constants[instr[j].A])
		if !ok {
			continue
		}
		idx := uint16(len(fn.Constants))
		fn.Constants = append(fn.Constants, folded)
		instr[i] = &opcodes.Instruction{Op: opcodes.OP_PUSH_CONST, A: idx, Line: instr[i].Line}
		nop(instr[j])
		nop(instr[k])
		changed = true
	}
	return changed
}

// nextReal returns the index of the first non-NOP instruction after i, or
// -1 when the stream ends first.
func nextReal(instr []*opcodes.Instruction, i int) int {
	for j := i + 1; j < len(instr); j++ {
		if instr[j].Op != opcodes.OP_NOP {
			return j
		}
	}
	return -1
}

func anyLandable(landable []bool, from, to int) bool {
	for i := from; i <= to && i < len(landable); i++ {
		if landable[i] {
			return true
		}
	}
	return false
}

// landableSet marks every pc that control flow can enter from somewhere
// other than the previous instruction: jump targets, switch-table targets,
// catch handlers and finally ranges.
func landableSet(fn *registry.Function) []bool {
	landable := make([]bool, len(fn.Instructions))
	for _, in := range fn.Instructions {
		switch in.Op {
		case opcodes.OP_JMP, opcodes.OP_JZ, opcodes.OP_JNZ, opcodes.OP_FOREACH_NEXT:
			if int(in.A) < len(landable) {
				landable[in.A] = true
			}
		}
	}
	for _, tbl := range fn.SwitchTables {
		for _, cs := range tbl.Cases {
			if int(cs.Target) < len(landable) {
				landable[cs.Target] = true
			}
		}
		if int(tbl.Default) < len(landable) {
			landable[tbl.Default] = true
		}
	}
	for _, ex := range fn.ExceptionTable {
		if ex.HasCatch && int(ex.HandlerPC) < len(landable) {
			landable[ex.HandlerPC] = true
		}
		if ex.HasFinally {
			end := int(ex.FinallyEnd)
			if end > len(landable) {
				end = len(landable)
			}
			for i := int(ex.FinallyPC); i >= 0 && i < end; i++ {
				landable[i] = true
			}
		}
	}
	return landable
}

func foldBinary(op opcodes.Opcode, a, b *values.Value) (*values.Value, bool) {
	switch op {
	case opcodes.OP_ADD, opcodes.OP_ADD_INT, opcodes.OP_ADD_FLOAT:
		return a.Add(b), true
	case opcodes.OP_SUB, opcodes.OP_SUB_INT, opcodes.OP_SUB_FLOAT:
		return a.Subtract(b), true
	case opcodes.OP_MUL, opcodes.OP_MUL_INT, opcodes.OP_MUL_FLOAT:
		return a.Multiply(b), true
	case opcodes.OP_DIV, opcodes.OP_DIV_INT, opcodes.OP_DIV_FLOAT:
		if b.ToFloat() == 0 {
			return nil, false // never fold a division by zero; let the VM raise it at runtime
		}
		v, err := a.Divide(b)
		if err != nil {
			return nil, false
		}
		return v, true
	case opcodes.OP_MOD, opcodes.OP_MOD_INT, opcodes.OP_MOD_FLOAT:
		if b.ToInt() == 0 {
			return nil, false
		}
		v, err := a.Modulo(b)
		if err != nil {
			return nil, false
		}
		return v, true
	case opcodes.OP_POW, opcodes.OP_POW_INT, opcodes.OP_POW_FLOAT:
		return a.Power(b), true
	case opcodes.OP_CONCAT:
		return a.Concat(b), true
	case opcodes.OP_EQ:
		return values.NewBool(a.Equal(b)), true
	case opcodes.OP_NEQ:
		return values.NewBool(!a.Equal(b)), true
	case opcodes.OP_IDENTICAL:
		return values.NewBool(a.Identical(b)), true
	case opcodes.OP_NOT_IDENTICAL:
		return values.NewBool(!a.Identical(b)), true
	case opcodes.OP_LT:
		return values.NewBool(a.Compare(b) < 0), true
	case opcodes.OP_LE:
		return values.NewBool(a.Compare(b) <= 0), true
	case opcodes.OP_GT:
		return values.NewBool(a.Compare(b) > 0), true
	case opcodes.OP_GE:
		return values.NewBool(a.Compare(b) >= 0), true
	case opcodes.OP_BIT_AND:
		return values.NewInt(a.ToInt() & b.ToInt()), true
	case opcodes.OP_BIT_OR:
		return values.NewInt(a.ToInt() | b.ToInt()), true
	case opcodes.OP_BIT_XOR:
		return values.NewInt(a.ToInt() ^ b.ToInt()), true
	case opcodes.OP_SHL:
		return values.NewInt(a.ToInt() << uint(b.ToInt())), true
	case opcodes.OP_SHR:
		return values.NewInt(a.ToInt() >> uint(b.ToInt())), true
	default:
		return nil, false
	}
}

// deadCodePass neutralizes instructions a straight-line, forward-only
// reachability walk can prove dead: the instructions strictly between an
// unconditional JMP/RET/RET_VOID/THROW/HALT and the next instruction any
// earlier jump or exception-table entry could still land on. It never
// removes instructions (see the package doc) — only blanks them to NOP.
type deadCodePass struct{}

func (p *deadCodePass) name() string { return "DeadCodeElimination" }

func (p *deadCodePass) run(fn *registry.Function) bool {
	instr := fn.Instructions
	if len(instr) == 0 {
		return false
	}
	reachable := make([]bool, len(instr))
	landable := make([]bool, len(instr))
	landable[0] = true
	for _, in := range instr {
		switch in.Op {
		case opcodes.OP_JMP, opcodes.OP_JZ, opcodes.OP_JNZ, opcodes.OP_FOREACH_NEXT:
			if int(in.A) < len(landable) {
				landable[in.A] = true
			}
		}
	}
	// A catch/finally block is entered only via vm.unwind setting fr.pc
	// directly — never through an ordinary jump instruction — so the scan
	// above can never find it. Mark every exception-table entry point
	// landable explicitly, including the whole [FinallyPC, FinallyEnd)
	// range a finally block occupies.
	for _, ex := range fn.ExceptionTable {
		if ex.HasCatch && int(ex.HandlerPC) < len(landable) {
			landable[ex.HandlerPC] = true
		}
		if ex.HasFinally {
			start := int(ex.FinallyPC)
			end := int(ex.FinallyEnd)
			if end > len(landable) {
				end = len(landable)
			}
			for i := start; i >= 0 && i < end; i++ {
				landable[i] = true
			}
		}
	}
	var mark func(i int)
	mark = func(i int) {
		for i >= 0 && i < len(instr) && !reachable[i] {
			reachable[i] = true
			switch instr[i].Op {
			case opcodes.OP_JMP:
				mark(int(instr[i].A))
				return
			case opcodes.OP_RET, opcodes.OP_RET_VOID, opcodes.OP_THROW, opcodes.OP_HALT:
				return
			case opcodes.OP_JZ, opcodes.OP_JNZ:
				mark(int(instr[i].A))
			}
			i++
		}
	}
	mark(0)
	// Anything a jump, the exception table, or a foreach cursor could land
	// on must stay live even if this pass's own straight-line walk from pc
	// 0 never reached it (a handler entered only via thrown-exception
	// control flow, or a loop body revisited only through FOREACH_NEXT) —
	// re-run the same walk starting from each such entry point so the rest
	// of that block is marked live too, not just its first instruction.
	for i, l := range landable {
		if l {
			mark(i)
		}
	}

	changed := false
	for i, in := range instr {
		if !reachable[i] && in.Op != opcodes.OP_NOP {
			nop(in)
			changed = true
		}
	}
	return changed
}

// peepholePass cleans up small, purely local redundancies: a DUP whose
// duplicate is immediately discarded, or a PUSH_CONST/PUSH_NULL immediately
// popped without ever being observed.
type peepholePass struct{}

func (p *peepholePass) name() string { return "PeepholeOptimization" }

func (p *peepholePass) run(fn *registry.Function) bool {
	instr := fn.Instructions
	landable := landableSet(fn)
	changed := false
	for i := 0; i+1 < len(instr); i++ {
		cur, next := instr[i], instr[i+1]
		if cur.Op == opcodes.OP_NOP || next.Op != opcodes.OP_POP {
			continue
		}
		// A jump landing on the POP expects to discard a value some other
		// path pushed; removing the pair would pop the wrong thing there.
		if landable[i+1] {
			continue
		}
		switch cur.Op {
		case opcodes.OP_DUP, opcodes.OP_PUSH_CONST, opcodes.OP_PUSH_LOCAL, opcodes.OP_PUSH_GLOBAL,
			opcodes.OP_PUSH_NULL, opcodes.OP_PUSH_TRUE, opcodes.OP_PUSH_FALSE,
			opcodes.OP_PUSH_INT_0, opcodes.OP_PUSH_INT_1:
			nop(cur)
			nop(next)
			changed = true
		}
	}
	return changed
}

// jumpPass folds a jump-to-the-next-instruction into a NOP (it's a no-op by
// construction) and collapses jump chains (a JMP landing on another
// unconditional JMP retargets straight to the chain's end).
type jumpPass struct{}

func (p *jumpPass) name() string { return "JumpOptimization" }

func (p *jumpPass) run(fn *registry.Function) bool {
	instr := fn.Instructions
	changed := false
	for i, in := range instr {
		switch in.Op {
		case opcodes.OP_JMP, opcodes.OP_JZ, opcodes.OP_JNZ:
			if int(in.A) == i+1 {
				nop(in)
				changed = true
				continue
			}
			if target, ok := resolveJumpChain(instr, int(in.A)); ok && target != int(in.A) {
				in.A = uint16(target)
				changed = true
			}
		}
	}
	return changed
}

func resolveJumpChain(instr []*opcodes.Instruction, target int) (int, bool) {
	visited := map[int]bool{}
	moved := false
	for target >= 0 && target < len(instr) && !visited[target] {
		visited[target] = true
		t := instr[target]
		if t.Op != opcodes.OP_JMP || int(t.A) == target {
			break
		}
		target = int(t.A)
		moved = true
	}
	return target, moved
}

// tailCallPass flags an OP_CALL/OP_CALL_METHOD/OP_CALL_STATIC immediately
// followed by OP_RET with FlagTailCall, a hint a future VM revision could
// use to reuse the current frame instead of pushing a new one. The VM
// doesn't act on the flag today (no trampoline in the dispatch loop yet) —
// this pass only marks the sites.
type tailCallPass struct{}

func (p *tailCallPass) name() string { return "TailCallMarking" }

func (p *tailCallPass) run(fn *registry.Function) bool {
	instr := fn.Instructions
	changed := false
	for i := 0; i+1 < len(instr); i++ {
		cur, next := instr[i], instr[i+1]
		if next.Op != opcodes.OP_RET || cur.Flags.Has(opcodes.FlagTailCall) {
			continue
		}
		switch cur.Op {
		case opcodes.OP_CALL, opcodes.OP_CALL_METHOD, opcodes.OP_CALL_STATIC, opcodes.OP_CALL_BUILTIN, opcodes.OP_CLOSURE_CALL:
			cur.Flags |= opcodes.FlagTailCall
			changed = true
		}
	}
	return changed
}
