package vm

import (
	"sort"

	"github.com/wudi/heyvm/opcodes"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// thrownError carries a PHP exception object up through Go's call stack
// while a frame's own exception table is searched for a handler; it is
// never shown to PHP code directly.
type thrownError struct{ value *values.Value }

func (e *thrownError) Error() string {
	if e.value == nil {
		return "uncaught exception"
	}
	return "uncaught " + e.value.ObjectClassName()
}

// haltError unwinds every frame without running finally blocks, the signal
// `exit`/`die` and fatal (non-Recoverable) errors use.
type haltError struct {
	code int
	msg  string
}

func (e *haltError) Error() string { return e.msg }

// groupExceptionTable returns the ExceptionEntry rows covering pc, grouped
// by identical [Start,End) range and ordered innermost-range-first. Nested
// trys always produce strictly distinct ranges (compiler/stmt.go's
// compileTry records each try's own [start,end) before compiling the next
// one out), so grouping by exact range equality reconstructs nesting with
// no extra metadata from the compiler.
func groupExceptionTable(table []opcodes.ExceptionEntry, pc int) [][]opcodes.ExceptionEntry {
	type rng struct{ start, end uint32 }
	groups := make(map[rng][]opcodes.ExceptionEntry)
	var order []rng
	for _, e := range table {
		if uint32(pc) < e.Start || uint32(pc) >= e.End {
			continue
		}
		r := rng{e.Start, e.End}
		if _, ok := groups[r]; !ok {
			order = append(order, r)
		}
		groups[r] = append(groups[r], e)
	}
	sort.Slice(order, func(i, j int) bool {
		return (order[i].end - order[i].start) < (order[j].end - order[j].start)
	})
	out := make([][]opcodes.ExceptionEntry, len(order))
	for i, r := range order {
		out[i] = groups[r]
	}
	return out
}

func (vm *VM) catchMatches(fn *registry.Function, catchType uint16, thrown *values.Value) bool {
	if catchType == opcodes.NoCatchType {
		return false
	}
	if int(catchType) >= len(fn.Constants) {
		return false
	}
	typeName := fn.Constants[catchType].ToString()
	return vm.resolveInstanceOf(thrown, typeName)
}

// unwindOutcome is the result of searching a frame's exception table for a
// handler for a thrown value reached at pc.
type unwindOutcome struct {
	resumePC int // >= 0 when a catch matched; fr.pc should jump there
	returned bool
	retVal   *values.Value
	thrown   *values.Value // set when unhandled (possibly replaced by a finally)
}

// unwind walks fr's exception table outward from pc looking for a matching
// catch; any finally encountered along the way that isn't reached by a
// matched catch (because the bytecode already falls through into finally
// in that case, see compileTry) is executed as a bounded sub-run before the
// search continues to the next enclosing try.
func (vm *VM) unwind(fr *CallFrame, pc int, thrown *values.Value) (unwindOutcome, error) {
	for _, group := range groupExceptionTable(fr.fn.ExceptionTable, pc) {
		for _, e := range group {
			if e.HasCatch && vm.catchMatches(fr.fn, e.CatchType, thrown) {
				return unwindOutcome{resumePC: int(e.HandlerPC)}, nil
			}
		}
		for _, e := range group {
			if !e.HasFinally {
				continue
			}
			retVal, didReturn, newThrown, err := vm.runFinallyRange(fr, int(e.FinallyPC), int(e.FinallyEnd))
			if err != nil {
				return unwindOutcome{}, err
			}
			if didReturn {
				vm.rel(thrown) // a return in finally discards the pending exception
				return unwindOutcome{returned: true, retVal: retVal}, nil
			}
			if newThrown != nil {
				vm.rel(thrown) // replaced by the exception the finally threw
				thrown = newThrown
			}
		}
	}
	return unwindOutcome{resumePC: -1, thrown: thrown}, nil
}

// runFinallyRange executes [start,end) of fr's own bytecode as a bounded
// sub-run sharing fr's locals, saving and restoring fr.pc and fr.stack so
// the in-flight unwind's operand stack state isn't disturbed.
func (vm *VM) runFinallyRange(fr *CallFrame, start, end int) (retVal *values.Value, didReturn bool, thrown *values.Value, err error) {
	savedPC := fr.pc
	savedStack := fr.stack
	fr.pc = start
	fr.stack = make([]*values.Value, 0, 8)
	defer func() {
		for _, v := range fr.stack {
			vm.rel(v)
		}
		fr.pc = savedPC
		fr.stack = savedStack
	}()

	for fr.pc < end {
		sig, serr := vm.step(fr)
		if serr != nil {
			return nil, false, nil, serr
		}
		switch sig.kind {
		case sigReturn:
			return sig.value, true, nil, nil
		case sigThrow:
			return nil, false, sig.value, nil
		case sigHalt:
			return nil, false, nil, &haltError{code: sig.haltCode, msg: sig.haltMsg}
		}
	}
	return nil, false, nil, nil
}
