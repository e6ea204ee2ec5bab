package vm

import (
	stderrors "errors"
	"fmt"

	"github.com/wudi/heyvm/compiler"
	"github.com/wudi/heyvm/errors"
	"github.com/wudi/heyvm/heap"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/stdlib"
	"github.com/wudi/heyvm/values"
)

// VM executes one compiler.Result: Main plus every function/class/interface/
// trait it declared, against a private registry.Registry so concurrent runs
// never share state (registry.NewRegistry's own doc comment recommends this
// over the process-wide GlobalRegistry singleton for exactly that reason).
type VM struct {
	cfg       *Config
	reg       *registry.Registry
	collector *heap.Collector
	out       *OutputBufferStack
	execCtx   *ExecutionContext

	globals     []*values.Value
	globalNames map[string]uint16

	main     *registry.Function
	frames   []*CallFrame
	halted   bool
	exitCode int

	propCaches   map[siteKey]*propCache
	methodCaches map[siteKey]*methodCache
}

// New constructs a VM against a fresh registry; cfg may be nil for defaults.
func New(cfg *Config) *VM {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	vm := &VM{
		cfg:          cfg,
		reg:          registry.NewRegistry(),
		collector:    heap.NewCollector(cfg.GCThreshold, cfg.logger().Writer()),
		out:          NewOutputBufferStack(cfg.Stdout),
		execCtx:      newExecutionContext(),
		globalNames:  make(map[string]uint16),
		propCaches:   make(map[siteKey]*propCache),
		methodCaches: make(map[siteKey]*methodCache),
	}
	if cfg.TimeLimitSecs > 0 {
		vm.execCtx.SetTimeLimit(cfg.TimeLimitSecs)
	}
	heap.SetActive(vm.collector)
	values.DestructHook = vm.runDestructor
	return vm
}

// rel releases one owned reference against this VM's collector.
func (vm *VM) rel(v *values.Value) {
	if v != nil {
		v.Release(vm.collector)
	}
}

func (vm *VM) relAll(vs []*values.Value) {
	for _, v := range vs {
		vm.rel(v)
	}
}

// teardownFrame releases every reference the frame's local slots and any
// leftover operand-stack entries still own.
func (vm *VM) teardownFrame(fr *CallFrame) {
	for _, v := range fr.local {
		vm.rel(v)
	}
	for _, v := range fr.stack {
		vm.rel(v)
	}
	fr.local, fr.stack = nil, nil
}

// Load installs a compiled program's declarations into the VM's registry.
// Must run before Run; may be called once per VM (declarations from a
// second Load would collide with the first's globals numbering).
func (vm *VM) Load(res *compiler.Result) error {
	if err := stdlib.Register(vm.reg); err != nil {
		return fmt.Errorf("vm: registering builtins: %w", err)
	}
	for _, fn := range res.Functions {
		if err := vm.reg.RegisterFunction(fn); err != nil {
			return err
		}
	}
	for _, cls := range res.Classes {
		if err := vm.reg.RegisterClass(cls); err != nil {
			return err
		}
	}
	for _, iface := range res.Interfaces {
		if err := vm.reg.RegisterInterface(iface); err != nil {
			return err
		}
	}
	for _, tr := range res.Traits {
		if err := vm.reg.RegisterTrait(tr); err != nil {
			return err
		}
	}
	vm.globalNames = res.GlobalNames
	slots := uint16(0)
	for _, slot := range res.GlobalNames {
		if slot+1 > slots {
			slots = slot + 1
		}
	}
	vm.globals = make([]*values.Value, slots)
	for i := range vm.globals {
		vm.globals[i] = values.NewNull()
	}
	vm.main = res.Main
	return nil
}

// Run executes Main to completion, returning the uncaught exception (if
// any escaped) or a fatal Go error (bad bytecode, a non-Recoverable
// errors.VMError).
func (vm *VM) Run() error {
	if vm.main == nil {
		return stderrors.New("vm: Load was not called")
	}
	_, err := vm.invoke(vm.main, "{main}", nil, "", nil)
	for i, g := range vm.globals {
		vm.rel(g)
		vm.globals[i] = values.NewNull()
	}
	vm.collector.Collect()
	if err == nil {
		return nil
	}
	var halt *haltError
	if stderrors.As(err, &halt) {
		vm.exitCode = halt.code
		return nil
	}
	var thrown *thrownError
	if stderrors.As(err, &thrown) {
		return fmt.Errorf("PHP Fatal error: Uncaught %s: %s", thrown.value.ObjectClassName(), thrown.value.ObjectGet("message").ToString())
	}
	return err
}

// ExitCode reports the process exit code requested by exit()/die(), 0 if
// the script never called either.
func (vm *VM) ExitCode() int { return vm.exitCode }

// invoke runs fn (builtin or user) as one call, binding args to parameters
// per fn's declared signature. this is nil outside method/closure calls.
func (vm *VM) invoke(fn *registry.Function, desc string, this *values.Value, class string, args []*values.Value) (*values.Value, error) {
	if len(vm.frames) >= vm.cfg.MaxCallDepth {
		return nil, errors.New(errors.FatalError, "allowed call stack depth exhausted: "+desc)
	}
	if fn.IsBuiltin {
		return vm.invokeBuiltin(fn, this, args)
	}

	fr := newCallFrame(fn, desc, this, class)
	vm.frames = append(vm.frames, fr)
	defer func() {
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.teardownFrame(fr)
	}()
	if err := vm.bindParams(fr, fn, args); err != nil {
		return nil, err
	}
	return vm.runFrame(fr)
}

// invokeMethod is invoke with the receiver's declaring class threaded
// through as the method's class scope (so self:: inside it resolves there,
// not to the receiver's own possibly-derived class).
func (vm *VM) invokeMethod(fn *registry.Function, declaringClass string, this *values.Value, args []*values.Value) (*values.Value, error) {
	return vm.invoke(fn, fn.Name, this, declaringClass, args)
}

// runFrame drives fr's dispatch loop to completion: a normal return, an
// exception that escapes every try in fr (returned as *thrownError), or a
// halt (exit/die, returned as *haltError).
func (vm *VM) runFrame(fr *CallFrame) (*values.Value, error) {
	for {
		atPC := fr.pc
		sig, err := vm.step(fr)
		if err != nil {
			return nil, err
		}
		switch sig.kind {
		case sigNone:
			continue
		case sigReturn:
			return sig.value, nil
		case sigHalt:
			return nil, &haltError{code: sig.haltCode, msg: sig.haltMsg}
		case sigThrow:
			outcome, uerr := vm.unwind(fr, atPC, sig.value)
			if uerr != nil {
				return nil, uerr
			}
			if outcome.resumePC >= 0 {
				fr.push(sig.value)
				fr.pc = outcome.resumePC
				continue
			}
			if outcome.returned {
				return outcome.retVal, nil
			}
			return nil, &thrownError{value: outcome.thrown}
		}
	}
}

func (vm *VM) bindParams(fr *CallFrame, fn *registry.Function, args []*values.Value) error {
	if len(args) < fn.MinArgs {
		return vm.raiseFatal(errors.ArgumentCountError, fmt.Sprintf("Too few arguments to function %s(), %d passed and at least %d expected", fn.Name, len(args), fn.MinArgs))
	}
	base := 0
	if fr.this != nil {
		base = 1
	}
	for i, p := range fn.Parameters {
		slot := uint16(base + i)
		if p.IsVariadic {
			rest := values.NewArray()
			for _, a := range args[i:] {
				rest.ArrayAppend(a)
			}
			fr.setLocal(slot, rest)
			vm.rel(rest) // the slot holds its own reference now
			return nil
		}
		switch {
		case i < len(args):
			fr.setLocal(slot, args[i])
		case p.HasDefault:
			fr.setLocal(slot, p.DefaultValue)
		default:
			fr.setLocal(slot, values.NewNull())
		}
	}
	return nil
}

// invokeBuiltin calls a stdlib-registered function/method. Builtin methods
// (e.g. Exception::getMessage) follow stdlib/exceptions.go's calling
// convention: the receiver rides as args[0], the call's own arguments
// follow — so a non-nil this is prepended here before dispatch.
func (vm *VM) invokeBuiltin(fn *registry.Function, this *values.Value, args []*values.Value) (*values.Value, error) {
	callArgs := args
	if this != nil {
		callArgs = append([]*values.Value{this}, args...)
	}
	if len(callArgs) < fn.MinArgs || (fn.MaxArgs >= 0 && len(callArgs) > fn.MaxArgs) {
		return nil, vm.raiseFatal(errors.ArgumentCountError,
			fmt.Sprintf("%s() expects between %d and %d arguments, %d given", fn.Name, fn.MinArgs, fn.MaxArgs, len(callArgs)))
	}
	ret, err := fn.Builtin(vm, callArgs)
	if err == nil {
		if ret == nil {
			ret = values.NewNull()
		}
		return ret, nil
	}
	return nil, vm.classifyBuiltinErr(err)
}

// classifyBuiltinErr turns a builtin's returned error into the uniform
// control-flow shape the dispatch loop understands: a catchable PHP
// exception (thrownError) or an unrecoverable halt (haltError). Shared by
// invokeBuiltin and OP_CALL_BUILTIN's direct-dispatch fast path so both
// call shapes raise identically.
func (vm *VM) classifyBuiltinErr(err error) error {
	if stderrors.Is(err, values.ErrDivisionByZero) {
		return vm.raiseFatal(errors.DivisionByZeroError, "Division by zero")
	}
	var vmErr *errors.VMError
	if stderrors.As(err, &vmErr) {
		if !vmErr.Recoverable() {
			return &haltError{code: 255, msg: vmErr.Error()}
		}
		if vmErr.Exception != nil {
			if v, ok := vmErr.Exception.(*values.Value); ok {
				return &thrownError{value: v}
			}
		}
		return vm.raiseFatal(vmErr.Kind, vmErr.Message)
	}
	return vm.raiseFatal(errors.UncaughtException, err.Error())
}

// raiseFatal builds a catchable exception object for kind and wraps it as a
// thrownError, the uniform way every VM-detected runtime fault (division by
// zero, undefined method, bad argument count) becomes ordinary PHP control
// flow instead of a Go panic.
func (vm *VM) raiseFatal(kind errors.Kind, message string) error {
	className := kind.String()
	if _, err := vm.reg.GetClass(className); err != nil {
		className = "Error"
	}
	exc, err := stdlib.NewException(vm.reg, className, message)
	if err != nil {
		return errors.New(kind, message)
	}
	return &thrownError{value: exc}
}

func (vm *VM) runDestructor(obj *values.Value) {
	className := obj.ObjectClassName()
	class, err := vm.reg.GetClass(className)
	if err != nil {
		return
	}
	fn, owner, ok := vm.findMethod(class, "__destruct")
	if !ok {
		return
	}
	_, _ = vm.invokeMethod(fn, owner, obj, nil)
}

// --- registry.BuiltinCallContext ---

func (vm *VM) WriteOutput(val *values.Value) error {
	_, err := vm.out.Write([]byte(val.ToString()))
	return err
}

func (vm *VM) GetGlobal(name string) (*values.Value, bool) {
	slot, ok := vm.globalNames[name]
	if !ok || int(slot) >= len(vm.globals) {
		return nil, false
	}
	return vm.globals[slot], true
}

func (vm *VM) SetGlobal(name string, val *values.Value) {
	slot, ok := vm.globalNames[name]
	if !ok {
		slot = uint16(len(vm.globals))
		vm.globalNames[name] = slot
	}
	vm.storeGlobalSlot(slot, val)
}

func (vm *VM) pushGlobalSlot(slot uint16) *values.Value {
	if int(slot) >= len(vm.globals) {
		return values.NewNull()
	}
	return vm.globals[slot]
}

// storeGlobalSlot stores v into a global slot with the same ownership
// rule as CallFrame.setLocal: retain the incoming value, release the one
// being replaced.
func (vm *VM) storeGlobalSlot(slot uint16, v *values.Value) {
	for int(slot) >= len(vm.globals) {
		vm.globals = append(vm.globals, values.NewNull())
	}
	if v != nil {
		v.Retain()
	}
	vm.rel(vm.globals[slot])
	vm.globals[slot] = v
}

func (vm *VM) SymbolRegistry() *registry.Registry { return vm.reg }

func (vm *VM) LookupUserFunction(name string) (*registry.Function, bool) {
	fn, ok := vm.reg.GetFunction(name)
	if !ok || fn.IsBuiltin {
		return nil, false
	}
	return fn, true
}

func (vm *VM) LookupUserClass(name string) (*registry.Class, bool) {
	cls, err := vm.reg.GetClass(name)
	if err != nil {
		return nil, false
	}
	return cls, true
}

func (vm *VM) Halt(exitCode int, message string) error {
	vm.halted = true
	return &haltError{code: exitCode, msg: message}
}

// CollectCycles runs one cycle-collection pass and reports how many boxes
// it reclaimed, the engine hook behind the gc_collect_cycles builtin.
func (vm *VM) CollectCycles() int {
	return vm.collector.Collect().Collected
}

func (vm *VM) GetExecutionContext() registry.ExecutionContextInterface { return vm.execCtx }

func (vm *VM) GetOutputBufferStack() registry.OutputBufferStackInterface { return vm.out }

var _ registry.BuiltinCallContext = (*VM)(nil)
