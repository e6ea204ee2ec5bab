package values

import "github.com/wudi/heyvm/heap"

// CompiledFunction is satisfied by *registry.Function and by the vm
// package's closure prototypes; values cannot import either package (both
// depend on values), so closures hold the function body behind this
// interface.
type CompiledFunction interface {
	FunctionName() string
}

// Closure is a PHP Closure: a compiled function body plus the variables
// it captured from its defining scope, either by value (a private copy)
// or by reference (BoundVars holding the *Value itself, so writes are
// visible to the enclosing scope, PHP's `use (&$x)` form).
type Closure struct {
	box        *heap.Box
	Fn         CompiledFunction
	BoundVars  map[string]*Value
	BoundOrder []string
	This       *Value // bound $this for closures created from a method
	Name       string
}

// NewClosure allocates a closure value. boundVars is copied so callers may
// reuse their working map. The closure takes ownership of the references
// behind boundVars and this: callers retain beforehand if they keep using
// those values, and the closure's box releases them when it is freed.
func NewClosure(fn CompiledFunction, boundVars map[string]*Value, order []string, this *Value, name string) *Value {
	c := &Closure{
		Fn:         fn,
		BoundVars:  make(map[string]*Value, len(boundVars)),
		BoundOrder: append([]string(nil), order...),
		This:       this,
		Name:       name,
	}
	for k, v := range boundVars {
		c.BoundVars[k] = v
	}
	c.box = heap.NewBox(heap.KindClosure, false, c)
	return &Value{typ: TypeClosure, box: c.box, composite: c}
}

func (c *Closure) Children() []*heap.Box {
	var out []*heap.Box
	for _, name := range c.BoundOrder {
		if v, ok := c.BoundVars[name]; ok {
			if b := v.Box(); b != nil {
				out = append(out, b)
			}
		}
	}
	if c.This != nil {
		if b := c.This.Box(); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (c *Closure) Destroy() {
	c.BoundVars = nil
	c.BoundOrder = nil
	c.This = nil
}

func (v *Value) ClosureData() *Closure {
	c, _ := v.composite.(*Closure)
	return c
}
