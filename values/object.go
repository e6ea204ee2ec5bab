package values

import "github.com/wudi/heyvm/heap"

// ShapeDescriptor is the subset of a registry.Shape that values needs to
// lay out an object's properties without importing the registry package
// (which itself depends on values for default-value constants — the
// interface boundary keeps values -> registry from becoming a cycle).
type ShapeDescriptor interface {
	ID() uint32
	ClassName() string
	SlotFor(name string) (int, bool)
	SlotCount() int
	PropertyNames() []string
}

// PHPObject is a class instance. Properties declared by the class occupy
// fixed slots (shape.SlotFor) so the VM's inline caches can fetch them by
// index; dynamic properties added at runtime fall back to dynamicProps.
type PHPObject struct {
	box          *heap.Box
	shape        ShapeDescriptor
	slots        []*Value
	dynamicProps map[string]*Value
	dynamicOrder []string
	destructed   bool
	id           uint64
}

var nextObjectID uint64

// NewObject allocates an instance of shape with all declared slots set to
// PHP null. Callers (typically the `new` opcode handler) overwrite slots
// with constructor-initialized values afterward.
func NewObject(shape ShapeDescriptor) *Value {
	nextObjectID++
	o := &PHPObject{
		shape: shape,
		slots: make([]*Value, shape.SlotCount()),
		id:    nextObjectID,
	}
	for i := range o.slots {
		o.slots[i] = NewNull()
	}
	o.box = heap.NewBox(heap.KindObject, false, o)
	return &Value{typ: TypeObject, box: o.box, composite: o}
}

func (o *PHPObject) Children() []*heap.Box {
	var out []*heap.Box
	for _, s := range o.slots {
		if s != nil {
			if b := s.Box(); b != nil {
				out = append(out, b)
			}
		}
	}
	for _, name := range o.dynamicOrder {
		if v, ok := o.dynamicProps[name]; ok {
			if b := v.Box(); b != nil {
				out = append(out, b)
			}
		}
	}
	return out
}

// DestructHook lets the vm package run a PHP-level __destruct before a box's
// children are released, since __destruct can execute arbitrary bytecode
// this package has no means to run itself. The vm package sets this once,
// at VM construction; nil is a valid no-op default (e.g. during compiler
// unit tests that never construct a VM).
var DestructHook func(*Value)

// Destroy is called by the collector/Release path. It invokes DestructHook
// exactly once per object, before clearing slots, so __destruct sees a
// fully-populated $this (I1: destructor runs before children are torn down).
func (o *PHPObject) Destroy() {
	if !o.destructed && DestructHook != nil {
		o.destructed = true
		DestructHook(&Value{typ: TypeObject, box: o.box, composite: o})
	}
	o.slots = nil
	o.dynamicProps = nil
	o.dynamicOrder = nil
}

// ObjectID returns a process-unique identifier, the backing store for
// spl_object_id.
func (o *PHPObject) ObjectID() uint64 { return o.id }

// ClassName returns the instance's runtime class name.
func (o *PHPObject) ClassName() string { return o.shape.ClassName() }

// Shape returns the object's property-layout descriptor, consulted by the
// VM's inline caches to validate a cached slot index still applies.
func (o *PHPObject) Shape() ShapeDescriptor { return o.shape }

// Destructed reports whether __destruct has already run, so the VM never
// invokes it twice (a box can be released once explicitly and once more
// via cycle collection racing the same resurrection-tolerant path).
func (o *PHPObject) Destructed() bool { return o.destructed }

// MarkDestructed flags the object so a second Release/collect pass skips
// re-invoking __destruct.
func (o *PHPObject) MarkDestructed() { o.destructed = true }

// GetProp fetches a property by name, checking declared slots first.
func (o *PHPObject) GetProp(name string) (*Value, bool) {
	if slot, ok := o.shape.SlotFor(name); ok {
		return o.slots[slot], true
	}
	v, ok := o.dynamicProps[name]
	return v, ok
}

// GetSlot fetches a declared property directly by shape slot index, the
// fast path a monomorphic inline cache takes.
func (o *PHPObject) GetSlot(slot int) *Value {
	return o.slots[slot]
}

// SetSlot overwrites a declared property by shape slot index, retaining
// the incoming value's box and releasing the one it replaces.
func (o *PHPObject) SetSlot(slot int, v *Value) {
	retainVal(v)
	releaseVal(o.slots[slot])
	o.slots[slot] = v
}

// SetProp sets a property by name, falling through to a dynamic property
// when the class doesn't declare it (PHP objects allow ad hoc properties
// unless the class is declared `final` with typed properties only — that
// restriction lives in the registry/compiler layer, not here). The
// property edge retains the incoming box and releases the overwritten one.
func (o *PHPObject) SetProp(name string, v *Value) {
	if slot, ok := o.shape.SlotFor(name); ok {
		o.SetSlot(slot, v)
		return
	}
	retainVal(v)
	if o.dynamicProps == nil {
		o.dynamicProps = make(map[string]*Value)
	}
	if old, exists := o.dynamicProps[name]; exists {
		releaseVal(old)
	} else {
		o.dynamicOrder = append(o.dynamicOrder, name)
	}
	o.dynamicProps[name] = v
}

// UnsetProp removes a dynamic property; unsetting a declared slot instead
// resets it to null (PHP never removes the storage for a typed property).
// Either way the edge's reference is released.
func (o *PHPObject) UnsetProp(name string) {
	if slot, ok := o.shape.SlotFor(name); ok {
		releaseVal(o.slots[slot])
		o.slots[slot] = NewNull()
		return
	}
	if old, exists := o.dynamicProps[name]; exists {
		releaseVal(old)
		delete(o.dynamicProps, name)
		for i, n := range o.dynamicOrder {
			if n == name {
				o.dynamicOrder = append(o.dynamicOrder[:i], o.dynamicOrder[i+1:]...)
				break
			}
		}
	}
}

func (v *Value) objectData() *PHPObject {
	o, _ := v.Deref().composite.(*PHPObject)
	return o
}

func (v *Value) ObjectGet(name string) *Value {
	o := v.objectData()
	if o == nil {
		return NewNull()
	}
	if val, ok := o.GetProp(name); ok {
		return val
	}
	return NewNull()
}

func (v *Value) ObjectSet(name string, val *Value) {
	if o := v.objectData(); o != nil {
		o.SetProp(name, val)
	}
}

func (v *Value) ObjectUnset(name string) {
	if o := v.objectData(); o != nil {
		o.UnsetProp(name)
	}
}

// ObjectShape returns the object's property-layout descriptor, or nil for
// a value that isn't an object. The vm package's property/method inline
// caches key their entries on the shape's id.
func (v *Value) ObjectShape() ShapeDescriptor {
	o := v.objectData()
	if o == nil {
		return nil
	}
	return o.shape
}

// ObjectGetSlot reads a declared property directly by shape slot index,
// the inline-cache hit path.
func (v *Value) ObjectGetSlot(slot int) *Value {
	o := v.objectData()
	if o == nil || slot < 0 || slot >= len(o.slots) {
		return NewNull()
	}
	return o.slots[slot]
}

// ObjectSetSlot overwrites a declared property by shape slot index.
func (v *Value) ObjectSetSlot(slot int, val *Value) {
	o := v.objectData()
	if o == nil || slot < 0 || slot >= len(o.slots) {
		return
	}
	o.SetSlot(slot, val)
}

// ObjectHasProp reports whether the property exists on the instance,
// either as a declared slot or as a dynamic property.
func (v *Value) ObjectHasProp(name string) bool {
	o := v.objectData()
	if o == nil {
		return false
	}
	if _, ok := o.shape.SlotFor(name); ok {
		return true
	}
	_, ok := o.dynamicProps[name]
	return ok
}

// ObjectClassName returns an object's runtime class name, or "" for a
// value that isn't an object.
func (v *Value) ObjectClassName() string {
	o := v.objectData()
	if o == nil {
		return ""
	}
	return o.ClassName()
}

// ObjectIdentity returns the object's process-unique id, the backing store
// for spl_object_id, or false for non-objects.
func (v *Value) ObjectIdentity() (uint64, bool) {
	o := v.objectData()
	if o == nil {
		return 0, false
	}
	return o.ObjectID(), true
}

// ObjectPropertyNames returns an object's declared properties (in slot
// order) followed by its dynamic properties (in insertion order) — the
// enumeration order get_object_vars, var_dump and json_encode all rely on.
func (v *Value) ObjectPropertyNames() []string {
	o := v.objectData()
	if o == nil {
		return nil
	}
	names := append([]string{}, o.shape.PropertyNames()...)
	return append(names, o.dynamicOrder...)
}
