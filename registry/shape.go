package registry

import (
	"fmt"
	"sort"

	"github.com/wudi/heyvm/values"
)

// Shape is the finalized property layout of a class:
// a stable shape id plus a name->slot-offset table. It implements
// values.ShapeDescriptor so PHPObject can lay out property slots without
// values importing registry.
type Shape struct {
	id      uint32
	class   string
	offsets map[string]int
	names   []string // slot index -> property name, for var_dump/get_object_vars order
}

func (s *Shape) ID() uint32        { return s.id }
func (s *Shape) ClassName() string { return s.class }
func (s *Shape) SlotCount() int    { return len(s.names) }

func (s *Shape) SlotFor(name string) (int, bool) {
	off, ok := s.offsets[name]
	return off, ok
}

// PropertyNames returns the shape's declared properties in slot order.
func (s *Shape) PropertyNames() []string { return s.names }

var _ values.ShapeDescriptor = (*Shape)(nil)

// FinalizeClass resolves a class's inheritance chain (parent properties,
// then trait properties, then its own, matching PHP's override order) and
// stamps a shape id on it. Finalization is idempotent: calling it again on
// an already-finalized class returns the same Shape; shape ids and
// offsets are immutable once assigned.
func (r *Registry) FinalizeClass(name string) (*Shape, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalizeClassLocked(keyFor(name), make(map[string]bool))
}

func (r *Registry) finalizeClassLocked(key string, visiting map[string]bool) (*Shape, error) {
	class, ok := r.classes[key]
	if !ok {
		return nil, fmt.Errorf("class %s not registered", key)
	}
	if class.shape != nil {
		return class.shape, nil
	}
	if visiting[key] {
		return nil, fmt.Errorf("circular inheritance detected at class %s", key)
	}
	visiting[key] = true

	var names []string
	offsets := make(map[string]int)
	add := func(propName string) {
		if _, exists := offsets[propName]; exists {
			return
		}
		offsets[propName] = len(names)
		names = append(names, propName)
	}

	if class.Parent != "" {
		parentShape, err := r.finalizeClassLocked(keyFor(class.Parent), visiting)
		if err != nil {
			return nil, err
		}
		for _, n := range parentShape.names {
			add(n)
		}
	}

	for _, traitName := range class.Traits {
		trait, ok := r.traits[keyFor(traitName)]
		if !ok {
			continue
		}
		traitProps := make([]string, 0, len(trait.Properties))
		for propName := range trait.Properties {
			traitProps = append(traitProps, propName)
		}
		sort.Strings(traitProps)
		for _, n := range traitProps {
			add(n)
		}
	}

	ownProps := make([]string, 0, len(class.Properties))
	for propName, prop := range class.Properties {
		if prop.IsStatic {
			continue
		}
		ownProps = append(ownProps, propName)
	}
	sort.Strings(ownProps)
	for _, n := range ownProps {
		add(n)
	}

	r.nextShapeID++
	shape := &Shape{id: r.nextShapeID, class: class.Name, offsets: offsets, names: names}
	class.shape = shape
	r.shapes[shape.id] = shape
	return shape, nil
}

// ShapeFor returns a class's shape, finalizing it first if necessary.
func (r *Registry) ShapeFor(className string) (*Shape, error) {
	return r.FinalizeClass(className)
}
