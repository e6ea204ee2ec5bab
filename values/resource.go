package values

import "github.com/wudi/heyvm/heap"

// Resource wraps an opaque host-side handle (a PDO connection, an open
// file, ...). Resources are acyclic: they're never part of a reference
// cycle the collector needs to break, only ever refcounted.
type Resource struct {
	box    *heap.Box
	Kind   string
	Handle interface{}
	Closer func() error
	closed bool
}

// NewResource allocates a resource value. kind is a short label
// (`"pdo"`, `"stream"`, ...) surfaced by var_dump/get_resource_type.
func NewResource(kind string, handle interface{}, closer func() error) *Value {
	r := &Resource{Kind: kind, Handle: handle, Closer: closer}
	r.box = heap.NewBox(heap.KindResource, true, r)
	return &Value{typ: TypeResource, box: r.box, composite: r}
}

func (r *Resource) Children() []*heap.Box { return nil }

func (r *Resource) Destroy() {
	if r.closed || r.Closer == nil {
		return
	}
	r.closed = true
	_ = r.Closer()
}

func (v *Value) ResourceData() *Resource {
	r, _ := v.composite.(*Resource)
	return r
}
