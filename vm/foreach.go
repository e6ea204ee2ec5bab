package vm

import "github.com/wudi/heyvm/values"

// foreachCursor backs OP_FOREACH_INIT/OP_FOREACH_NEXT. It holds a snapshot
// taken once at init time (values.PHPArray.Snapshot), so mutating the
// source array during iteration is never observed mid-loop, matching PHP's
// foreach-over-a-copy semantics for plain arrays.
type foreachCursor struct {
	pairs []values.Pair
	pos   int
}

// newForeachCursor snapshots the iterable and retains every value in the
// snapshot, so an unset of the source array mid-loop cannot free an entry
// the iteration still has to yield; the cursor resource's destructor
// releases them when the loop's closing pop drops the cursor.
func (vm *VM) newForeachCursor(v *values.Value) *values.Value {
	fc := &foreachCursor{}
	switch {
	case v.IsArray():
		fc.pairs = v.ArraySnapshot()
	case v.IsObject():
		for _, name := range v.ObjectPropertyNames() {
			fc.pairs = append(fc.pairs, values.Pair{Key: values.StrKey(name), Value: v.ObjectGet(name)})
		}
	}
	for _, p := range fc.pairs {
		p.Value.Retain()
	}
	collector := vm.collector
	return values.NewResource("foreach", fc, func() error {
		for _, p := range fc.pairs {
			p.Value.Release(collector)
		}
		fc.pairs = nil
		return nil
	})
}

// next advances the cursor, returning the next key/value pair and true, or
// (nil, nil, false) once the snapshot is exhausted.
func (fc *foreachCursor) next() (*values.Value, *values.Value, bool) {
	if fc.pos >= len(fc.pairs) {
		return nil, nil, false
	}
	pair := fc.pairs[fc.pos]
	fc.pos++
	return pair.Key.ToValue(), pair.Value, true
}

func cursorOf(v *values.Value) *foreachCursor {
	res := v.ResourceData()
	if res == nil {
		return nil
	}
	fc, _ := res.Handle.(*foreachCursor)
	return fc
}
