package values

import "github.com/wudi/heyvm/heap"

// PHPArray is PHP's ordered map: insertion order is preserved across
// set/unset/reinsert exactly as PHP's HashTable behaves. A plain Go map
// cannot carry the ordering, so the key sequence is tracked alongside.
type PHPArray struct {
	box       *heap.Box
	order     []ArrayKey
	live      []bool // order[i] is a tombstone (unset) when live[i] is false
	index     map[ArrayKey]int
	entries   map[ArrayKey]*Value
	nextIndex int64
}

// NewArray allocates an empty, reference-counted PHP array.
func NewArray() *Value {
	a := &PHPArray{
		index:   make(map[ArrayKey]int),
		entries: make(map[ArrayKey]*Value),
	}
	a.box = heap.NewBox(heap.KindArray, false, a)
	return &Value{typ: TypeArray, box: a.box, composite: a}
}

func (a *PHPArray) Children() []*heap.Box {
	var out []*heap.Box
	for i, k := range a.order {
		if !a.live[i] {
			continue
		}
		if v, ok := a.entries[k]; ok {
			if b := v.Box(); b != nil {
				out = append(out, b)
			}
		}
	}
	return out
}

func (a *PHPArray) Destroy() {
	a.order = nil
	a.live = nil
	a.index = nil
	a.entries = nil
}

// Len reports how many live entries the array holds.
func (a *PHPArray) Len() int { return len(a.entries) }

// Get returns the value at key, or nil if absent.
func (a *PHPArray) Get(key ArrayKey) (*Value, bool) {
	v, ok := a.entries[key]
	return v, ok
}

// Set inserts or updates key, preserving its original position on update
// and appending on insert. The array's edge retains the incoming value's
// box and releases the one it overwrites (retain first, so storing a
// value over itself is safe).
func (a *PHPArray) Set(key ArrayKey, v *Value) {
	retainVal(v)
	if old, exists := a.entries[key]; exists {
		releaseVal(old)
	} else {
		a.index[key] = len(a.order)
		a.order = append(a.order, key)
		a.live = append(a.live, true)
	}
	a.entries[key] = v
	if key.IsInt && key.Int >= a.nextIndex {
		a.nextIndex = key.Int + 1
	}
}

// Append inserts v at the next auto-increment integer key, per PHP's `[]=`.
func (a *PHPArray) Append(v *Value) ArrayKey {
	key := IntKey(a.nextIndex)
	a.Set(key, v)
	return key
}

// Unset removes key, releasing the edge's reference and leaving later
// insertions' relative order untouched.
func (a *PHPArray) Unset(key ArrayKey) {
	pos, exists := a.index[key]
	if !exists {
		return
	}
	releaseVal(a.entries[key])
	delete(a.entries, key)
	delete(a.index, key)
	a.live[pos] = false
}

// Pair is one (key, value) in iteration order.
type Pair struct {
	Key   ArrayKey
	Value *Value
}

// Snapshot returns the array's live entries in insertion order, suitable
// for foreach_init to copy so later mutation of the array during
// iteration doesn't perturb the walk.
func (a *PHPArray) Snapshot() []Pair {
	out := make([]Pair, 0, len(a.entries))
	for i, k := range a.order {
		if !a.live[i] {
			continue
		}
		if v, ok := a.entries[k]; ok {
			out = append(out, Pair{Key: k, Value: v})
		}
	}
	return out
}

// Keys returns the array's keys in insertion order.
func (a *PHPArray) Keys() []ArrayKey {
	snap := a.Snapshot()
	out := make([]ArrayKey, len(snap))
	for i, p := range snap {
		out[i] = p.Key
	}
	return out
}

func (v *Value) arrayData() *PHPArray {
	a, _ := v.Deref().composite.(*PHPArray)
	return a
}

// ArraySnapshot returns an array's live entries in insertion order, or
// nil for a value that isn't an array — the vm package's foreach_init uses
// this once per loop so later mutation of the source array isn't observed.
func (v *Value) ArraySnapshot() []Pair {
	a := v.arrayData()
	if a == nil {
		return nil
	}
	return a.Snapshot()
}

func (v *Value) ArrayGet(key *Value) *Value {
	a := v.arrayData()
	if a == nil {
		return NewNull()
	}
	if val, ok := a.Get(convertArrayKey(key)); ok {
		return val
	}
	return NewNull()
}

func (v *Value) ArraySet(key, val *Value) {
	a := v.arrayData()
	if a == nil {
		return
	}
	a.Set(convertArrayKey(key), val)
}

func (v *Value) ArrayAppend(val *Value) {
	a := v.arrayData()
	if a == nil {
		return
	}
	a.Append(val)
}

func (v *Value) ArrayUnset(key *Value) {
	a := v.arrayData()
	if a == nil {
		return
	}
	a.Unset(convertArrayKey(key))
}

// ArrayKeys returns the array's keys, in insertion order, each wrapped back
// into a *Value the way PHP's array_keys() or a foreach key does.
func (v *Value) ArrayKeys() []*Value {
	a := v.arrayData()
	if a == nil {
		return nil
	}
	keys := a.Keys()
	out := make([]*Value, len(keys))
	for i, k := range keys {
		if k.IsInt {
			out[i] = NewInt(k.Int)
		} else {
			out[i] = NewString(k.Str)
		}
	}
	return out
}

func (v *Value) ArrayCount() int {
	a := v.arrayData()
	if a == nil {
		return 0
	}
	return a.Len()
}

func (v *Value) arrayEqual(other *Value) bool {
	a, b := v.arrayData(), other.arrayData()
	if a == nil || b == nil || a.Len() != b.Len() {
		return false
	}
	for _, p := range a.Snapshot() {
		ov, ok := b.Get(p.Key)
		if !ok || !p.Value.Equal(ov) {
			return false
		}
	}
	return true
}

func (v *Value) arrayIdentical(other *Value) bool {
	a, b := v.arrayData(), other.arrayData()
	if a == nil || b == nil || a.Len() != b.Len() {
		return false
	}
	as, bs := a.Snapshot(), b.Snapshot()
	for i := range as {
		if as[i].Key != bs[i].Key || !as[i].Value.Identical(bs[i].Value) {
			return false
		}
	}
	return true
}

func (v *Value) arrayUnion(other *Value) *Value {
	result := NewArray()
	ra := result.arrayData()
	a, b := v.arrayData(), other.arrayData()
	if a != nil {
		for _, p := range a.Snapshot() {
			ra.Set(p.Key, p.Value)
		}
	}
	if b != nil {
		for _, p := range b.Snapshot() {
			if _, exists := ra.Get(p.Key); !exists {
				ra.Set(p.Key, p.Value)
			}
		}
	}
	return result
}
