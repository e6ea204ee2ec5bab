package vm

import "github.com/wudi/heyvm/registry"

// inlineCacheSlots is how many (shape, result) pairs one call site holds
// before it transitions to megamorphic and always resolves via the class
// table.
const inlineCacheSlots = 4

// siteKey identifies one get_prop/set_prop/call_method site: the function
// owning the instruction plus the instruction's own pc. Keying off the pc
// of the instruction (not the operand) keeps two sites reading the same
// property name in separate cache lines, which is the point of an inline
// cache over a global lookup table.
type siteKey struct {
	fn *registry.Function
	pc int
}

// propEntry caches one shape's resolved slot offset for a property site.
type propEntry struct {
	shapeID uint32
	slot    int
}

// propCache is a property site's cache. Entries are filled in order; once
// full, the site goes megamorphic and every lookup falls back to the shape
// table. Entries are never invalidated: a shape's offsets are immutable
// once its class is finalized, and classes never change after finalization.
type propCache struct {
	entries [inlineCacheSlots]propEntry
	n       int
	mega    bool
}

func (c *propCache) lookup(shapeID uint32) (int, bool) {
	for i := 0; i < c.n; i++ {
		if c.entries[i].shapeID == shapeID {
			return c.entries[i].slot, true
		}
	}
	return 0, false
}

func (c *propCache) install(shapeID uint32, slot int) {
	if c.mega {
		return
	}
	if c.n >= inlineCacheSlots {
		c.mega = true
		return
	}
	c.entries[c.n] = propEntry{shapeID: shapeID, slot: slot}
	c.n++
}

// methodEntry caches one shape's resolved method and its declaring class
// (the scope self:: resolves against inside the body).
type methodEntry struct {
	shapeID uint32
	fn      *registry.Function
	owner   string
}

type methodCache struct {
	entries [inlineCacheSlots]methodEntry
	n       int
	mega    bool
}

func (c *methodCache) lookup(shapeID uint32) (*registry.Function, string, bool) {
	for i := 0; i < c.n; i++ {
		if c.entries[i].shapeID == shapeID {
			return c.entries[i].fn, c.entries[i].owner, true
		}
	}
	return nil, "", false
}

func (c *methodCache) install(shapeID uint32, fn *registry.Function, owner string) {
	if c.mega {
		return
	}
	if c.n >= inlineCacheSlots {
		c.mega = true
		return
	}
	c.entries[c.n] = methodEntry{shapeID: shapeID, fn: fn, owner: owner}
	c.n++
}

func (vm *VM) propCacheAt(fn *registry.Function, pc int) *propCache {
	k := siteKey{fn: fn, pc: pc}
	c, ok := vm.propCaches[k]
	if !ok {
		c = &propCache{}
		vm.propCaches[k] = c
	}
	return c
}

func (vm *VM) methodCacheAt(fn *registry.Function, pc int) *methodCache {
	k := siteKey{fn: fn, pc: pc}
	c, ok := vm.methodCaches[k]
	if !ok {
		c = &methodCache{}
		vm.methodCaches[k] = c
	}
	return c
}
