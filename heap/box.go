// Package heap implements the reference-counted allocation layer that
// backs every composite PHP value (strings, arrays, objects, closures,
// resources). Non-cyclic scalars live on the Go stack/heap directly and
// never pass through here.
package heap

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Color is the Bacon-Rajan trial-deletion color of a Box.
type Color byte

const (
	ColorBlack Color = iota
	ColorGray
	ColorWhite
	ColorPurple
)

func (c Color) String() string {
	switch c {
	case ColorBlack:
		return "black"
	case ColorGray:
		return "gray"
	case ColorWhite:
		return "white"
	case ColorPurple:
		return "purple"
	default:
		return "unknown"
	}
}

// Kind identifies the PHP composite type a Box backs, used by diagnostics
// and the collector's acyclic fast path.
type Kind byte

const (
	KindString Kind = iota
	KindArray
	KindObject
	KindClosure
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindClosure:
		return "closure"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Traversable is implemented by the value living inside a Box so the
// collector can walk the heap graph without knowing the value's concrete
// Go type (values package depends on heap, not the other way around).
type Traversable interface {
	// Children returns the boxes this value directly references.
	Children() []*Box
	// Destroy runs the value's destructor. Called exactly once per Box,
	// before its children are released.
	Destroy()
}

// Box wraps every heap-resident PHP value with a strong reference count
// and the GC bookkeeping needed for cycle collection.
type Box struct {
	strong     int32
	color      Color
	buffered   bool
	acyclic    bool // strings/resources: refcount only, never a cycle root
	kind       Kind
	id         string
	value      Traversable
	trialCount int32
	destroyed  bool
}

// NewBox allocates a box with strong count 1. acyclic must be true for
// types that cannot participate in a reference cycle (PHPString,
// Resource); arrays, objects, and closures are not acyclic.
func NewBox(kind Kind, acyclic bool, value Traversable) *Box {
	atomic.AddInt64(&liveBoxes, 1)
	return &Box{
		strong:  1,
		color:   ColorBlack,
		acyclic: acyclic,
		kind:    kind,
		value:   value,
		id:      uuid.NewString(),
	}
}

// Strong returns the current strong reference count.
func (b *Box) Strong() int32 { return b.strong }

// Color returns the box's current GC color.
func (b *Box) Color() Color { return b.color }

// Kind returns the composite type this box backs.
func (b *Box) Kind() Kind { return b.kind }

// DebugID returns a stable, process-unique identifier for diagnostics
// without exposing a raw pointer. Nothing in the repository prints it.
func (b *Box) DebugID() string { return b.id }

// Destroyed reports whether the box's destructor has already run and its
// children have been released.
func (b *Box) Destroyed() bool { return b.destroyed }

// Retain increments the strong reference count.
func (b *Box) Retain() {
	if b.destroyed {
		return
	}
	b.strong++
	if !b.acyclic {
		b.color = ColorBlack
	}
}

// Release decrements the strong reference count. At zero it frees the box
// immediately; above zero on a cyclic-capable type, it becomes a cycle
// root candidate.
func (b *Box) Release(c *Collector) {
	if b.destroyed {
		return
	}
	b.strong--
	if b.strong <= 0 {
		b.free(c)
		return
	}
	if !b.acyclic {
		b.color = ColorPurple
		if !b.buffered {
			b.buffered = true
			if c != nil {
				c.enqueue(b)
			}
		}
	}
}

// free runs the destructor and releases children. The child edges are
// snapshotted before the destructor runs, since a destructor typically
// clears the value's own containers. It tolerates destructor-time
// resurrection: if the destructor creates a new strong reference to the
// box (raising strong back above zero), the box and its children are
// left alive.
func (b *Box) free(c *Collector) {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.color = ColorBlack
	b.buffered = false
	var v Traversable
	v, b.value = b.value, nil
	var children []*Box
	if v != nil {
		children = v.Children()
		v.Destroy()
	}
	if b.strong > 0 {
		// Resurrected during destruction: un-free, restore traversability.
		b.destroyed = false
		b.value = v
		return
	}
	atomic.AddInt64(&liveBoxes, -1)
	for _, child := range children {
		if child != nil {
			child.Release(c)
		}
	}
}
