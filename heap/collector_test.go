package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// node is a minimal Traversable for graph-shape tests; the real composites
// (PHPArray, PHPObject, Closure) live in the values package and wire into
// Box the same way.
type node struct {
	children  []*Box
	destroyed int
}

func (n *node) Children() []*Box { return n.children }
func (n *node) Destroy()         { n.destroyed++ }

func newNode(t *testing.T) (*node, *Box) {
	t.Helper()
	n := &node{}
	return n, NewBox(KindObject, false, n)
}

// link records an edge parent -> child, retaining the child the way a
// composite's field write does.
func link(parent *node, child *Box) {
	child.Retain()
	parent.children = append(parent.children, child)
}

func TestReleaseFreesAcyclicGraph(t *testing.T) {
	base := LiveBoxes()

	parent, parentBox := newNode(t)
	child, childBox := newNode(t)
	link(parent, childBox)
	childBox.Release(nil) // drop the allocation reference; the edge holds it

	require.Equal(t, base+2, LiveBoxes())
	parentBox.Release(nil)

	assert.Equal(t, base, LiveBoxes(), "the whole graph frees with zero residue")
	assert.Equal(t, 1, parent.destroyed)
	assert.Equal(t, 1, child.destroyed)
	assert.True(t, parentBox.Destroyed())
	assert.True(t, childBox.Destroyed())
}

func TestDestructorRunsBeforeChildrenReleased(t *testing.T) {
	childSeen := false
	child := &node{}
	childBox := NewBox(KindObject, false, child)

	parent := &node{}
	parentBox := NewBox(KindObject, false, &probe{
		inner: parent,
		onDestroy: func() {
			childSeen = !childBox.Destroyed()
		},
	})
	link(parent, childBox)
	childBox.Release(nil)

	parentBox.Release(nil)
	assert.True(t, childSeen, "parent's destructor observes its child still alive")
}

// probe wraps a node to observe destructor ordering.
type probe struct {
	inner     *node
	onDestroy func()
}

func (p *probe) Children() []*Box { return p.inner.Children() }
func (p *probe) Destroy()         { p.onDestroy(); p.inner.Destroy() }

func TestCycleCollection(t *testing.T) {
	base := LiveBoxes()
	c := NewCollector(0, nil)

	a, aBox := newNode(t)
	b, bBox := newNode(t)
	link(a, bBox)
	link(b, aBox)

	// Drop the external references; only the cycle's internal edges remain.
	aBox.Release(c)
	bBox.Release(c)
	require.Equal(t, base+2, LiveBoxes(), "plain refcounting cannot break the cycle")
	require.Equal(t, 2, c.PendingRoots())

	stats := c.Collect()
	assert.Equal(t, 2, stats.Collected)
	assert.Equal(t, base, LiveBoxes(), "live count returns to the pre-allocation baseline")
	assert.Equal(t, 1, a.destroyed, "destructor runs exactly once")
	assert.Equal(t, 1, b.destroyed)
}

func TestExternallyReferencedCycleSurvives(t *testing.T) {
	base := LiveBoxes()
	c := NewCollector(0, nil)

	a, aBox := newNode(t)
	b, bBox := newNode(t)
	link(a, bBox)
	link(b, aBox)

	aBox.Retain() // an external handle keeps the cycle reachable
	aBox.Release(c)
	bBox.Release(c)

	stats := c.Collect()
	assert.Equal(t, 0, stats.Collected)
	assert.Equal(t, base+2, LiveBoxes())
	assert.Equal(t, 0, a.destroyed)
	assert.Equal(t, ColorBlack, aBox.Color(), "scan restores reachable candidates to black")

	// Dropping the external handle makes the cycle collectable after all.
	aBox.Release(c)
	stats = c.Collect()
	assert.Equal(t, 2, stats.Collected)
	assert.Equal(t, base, LiveBoxes())
	assert.Equal(t, 1, a.destroyed)
	assert.Equal(t, 1, b.destroyed)
}

func TestSelfCycleCollected(t *testing.T) {
	base := LiveBoxes()
	c := NewCollector(0, nil)

	n, box := newNode(t)
	link(n, box) // n -> n

	box.Release(c)
	require.Equal(t, base+1, LiveBoxes())

	stats := c.Collect()
	assert.Equal(t, 1, stats.Collected)
	assert.Equal(t, base, LiveBoxes())
	assert.Equal(t, 1, n.destroyed)
}

func TestThresholdTriggersCollection(t *testing.T) {
	c := NewCollector(2, nil)

	for i := 0; i < 2; i++ {
		n, box := newNode(t)
		link(n, box)
		box.Release(c) // second enqueue hits the threshold and collects inline
	}
	assert.Equal(t, 1, c.Runs())
	assert.Equal(t, 0, c.PendingRoots())
}

func TestAcyclicKindNeverBuffered(t *testing.T) {
	c := NewCollector(0, nil)
	box := NewBox(KindString, true, &node{})
	box.Retain()
	box.Release(c)
	assert.Equal(t, 0, c.PendingRoots(), "strings are refcount-only, never cycle roots")
	box.Release(c)
	assert.True(t, box.Destroyed())
}

// clearingNode mimics the real composites (arrays, objects, closures),
// whose Destroy wipes their own containers: the box must snapshot the
// child edges before running the destructor or it would release nothing.
type clearingNode struct {
	children []*Box
}

func (n *clearingNode) Children() []*Box { return n.children }
func (n *clearingNode) Destroy()         { n.children = nil }

func TestChildrenReleasedWhenDestructorClearsThem(t *testing.T) {
	base := LiveBoxes()

	child, childBox := newNode(t)
	parent := &clearingNode{}
	parentBox := NewBox(KindArray, false, parent)
	childBox.Retain()
	parent.children = append(parent.children, childBox)
	childBox.Release(nil)

	parentBox.Release(nil)
	assert.Equal(t, base, LiveBoxes())
	assert.Equal(t, 1, child.destroyed, "the edge snapshot outlives the destructor's clearing")
	assert.True(t, childBox.Destroyed())
}

func TestCollectorReleasesEdgesOfClearingDestructors(t *testing.T) {
	base := LiveBoxes()
	c := NewCollector(0, nil)

	leaf, leafBox := newNode(t)

	a := &clearingNode{}
	aBox := NewBox(KindArray, false, a)
	b := &clearingNode{}
	bBox := NewBox(KindArray, false, b)

	// a <-> b cycle, plus an edge a -> leaf where leaf also has an external
	// handle (the local variable below), so it must survive the cycle's
	// collection and lose exactly the one reference the cycle held.
	bBox.Retain()
	a.children = append(a.children, bBox)
	aBox.Retain()
	b.children = append(b.children, aBox)
	leafBox.Retain()
	a.children = append(a.children, leafBox)

	aBox.Release(c)
	bBox.Release(c)

	stats := c.Collect()
	assert.Equal(t, 2, stats.Collected)
	assert.Equal(t, base+1, LiveBoxes(), "the externally-held leaf survives the cycle's collection")
	assert.Equal(t, 0, leaf.destroyed)
	assert.Equal(t, int32(1), leafBox.Strong(), "the cycle's edge was released despite the clearing destructor")

	leafBox.Release(c)
	assert.Equal(t, base, LiveBoxes())
	assert.Equal(t, 1, leaf.destroyed)
}

func TestRetainAfterDestroyIsIgnored(t *testing.T) {
	n, box := newNode(t)
	box.Release(nil)
	require.Equal(t, 1, n.destroyed)
	box.Retain()
	box.Release(nil)
	assert.Equal(t, 1, n.destroyed, "a destroyed box never runs its destructor again")
}
