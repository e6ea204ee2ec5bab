package heap

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// DefaultThreshold is the roots-buffer size that triggers an automatic
// collection cycle.
const DefaultThreshold = 10000

// Stats summarizes one collection run. Collect returns it and, when the run
// freed boxes, writes a one-line summary to the collector's output writer.
type Stats struct {
	RootsExamined int
	Collected     int
	BytesFreed    uint64
}

// Collector implements a synchronous Bacon-Rajan trial-deletion cycle
// collector. It is single-threaded and runs synchronously on the caller:
// whenever Collect is called, including from enqueue once the roots buffer
// reaches its threshold.
type Collector struct {
	roots     []*Box
	threshold int
	out       io.Writer
	runs      int
}

// NewCollector constructs a collector with the given roots-buffer
// threshold. A threshold of 0 uses DefaultThreshold.
func NewCollector(threshold int, out io.Writer) *Collector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Collector{threshold: threshold, out: out}
}

// PendingRoots returns the number of boxes currently buffered as cycle
// root candidates.
func (c *Collector) PendingRoots() int {
	if c == nil {
		return 0
	}
	return len(c.roots)
}

// Runs returns how many collection cycles have executed so far.
func (c *Collector) Runs() int {
	if c == nil {
		return 0
	}
	return c.runs
}

var liveBoxes int64

// active is the collector container mutations release against when the
// call site has no collector of its own (the values package's array,
// object, and closure edge writes). The VM installs its collector here at
// construction; nil degrades Release to plain refcounting with no cycle
// buffering, which is what standalone unit tests want.
var active *Collector

// SetActive installs c as the process-wide fallback collector.
func SetActive(c *Collector) { active = c }

// Active returns the fallback collector, possibly nil.
func Active() *Collector { return active }

// LiveBoxes returns the number of boxes allocated but not yet destroyed,
// across the whole process. Used by tests and diagnostics to confirm a
// collection cycle returned the live count to baseline.
func LiveBoxes() int64 { return atomic.LoadInt64(&liveBoxes) }

func (c *Collector) enqueue(b *Box) {
	c.roots = append(c.roots, b)
	if len(c.roots) >= c.threshold {
		c.Collect()
	}
}

// Collect runs one trial-deletion cycle over the current roots buffer
// (mark gray, scan, collect white) and returns run statistics. Safe to call
// with an empty buffer (a no-op).
func (c *Collector) Collect() Stats {
	c.runs++
	stats := Stats{RootsExamined: len(c.roots)}
	if len(c.roots) == 0 {
		return stats
	}

	roots := c.roots
	c.roots = nil

	// Mark gray: simulate removing each candidate's contribution to its
	// descendants' trial counts.
	for _, b := range roots {
		if b.destroyed {
			continue
		}
		if b.color == ColorPurple {
			markGray(b)
		} else {
			b.buffered = false
		}
	}

	// Scan: restore black for anything still externally reachable.
	for _, b := range roots {
		if !b.destroyed {
			scan(b)
		}
	}

	// Collect white: gather the full garbage subgraph reachable from the
	// roots, then destroy top-down and release any edge that leaves the
	// garbage set (to an acyclic leaf or to a box that survived scan).
	seen := make(map[*Box]bool)
	var white []*Box
	for _, b := range roots {
		b.buffered = false
		if !b.destroyed {
			gatherWhite(b, seen, &white)
		}
	}

	stats.Collected = len(white)
	for _, b := range white {
		stats.BytesFreed += estimateSize(b)
	}

	// Destroy every garbage box before touching its children, tolerating
	// resurrection: a destructor that re-retains a box is skipped here and
	// its children are left alone. Child edges are snapshotted before the
	// destructor runs, since destructors clear their value's containers.
	destructed := make(map[*Box][]*Box, len(white))
	for _, b := range white {
		v := b.value
		var children []*Box
		if v != nil {
			children = v.Children()
		}
		// A white box's remaining strong count is held entirely by edges
		// inside the garbage set; only a rise above it means resurrection.
		before := b.strong
		b.destroyed = true
		atomic.AddInt64(&liveBoxes, -1)
		if v != nil {
			v.Destroy()
		}
		if b.strong > before {
			// Resurrected: undo.
			b.destroyed = false
			atomic.AddInt64(&liveBoxes, 1)
			continue
		}
		destructed[b] = children
	}

	// Release every edge leaving the (non-resurrected) garbage set.
	for _, children := range destructed {
		for _, child := range children {
			if child == nil {
				continue
			}
			if _, inSet := destructed[child]; inSet {
				continue // freed directly above, not via refcounting
			}
			child.Release(c)
		}
	}

	if c.out != nil && stats.Collected > 0 {
		fmt.Fprintf(c.out, "gc: collected %d cycle(s), freed %s\n", stats.Collected, humanize.Bytes(stats.BytesFreed))
	}
	return stats
}

// markGray colors b's subgraph gray, initializing every box's trial count
// from its strong count on first visit and then subtracting one per
// internal edge, so a box whose trial count stays positive after the walk
// is provably reachable from outside the candidate subgraph.
func markGray(b *Box) {
	if b.color == ColorGray {
		return
	}
	b.color = ColorGray
	b.trialCount = b.strong
	if b.value == nil {
		return
	}
	for _, child := range b.value.Children() {
		if child == nil || child.acyclic || child.destroyed {
			continue
		}
		if child.color != ColorGray {
			markGray(child)
		}
		child.trialCount--
	}
}

func scan(b *Box) {
	if b.color != ColorGray {
		return
	}
	if b.trialCount > 0 {
		scanBlack(b)
		return
	}
	b.color = ColorWhite
	if b.value == nil {
		return
	}
	for _, child := range b.value.Children() {
		if child == nil || child.acyclic || child.destroyed {
			continue
		}
		scan(child)
	}
}

func scanBlack(b *Box) {
	b.color = ColorBlack
	if b.value == nil {
		return
	}
	for _, child := range b.value.Children() {
		if child == nil || child.acyclic || child.destroyed {
			continue
		}
		child.trialCount++
		if child.color != ColorBlack {
			scanBlack(child)
		}
	}
}

// gatherWhite collects every box, transitively reachable from b through
// non-acyclic children, that scan() determined is garbage (still white).
func gatherWhite(b *Box, seen map[*Box]bool, out *[]*Box) {
	if b == nil || seen[b] || b.destroyed || b.color != ColorWhite {
		return
	}
	seen[b] = true
	*out = append(*out, b)
	if b.value == nil {
		return
	}
	for _, child := range b.value.Children() {
		if child == nil || child.acyclic {
			continue
		}
		gatherWhite(child, seen, out)
	}
}

// estimateSize is a coarse per-kind accounting figure used only for the
// diagnostic byte count in Collect's log line; it has no bearing on
// correctness.
func estimateSize(b *Box) uint64 {
	switch b.kind {
	case KindArray:
		return 64
	case KindObject:
		return 96
	case KindClosure:
		return 48
	default:
		return 32
	}
}
