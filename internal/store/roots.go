package store

import "github.com/sling-kb/sling/internal/handle"

// Root is anything holding handles outside the heap that must survive a
// garbage collection. All external roots share one shape: "enumerate
// my handles" — a callback that is handed a pointer to each held handle, so
// a GC fixup can rewrite it in place. A Builder, a wire decoder's reference
// table, and a unifier's graph buffer are all registered as roots by
// construction; ordinary callers register whichever of Cell, Vector, or
// PinnedRange fits their lifetime.
type Root interface {
	EnumerateHandles(visit func(*handle.Handle))
}

// Cell is a single-handle root.
type Cell struct {
	H handle.Handle
}

func (c *Cell) EnumerateHandles(visit func(*handle.Handle)) { visit(&c.H) }

// Vector is a growable root holding any number of handles.
type Vector struct {
	Handles []handle.Handle
}

func (v *Vector) EnumerateHandles(visit func(*handle.Handle)) {
	for i := range v.Handles {
		visit(&v.Handles[i])
	}
}

func (v *Vector) Push(h handle.Handle) { v.Handles = append(v.Handles, h) }

// PinnedRange is a root over a fixed-capacity, externally managed handle
// span — distinct from Vector in intent (callers write into existing
// indices rather than appending), matching a decoder's preallocated
// reference table or a unifier's preallocated node buffer.
type PinnedRange struct {
	Handles []handle.Handle
}

func (p *PinnedRange) EnumerateHandles(visit func(*handle.Handle)) {
	for i := range p.Handles {
		visit(&p.Handles[i])
	}
}
