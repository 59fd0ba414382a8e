package unify

import (
	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
)

// Construct reifies the graph rooted at node back into ordinary store
// frames, returning the root's handle. A REFERENCE node short-circuits
// to the frame it already names; a VALUE node to its value. In
// destructive mode, a CONTENT node copied from an original frame (via
// AddFrame/ensureCopy) updates that frame in place rather than
// allocating a new one — the non-destructive mode is for building a new
// structure without disturbing anything unify read from the store.
//
// Role-alias pruning is applied here, lazily, one node at a time, as
// each CONTENT node is about to be externalised — not during Unify.
func (u *Unifier) Construct(idx int, destructive bool) handle.Handle {
	// In destructive mode, map each node to the frame it descends from. A
	// copy made by ensureCopy records its source frame but may since have
	// been forwarded into a merged node, so the map is keyed by the node
	// each origin-carrying node currently forwards to.
	var origin map[int]handle.Handle
	if destructive {
		origin = make(map[int]handle.Handle)
		for i := range u.nodes {
			if u.nodes[i].origin.IsRef() {
				origin[u.follow(i)] = u.nodes[i].origin
			}
		}
	}
	return u.constructNode(idx, origin)
}

func (u *Unifier) constructNode(idx int, origin map[int]handle.Handle) handle.Handle {
	idx = u.follow(idx)
	n := &u.nodes[idx]
	switch n.kind {
	case Reference:
		return n.ref
	case Value:
		return n.value
	}

	n.slots = u.pruneRoles(n.slots)

	original := handle.Nil
	if origin != nil {
		if h, ok := origin[idx]; ok {
			original = h
		}
	}
	replacing := original != handle.Nil
	n.kind = Reference
	if replacing {
		n.ref = original
	} else {
		n.ref = u.store.AllocatePlaceholder()
	}

	// Constructing the children below may allocate and so may move the
	// heap; n.ref is an enumerated root field the GC rewrites in place, so
	// it is read back afterwards rather than trusted as a stale local.
	for i := range n.slots {
		if n.slots[i].Value.IsIndex() {
			n.slots[i].Value = u.constructNode(int(n.slots[i].Value.AsIndex()), origin)
		}
	}

	var result handle.Handle
	if replacing {
		result = u.store.UpdateFrame(n.ref, n.slots)
	} else {
		result = u.store.FinalizePlaceholder(n.ref, n.slots)
	}
	n.ref = result
	return result
}

// Template snapshots the whole node buffer as a single anonymous frame,
// one header slot per node (kind as the name, the kind-specific payload
// as the value) followed by the node's content slots. Index values keep
// their node ordinals, so NewUnifierFromTemplate restores an equivalent
// buffer by rebuilding nodes in the same order. Callers normally Compact
// first so the snapshot holds only the reachable graph with the root at
// node 0; a compiled schema cached this way can be re-unified against
// fresh input without redoing the unifications that built it.
func (u *Unifier) Template() handle.Handle {
	var slots []handle.Slot
	for i := range u.nodes {
		n := &u.nodes[i]
		switch n.kind {
		case Forward:
			slots = append(slots, handle.Slot{
				Name:  handle.Integer(int32(Forward)),
				Value: handle.Integer(int32(n.forward)),
			})
		case Reference:
			slots = append(slots, handle.Slot{Name: handle.Integer(int32(Reference)), Value: n.ref})
		case Value:
			slots = append(slots, handle.Slot{Name: handle.Integer(int32(Value)), Value: n.value})
		default:
			slots = append(slots, handle.Slot{
				Name:  handle.Integer(int32(Content)),
				Value: handle.Integer(int32(len(n.slots))),
			})
			for _, sl := range n.slots {
				slots = append(slots, handle.Slot{Name: sl.Name, Value: sl.Value})
			}
		}
	}
	return u.store.AllocateFrame(slots)
}

// NewUnifierFromTemplate builds a unifier whose buffer is restored from a
// frame produced by Template. The restored nodes keep their original
// ordinals, so a template compacted before the snapshot has its root at
// node 0.
func NewUnifierFromTemplate(s *store.Store, tmpl handle.Handle) *Unifier {
	u := NewUnifier(s)
	slots := s.FrameSlots(tmpl)
	for i := 0; i < len(slots); {
		hd := slots[i]
		i++
		switch Kind(hd.Name.AsInt()) {
		case Forward:
			u.nodes = append(u.nodes, node{kind: Forward, forward: int(hd.Value.AsInt())})
		case Reference:
			u.nodes = append(u.nodes, node{kind: Reference, ref: hd.Value})
		case Value:
			u.nodes = append(u.nodes, node{kind: Value, value: hd.Value})
		default:
			count := int(hd.Value.AsInt())
			cs := make([]Slot, count)
			for j := 0; j < count; j++ {
				cs[j] = Slot{Name: slots[i].Name, Value: slots[i].Value}
				i++
			}
			u.nodes = append(u.nodes, node{kind: Content, slots: cs})
		}
	}
	return u
}

// Compact walks from root in depth-first order, copying every node
// reachable from it into a fresh buffer and renumbering Index values
// accordingly, discarding anything unreachable. The returned index
// always refers to root's copy. Call before a long-lived Unifier
// accumulates garbage from abandoned partial unifications.
func (u *Unifier) Compact(root int) int {
	var target []node
	seen := make(map[int]int)
	newRoot := u.transfer(root, &target, seen)
	u.nodes = target
	return newRoot
}

func (u *Unifier) transfer(idx int, target *[]node, seen map[int]int) int {
	idx = u.follow(idx)
	if dest, ok := seen[idx]; ok {
		return dest
	}
	n := u.nodes[idx]
	dest := len(*target)
	seen[idx] = dest

	switch n.kind {
	case Reference:
		*target = append(*target, node{kind: Reference, ref: n.ref})
	case Value:
		*target = append(*target, node{kind: Value, value: n.value})
	default:
		out := node{kind: Content, slots: make([]Slot, len(n.slots)), origin: n.origin}
		*target = append(*target, out)
		for i, sl := range n.slots {
			if sl.Value.IsIndex() {
				v := u.transfer(int(sl.Value.AsIndex()), target, seen)
				(*target)[dest].slots[i] = Slot{Name: sl.Name, Value: handle.Index(uint32(v))}
			} else {
				(*target)[dest].slots[i] = sl
			}
		}
	}
	return dest
}

// Trim recursively drops a CONTENT node's non-isa slots whose value is
// itself empty of everything but isa, removing the node from its
// parent's reach when it turns out to carry no real content, and reports
// whether node itself ended up empty. A node is marked TRIMMING for the
// extent of its own walk; a cycle back into it stops recursing and keeps
// the edge, since the node's emptiness is still being decided.
func (u *Unifier) Trim(idx int) bool {
	idx = u.follow(idx)
	n := &u.nodes[idx]
	if n.kind != Content {
		return false
	}
	n.kind = Trimming

	out := n.slots[:0]
	empty := true
	for _, sl := range n.slots {
		prune := false
		if !sl.Name.IsIsA() {
			if sl.Value.IsIndex() {
				prune = u.Trim(int(sl.Value.AsIndex()))
			}
			if !prune {
				empty = false
			}
		}
		if !prune {
			out = append(out, sl)
		}
	}
	n.kind = Content
	n.slots = out
	return empty
}
