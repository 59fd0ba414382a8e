package unify

import (
	"github.com/sling-kb/sling/internal/diag"
	"github.com/sling-kb/sling/internal/handle"
)

func (u *Unifier) follow(idx int) int {
	for u.nodes[idx].kind == Forward {
		idx = u.nodes[idx].forward
	}
	return idx
}

func (u *Unifier) forwardTo(from, to int) {
	u.nodes[from].kind = Forward
	u.nodes[from].forward = to
}

// empty reports whether node denotes the information-free structure: an
// unresolved proxy, a frame with nothing but an id slot, a nil VALUE
// node, or a CONTENT node with no slots. Unifying anything with an empty
// node yields the other side unchanged (step 2 of Unify).
func (u *Unifier) empty(idx int) bool {
	n := u.nodes[idx]
	switch n.kind {
	case Forward:
		return true
	case Reference:
		if u.store.Kind(n.ref) != handle.KindFrame {
			return false
		}
		if u.store.IsProxy(n.ref) {
			return true
		}
		for _, sl := range u.store.FrameSlots(n.ref) {
			if !sl.Name.IsID() {
				return false
			}
		}
		return true
	case Value:
		return n.value == handle.Nil
	case Content, Unifying:
		return len(n.slots) == 0
	default:
		return false
	}
}

// atomic reports whether h must be treated as an opaque value rather
// than imported as a node of its own: nil, a non-reference immediate, a
// non-frame object (string, symbol, array), or a frame carrying an id
// slot (a public, named frame). Only anonymous frames are non-atomic.
func (u *Unifier) atomic(h handle.Handle) bool {
	if !h.IsRef() || h == handle.Nil {
		return true
	}
	if u.store.Kind(h) != handle.KindFrame {
		return true
	}
	for _, sl := range u.store.FrameSlots(h) {
		if sl.Name.IsID() {
			return true
		}
	}
	return false
}

// referenceNode returns the REFERENCE node for h, reusing an existing
// one if h was already imported. A linear scan, not a map: a map keyed
// by a store handle can't be fixed up when GC moves the object the
// handle addresses, and this buffer is itself a GC root.
func (u *Unifier) referenceNode(h handle.Handle) int {
	for i := range u.nodes {
		if u.nodes[i].kind == Reference && u.nodes[i].ref == h {
			return i
		}
	}
	u.nodes = append(u.nodes, node{kind: Reference, ref: h})
	return len(u.nodes) - 1
}

// AddFrame imports frame as a REFERENCE node, the unifier's entry point
// for bringing a store frame into the graph. frame must be an anonymous
// frame (atomic(frame) false) — a public, named frame is meant to be
// unified by way of its anonymous slot values, not imported wholesale.
func (u *Unifier) AddFrame(frame handle.Handle) int {
	if u.atomic(frame) {
		panic("unify: AddFrame called with an atomic handle")
	}
	return u.referenceNode(frame)
}

// AllocateContentNode reserves an empty CONTENT node with room for
// capacity slots, filled in afterwards with AddSlot.
func (u *Unifier) AllocateContentNode(capacity int) int {
	u.nodes = append(u.nodes, node{kind: Content, slots: make([]Slot, 0, capacity)})
	return len(u.nodes) - 1
}

// AllocateValueNode wraps an atomic handle as a VALUE node.
func (u *Unifier) AllocateValueNode(value handle.Handle) int {
	u.nodes = append(u.nodes, node{kind: Value, value: value})
	return len(u.nodes) - 1
}

// AddSlot appends a slot to a CONTENT node, keeping it sorted by rank so
// it stays mergeable by Unify.
func (u *Unifier) AddSlot(idx int, name, value handle.Handle) {
	n := &u.nodes[idx]
	n.slots = append(n.slots, Slot{Name: name, Value: value})
	sortSlots(n.slots)
}

// copyFrame reifies a store frame into a fresh CONTENT node: its id slot
// is dropped (an imported frame is always anonymous from here on), every
// other slot is carried over as-is if atomic or auto-imported as an
// Index reference if it names another anonymous frame.
func (u *Unifier) copyFrame(h handle.Handle) int {
	frameSlots := u.store.FrameSlots(h)
	out := make([]Slot, 0, len(frameSlots))
	for _, sl := range frameSlots {
		if sl.Name.IsID() {
			continue
		}
		if u.atomic(sl.Value) {
			out = append(out, Slot{Name: sl.Name, Value: sl.Value})
		} else {
			out = append(out, Slot{Name: sl.Name, Value: handle.Index(uint32(u.referenceNode(sl.Value)))})
		}
	}
	sortSlots(out)
	idx := len(u.nodes)
	u.nodes = append(u.nodes, node{kind: Content, slots: out, origin: h})
	return idx
}

// ensureCopy returns a CONTENT (or UNIFYING) node equivalent to idx,
// reifying a REFERENCE node into one if needed. idx is left forwarded to
// the result, so a cycle that routes back through idx resolves to the
// same copy transparently.
func (u *Unifier) ensureCopy(idx int) int {
	n := u.nodes[idx]
	if n.kind == Content || n.kind == Unifying {
		return idx
	}
	copyIdx := u.copyFrame(n.ref)
	u.nodes[idx].kind = Forward
	u.nodes[idx].forward = copyIdx
	return copyIdx
}

// Unify merges the feature structures at a and b, returning the index of
// the merged node, or Fail if they carry incompatible atomic values.
// The steps: follow forwards,
// let an empty side be absorbed by the other, require equal VALUE nodes,
// break a cycle through a node still mid-unification by accepting a
// partial result (logging it), reify both sides, then merge their slots
// in rank order, forwarding both originals to the new node.
//
// A failure midway through the slot merge leaves whatever was already
// reified and marked UNIFYING as-is; the store itself is never touched
// by Unify (only Construct writes to it), so a failed unification has no
// observable effect beyond this buffer's own bookkeeping.
func (u *Unifier) Unify(a, b int) int {
	a = u.follow(a)
	b = u.follow(b)
	if a == b {
		return a
	}
	if u.empty(b) {
		u.forwardTo(b, a)
		return a
	}
	if u.empty(a) {
		u.forwardTo(a, b)
		return b
	}

	if u.nodes[a].kind == Value {
		if u.nodes[b].kind != Value || u.nodes[a].value != u.nodes[b].value {
			return Fail
		}
		u.forwardTo(b, a)
		return a
	}
	if u.nodes[b].kind == Value {
		return Fail
	}

	if u.nodes[a].kind == Unifying {
		u.store.Log.AddWarning("unify: partial unification of recursive node", diag.PartialUnification{Node1: a, Node2: b})
		u.forwardTo(b, a)
		return a
	}
	if u.nodes[b].kind == Unifying {
		u.store.Log.AddWarning("unify: partial unification of recursive node", diag.PartialUnification{Node1: b, Node2: a})
		u.forwardTo(a, b)
		return b
	}

	c1 := u.ensureCopy(a)
	c2 := u.ensureCopy(b)
	u.nodes[c1].kind = Unifying
	u.nodes[c2].kind = Unifying

	as := u.nodes[c1].slots
	bs := u.nodes[c2].slots
	merged := make([]Slot, 0, len(as)+len(bs))

	i, j := 0, 0
	for i < len(as) && j < len(bs) {
		ri, rj := as[i].Name.Rank(), bs[j].Name.Rank()
		switch {
		case ri < rj:
			merged = append(merged, as[i])
			i++
		case rj < ri:
			merged = append(merged, bs[j])
			j++
		case as[i].Name.IsIsA():
			ti, tj := i, j
			for i < len(as) && as[i].Name.IsIsA() {
				i++
			}
			for j < len(bs) && bs[j].Name.IsIsA() {
				j++
			}
			for _, v := range u.unifyTypes(valuesOf(as[ti:i]), valuesOf(bs[tj:j])) {
				merged = append(merged, Slot{Name: handle.IsA, Value: v})
			}
		default:
			name := as[i].Name
			value, ok := u.unifySlotValue(as[i].Value, bs[j].Value)
			i++
			j++
			if !ok {
				return Fail
			}
			merged = append(merged, Slot{Name: name, Value: value})
		}
	}
	merged = append(merged, as[i:]...)
	merged = append(merged, bs[j:]...)

	result := len(u.nodes)
	u.nodes = append(u.nodes, node{kind: Content, slots: merged})
	u.forwardTo(c1, result)
	u.forwardTo(c2, result)
	return result
}

// unifySlotValue unifies two slot values that share a slot name,
// recursing into Unify when either side names a node and wrapping a
// plain handle as a one-off VALUE node when the other side is complex.
func (u *Unifier) unifySlotValue(va, vb handle.Handle) (handle.Handle, bool) {
	complexA, complexB := va.IsIndex(), vb.IsIndex()
	switch {
	case complexA && complexB:
		r := u.Unify(int(va.AsIndex()), int(vb.AsIndex()))
		if r == Fail {
			return handle.Nil, false
		}
		return handle.Index(uint32(r)), true
	case complexA:
		simple := u.AllocateValueNode(vb)
		r := u.Unify(int(va.AsIndex()), simple)
		if r == Fail {
			return handle.Nil, false
		}
		return handle.Index(uint32(r)), true
	case complexB:
		simple := u.AllocateValueNode(va)
		r := u.Unify(simple, int(vb.AsIndex()))
		if r == Fail {
			return handle.Nil, false
		}
		return handle.Index(uint32(r)), true
	default:
		if va == vb || vb == handle.Nil {
			return va, true
		}
		if va == handle.Nil {
			return vb, true
		}
		return handle.Nil, false
	}
}

func (u *Unifier) subsumedBy(t handle.Handle, others []handle.Handle) bool {
	if u.types == nil {
		return false
	}
	for _, o := range others {
		if u.types.Subsumes(t, o) {
			return true
		}
	}
	return false
}

// unifyTypes merges two isa-run value lists into their union, dropping a
// type present on only one side when it already subsumes — is a more
// general supertype of — some type present on the other side: the more
// specific type already says everything the general one does.
func (u *Unifier) unifyTypes(a, b []handle.Handle) []handle.Handle {
	var out []handle.Handle
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i].Rank() < b[j].Rank():
			if !u.subsumedBy(a[i], b) {
				out = append(out, a[i])
			}
			i++
		default:
			if !u.subsumedBy(b[j], a) {
				out = append(out, b[j])
			}
			j++
		}
	}
	for ; i < len(a); i++ {
		if !u.subsumedBy(a[i], b) {
			out = append(out, a[i])
		}
	}
	for ; j < len(b); j++ {
		if !u.subsumedBy(b[j], a) {
			out = append(out, b[j])
		}
	}
	return out
}

// pruneRoles drops any slot whose name is an alias rolled up into one of
// the node's isa types, per each type's role map. Applied lazily at
// Construct time, not during Unify, so a failed or abandoned unification
// never pays for it.
func (u *Unifier) pruneRoles(slots []Slot) []Slot {
	if u.types == nil {
		return slots
	}
	var drop map[handle.Handle]bool
	for _, sl := range slots {
		if !sl.Name.IsIsA() {
			continue
		}
		for role := range u.types.RoleMap(sl.Value) {
			if drop == nil {
				drop = make(map[handle.Handle]bool)
			}
			drop[role] = true
		}
	}
	if len(drop) == 0 {
		return slots
	}
	out := slots[:0:0]
	for _, sl := range slots {
		if !drop[sl.Name] {
			out = append(out, sl)
		}
	}
	return out
}
