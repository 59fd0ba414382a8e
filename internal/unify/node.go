// Package unify implements the feature-structure unifier: a small
// graph-merging engine used to combine partial descriptions (feature
// structures) of the same entity into one, the way two frames claiming
// facts about the same person or event get merged into a single
// consistent record.
//
// The graph lives in a flat buffer of typed nodes addressed by index
// handles, never by store references, which keeps unification's
// recursion confined to the buffer and lets a whole compiled graph be
// snapshotted as one frame (Template) and restored later.
package unify

import (
	"sort"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
)

// Kind is a feature-structure node's type.
type Kind int

const (
	Forward Kind = iota
	Reference
	Value
	Content
	Unifying
	Trimming
)

// Fail is the sentinel node index Unify returns for incompatible input,
// matching the convention that data errors return sentinels: unification
// failure is data, not a programming error.
const Fail = -1

// Slot is a feature-structure node's (name, value) pair. Value is either
// a plain store handle (an atomic value, or a reference to a public
// frame treated as opaque) or handle.Index(n), pointing at node n in the
// same buffer — the FS analogue of handle.Slot, distinguished by
// handle.Handle.IsIndex() rather than by a separate field.
type Slot = handle.Slot

type node struct {
	kind    Kind
	forward int
	ref     handle.Handle // Reference
	value   handle.Handle // Value
	origin  handle.Handle // Content: the frame it was copied from, for destructive Construct
	slots   []Slot        // Content/Unifying/Trimming
}

// TypeSystem lets a caller plug in type subsumption and role-alias
// knowledge. With none set, isa-slot unification falls back to
// plain set union and role pruning is skipped.
type TypeSystem interface {
	// Subsumes reports whether super is a more general type than sub
	// (super subsumes sub).
	Subsumes(super, sub handle.Handle) bool
	// RoleMap returns typ's role-alias map: inherited role name to the
	// overriding role name in typ, or nil if typ declares none.
	RoleMap(typ handle.Handle) map[handle.Handle]handle.Handle
}

// Unifier holds the flat node buffer built while importing and unifying
// store frames. It registers itself as a GC root for its entire
// lifetime, protecting every store handle reachable from any node
// (reference targets, atomic values, slot contents) across an
// allocation triggered by Construct or by reifying a frame mid-unify.
type Unifier struct {
	store *store.Store
	types TypeSystem
	nodes []node
}

func NewUnifier(s *store.Store) *Unifier {
	u := &Unifier{store: s}
	s.RegisterRoot(u)
	return u
}

// SetTypeSystem installs the collaborator used for isa-slot unification
// and role pruning.
func (u *Unifier) SetTypeSystem(t TypeSystem) { u.types = t }

// Close releases the unifier's root registration. Call once the caller
// is done constructing frames from this buffer.
func (u *Unifier) Close() { u.store.UnregisterRoot(u) }

func (u *Unifier) EnumerateHandles(visit func(*handle.Handle)) {
	for i := range u.nodes {
		n := &u.nodes[i]
		visit(&n.ref)
		visit(&n.value)
		visit(&n.origin)
		for j := range n.slots {
			visit(&n.slots[j].Name)
			visit(&n.slots[j].Value)
		}
	}
}

func sortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		ri, rj := slots[i].Name.Rank(), slots[j].Name.Rank()
		if ri != rj {
			return ri < rj
		}
		return slots[i].Value.Rank() < slots[j].Value.Rank()
	})
}

func valuesOf(slots []Slot) []handle.Handle {
	out := make([]handle.Handle, len(slots))
	for i, s := range slots {
		out[i] = s.Value
	}
	return out
}
