package schema

import (
	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
	"github.com/sling-kb/sling/internal/unify"
)

// templateBuilder turns one schema frame into a feature-structure node by
// unifying all of its constraints: parent types, typed roles, role
// aliases, and bindings. It owns the active-schema stack that stops a
// recursive schema definition from expanding forever.
type templateBuilder struct {
	store *store.Store
	u     *unify.Unifier
	syms  *symbols

	// active holds the schemata currently under construction. A schema
	// reached again through its own parent or role chain contributes an
	// empty node instead of expanding, so recursive definitions stay
	// finite.
	active []handle.Handle
}

// constructSchema builds the node for schema, unified with every
// constraint the schema declares, and returns its index or unify.Fail.
func (b *templateBuilder) constructSchema(schema handle.Handle) int {
	for _, h := range b.active {
		if h == schema {
			return b.u.AllocateContentNode(0)
		}
	}
	b.active = append(b.active, schema)

	node := b.u.AllocateContentNode(1)
	b.u.AddSlot(node, handle.IsA, schema)

	for _, sl := range b.store.FrameSlots(schema) {
		var constraint int
		switch {
		case sl.Name.IsIs():
			constraint = b.constructSchema(sl.Value)

		case sl.Name == b.syms.role:
			role := sl.Value

			// A role with an is: link aliases the inherited role it
			// overrides; the two must unify to the same value.
			for _, rs := range b.store.FrameSlots(role) {
				if !rs.Name.IsIs() {
					continue
				}
				alias := b.constructAlias(role, rs.Value)
				if alias == unify.Fail {
					return unify.Fail
				}
				node = b.u.Unify(node, alias)
				if node == unify.Fail {
					return unify.Fail
				}
			}

			target := b.store.Get(role, b.syms.target)
			if target.IsNil() {
				continue
			}
			if b.store.Get(role, b.syms.simple).IsTrue() {
				continue
			}
			constraint = b.constructRole(role, target)

		case sl.Name == b.syms.binding:
			constraint = b.constructBinding(sl.Value)

		default:
			continue
		}

		if constraint == unify.Fail {
			return unify.Fail
		}
		node = b.u.Unify(node, constraint)
		if node == unify.Fail {
			return unify.Fail
		}
	}

	b.active = b.active[:len(b.active)-1]
	return node
}

// constructRole builds the constraint node for a typed role: a node whose
// role slot points at the node for the role's target schema.
func (b *templateBuilder) constructRole(role, target handle.Handle) int {
	typ := b.constructSchema(target)
	if typ == unify.Fail {
		return unify.Fail
	}
	node := b.u.AllocateContentNode(1)
	b.u.AddSlot(node, role, handle.Index(uint32(typ)))
	return node
}

// constructAlias builds a node in which the two roles share one common
// value node, so anything later unified into either role lands in both.
func (b *templateBuilder) constructAlias(role1, role2 handle.Handle) int {
	common := b.u.AllocateContentNode(0)
	node1 := b.u.AllocateContentNode(1)
	b.u.AddSlot(node1, role1, handle.Index(uint32(common)))
	node2 := b.u.AllocateContentNode(1)
	b.u.AddSlot(node2, role2, handle.Index(uint32(common)))
	return b.u.Unify(node1, node2)
}

// path is a chain of nodes built from the role elements of a binding
// expression. head is the entry node; the final role name last is left
// unset on tail so the binding operator can decide what it points at.
// A bare "self" path has no nodes at all.
type path struct {
	head, tail int
	last       handle.Handle
	self       bool
}

func (b *templateBuilder) constructPath(elems []handle.Handle) (path, bool) {
	if len(elems) == 0 {
		return path{}, false
	}
	if len(elems) == 1 && elems[0] == b.syms.self {
		return path{self: true}, true
	}
	head := b.u.AllocateContentNode(1)
	tail := head
	for _, e := range elems[:len(elems)-1] {
		next := b.u.AllocateContentNode(1)
		b.u.AddSlot(tail, e, handle.Index(uint32(next)))
		tail = next
	}
	return path{head: head, tail: tail, last: elems[len(elems)-1]}, true
}

// constructBinding builds the constraint node for a binding array. A
// binding is an array holding a left path, an operator, and a right
// argument:
//
//	[ <path> equals <path> ]
//	[ <path> equals self ]
//	[ <path> assign <value> ]
//	[ <path> hastype <type> ]
//
// Returns the node index or unify.Fail for a malformed binding.
func (b *templateBuilder) constructBinding(binding handle.Handle) int {
	if !binding.IsRef() || b.store.Kind(binding) != handle.KindArray {
		return unify.Fail
	}
	elems := b.store.ArrayElements(binding)

	// The operator cannot be the first or last element.
	split := -1
	for i := 1; i < len(elems)-1; i++ {
		e := elems[i]
		if e == b.syms.equals || e == b.syms.assign || e == b.syms.hastype {
			split = i
			break
		}
	}
	if split == -1 {
		return unify.Fail
	}
	op := elems[split]
	left, right := elems[:split], elems[split+1:]

	lp, ok := b.constructPath(left)
	if !ok {
		return unify.Fail
	}

	switch op {
	case b.syms.equals:
		rp, ok := b.constructPath(right)
		if !ok {
			return unify.Fail
		}
		switch {
		case lp.self && rp.self:
			return unify.Fail
		case lp.self:
			// The right path loops back to its own head: it must equal
			// the frame being constructed.
			b.u.AddSlot(rp.tail, rp.last, handle.Index(uint32(rp.head)))
			return rp.head
		case rp.self:
			b.u.AddSlot(lp.tail, lp.last, handle.Index(uint32(lp.head)))
			return lp.head
		default:
			common := b.u.AllocateContentNode(0)
			b.u.AddSlot(lp.tail, lp.last, handle.Index(uint32(common)))
			b.u.AddSlot(rp.tail, rp.last, handle.Index(uint32(common)))
			return b.u.Unify(lp.head, rp.head)
		}

	case b.syms.assign:
		if len(right) != 1 || lp.self {
			return unify.Fail
		}
		b.u.AddSlot(lp.tail, lp.last, right[0])
		return lp.head

	default: // hastype
		if len(right) != 1 || lp.self {
			return unify.Fail
		}
		typ := b.constructSchema(right[0])
		if typ == unify.Fail {
			return unify.Fail
		}
		b.u.AddSlot(lp.tail, lp.last, handle.Index(uint32(typ)))
		return lp.head
	}
}
