package schema

import (
	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
	"github.com/sling-kb/sling/internal/unify"
)

// Schemata constructs frames from pre-compiled schema templates. Unlike
// Compiler it never computes anything itself: subsumption and role maps
// come from the "ancestors" and "rolemap" slots a Compiler run left on the
// schema frames, so construction is read-only with respect to the
// schemata.
type Schemata struct {
	store *store.Store
	syms  *symbols
}

func NewSchemata(s *store.Store) *Schemata {
	return &Schemata{store: s, syms: newSymbols(s)}
}

// Close releases the root registration.
func (s *Schemata) Close() { s.store.UnregisterRoot(s.syms) }

// Construct unifies input with schema's pre-compiled template and reifies
// the result. Returns Nil if the unification fails, the schema has no
// template, or input is not an anonymous frame.
func (s *Schemata) Construct(schema, input handle.Handle) handle.Handle {
	tmpl := s.store.Get(schema, s.syms.template)
	if tmpl.IsNil() || !importable(s.store, input) {
		return handle.Nil
	}

	// The compiled template's root is node 0 of the restored buffer.
	u := unify.NewUnifierFromTemplate(s.store, tmpl)
	defer u.Close()
	u.SetTypeSystem(s)

	node := u.AddFrame(input)
	result := u.Unify(node, 0)
	if result == unify.Fail {
		return handle.Nil
	}
	u.Trim(result)
	return u.Construct(result, false)
}

// Project runs input through a mapping schema and returns the output
// frame, or Nil if the projection fails. A mapping's template relates an
// "input" sub-structure to an "output" sub-structure; projecting unifies
// the input frame into the input side and reads what the bindings forced
// into the output side. In destructive mode frames imported from the
// store are updated in place with the projection's result.
func (s *Schemata) Project(mapping, input handle.Handle, destructive bool) handle.Handle {
	tmpl := s.store.Get(mapping, s.syms.template)
	if tmpl.IsNil() || !importable(s.store, input) {
		return handle.Nil
	}

	u := unify.NewUnifierFromTemplate(s.store, tmpl)
	defer u.Close()
	u.SetTypeSystem(s)

	in := u.AddFrame(input)
	out := u.AllocateContentNode(0)
	node := u.AllocateContentNode(2)
	u.AddSlot(node, s.syms.input, handle.Index(uint32(in)))
	u.AddSlot(node, s.syms.output, handle.Index(uint32(out)))

	result := u.Unify(node, 0)
	if result == unify.Fail {
		return handle.Nil
	}
	u.Trim(result)

	h := u.Construct(result, destructive)
	if h.IsNil() {
		return handle.Nil
	}
	return s.store.Get(h, s.syms.output)
}

// Subsumes reports whether supertype is an ancestor of subtype, using the
// pre-compiled ancestor arrays. A schema without one subsumes nothing but
// itself.
func (s *Schemata) Subsumes(supertype, subtype handle.Handle) bool {
	if supertype == subtype {
		return true
	}
	anc := s.store.Get(subtype, s.syms.ancestors)
	if anc.IsNil() {
		return false
	}
	for _, t := range s.store.ArrayElements(anc) {
		if t == supertype {
			return true
		}
	}
	return false
}

// RoleMap returns the pre-compiled role map for typ, or nil if none was
// compiled.
func (s *Schemata) RoleMap(typ handle.Handle) map[handle.Handle]handle.Handle {
	return roleMapOf(s.store, s.store.Get(typ, s.syms.rolemap))
}

// GetNamedRole finds the role declared directly on schema whose "name"
// slot equals name. Parent schemata are not searched.
func (s *Schemata) GetNamedRole(schema handle.Handle, name string) handle.Handle {
	for _, sl := range s.store.FrameSlots(schema) {
		if sl.Name != s.syms.role {
			continue
		}
		rn := s.store.Get(sl.Value, s.syms.name)
		if !rn.IsRef() || s.store.Kind(rn) != handle.KindString {
			continue
		}
		text, _ := s.store.StringValue(rn)
		if text == name {
			return sl.Value
		}
	}
	return handle.Nil
}

// ResolveNamedRole finds the named role for schema, searching the
// schema's ancestors and returning the role declared on the most specific
// of them. Falls back to a direct search when schema has no pre-compiled
// ancestor array.
func (s *Schemata) ResolveNamedRole(schema handle.Handle, name string) handle.Handle {
	anc := s.store.Get(schema, s.syms.ancestors)
	if anc.IsNil() {
		return s.GetNamedRole(schema, name)
	}
	match, defining := handle.Nil, handle.Nil
	for _, parent := range s.store.ArrayElements(anc) {
		role := s.GetNamedRole(parent, name)
		if role.IsNil() {
			continue
		}
		if defining.IsNil() || s.Subsumes(defining, parent) {
			match, defining = role, parent
		}
	}
	return match
}
