// Package schema compiles knowledge-graph schemata into feature-structure
// templates and constructs frames from them by unification. A schema is a
// descriptor for a frame type: an ordinary public store frame carrying
// parent-type links (is: slots), role definitions (role: slots naming role
// frames with target/simple sub-slots), and binding constraints (binding:
// slots naming constraint arrays).
//
// Compilation happens once per schema: Compiler.Compile builds a
// feature-structure node for the schema by unifying all its constraints,
// compacts the node graph, and stores the materialised template on the
// schema frame itself under the "template" slot. Construction happens per
// input: Schemata.Construct unifies an input frame with the pre-compiled
// template and reifies the result, so repeated construction never
// re-unifies the schema's constraints from scratch.
package schema

import (
	"sort"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
	"github.com/sling-kb/sling/internal/unify"
)

// symbols caches the slot names the schema machinery keys on. It is
// registered as a GC root for the lifetime of its owning Compiler or
// Schemata so the cached handles stay valid across collections.
type symbols struct {
	role, target, simple, binding handle.Handle
	equals, assign, hastype, self handle.Handle
	ancestors, template, rolemap  handle.Handle
	name, input, output           handle.Handle
}

func newSymbols(s *store.Store) *symbols {
	sy := &symbols{}
	s.RegisterRoot(sy)
	sy.role = s.Lookup("role")
	sy.target = s.Lookup("target")
	sy.simple = s.Lookup("simple")
	sy.binding = s.Lookup("binding")
	sy.equals = s.Lookup("equals")
	sy.assign = s.Lookup("assign")
	sy.hastype = s.Lookup("hastype")
	sy.self = s.Lookup("self")
	sy.ancestors = s.Lookup("ancestors")
	sy.template = s.Lookup("template")
	sy.rolemap = s.Lookup("rolemap")
	sy.name = s.Lookup("name")
	sy.input = s.Lookup("input")
	sy.output = s.Lookup("output")
	return sy
}

func (sy *symbols) EnumerateHandles(visit func(*handle.Handle)) {
	visit(&sy.role)
	visit(&sy.target)
	visit(&sy.simple)
	visit(&sy.binding)
	visit(&sy.equals)
	visit(&sy.assign)
	visit(&sy.hastype)
	visit(&sy.self)
	visit(&sy.ancestors)
	visit(&sy.template)
	visit(&sy.rolemap)
	visit(&sy.name)
	visit(&sy.input)
	visit(&sy.output)
}

// Compiler compiles schemata into feature-structure templates. It is
// itself a TypeSystem: subsumption and role maps are computed on the fly
// and cached on the schema frames ("ancestors" and "rolemap" slots), so
// the compiler never assumes another pass has pre-computed them.
type Compiler struct {
	store *store.Store
	syms  *symbols
}

func NewCompiler(s *store.Store) *Compiler {
	return &Compiler{store: s, syms: newSymbols(s)}
}

// Close releases the compiler's root registration.
func (c *Compiler) Close() { c.store.UnregisterRoot(c.syms) }

// Compile builds the template for schema and stores it on the schema frame
// under the "template" slot. Returns the template's handle, or Nil if the
// schema's constraints are inconsistent or the schema is marked simple
// (simple schemata carry no structure worth pre-compiling).
func (c *Compiler) Compile(schema handle.Handle) handle.Handle {
	c.FindAncestors(schema)
	c.roleMapFrame(schema)

	if c.store.Get(schema, c.syms.simple).IsTrue() {
		return handle.Nil
	}

	u := unify.NewUnifier(c.store)
	defer u.Close()
	u.SetTypeSystem(c)

	b := &templateBuilder{store: c.store, u: u, syms: c.syms}
	node := b.constructSchema(schema)
	if node == unify.Fail {
		return handle.Nil
	}
	u.Compact(node)

	tmpl := u.Template()
	c.store.Set(schema, c.syms.template, tmpl)
	return tmpl
}

// FindAncestors returns an array of all ancestor schemata of schema
// (including schema itself), following is: parent links transitively. The
// array is cached on the schema frame under the "ancestors" slot; an
// already cached array is returned as-is.
func (c *Compiler) FindAncestors(schema handle.Handle) handle.Handle {
	if a := c.store.Get(schema, c.syms.ancestors); !a.IsNil() {
		return a
	}

	types := &store.Vector{Handles: []handle.Handle{schema}}
	c.store.RegisterRoot(types)
	defer c.store.UnregisterRoot(types)
	for i := 0; i < len(types.Handles); i++ {
		for _, sl := range c.store.FrameSlots(types.Handles[i]) {
			if !sl.Name.IsIs() {
				continue
			}
			found := false
			for _, t := range types.Handles {
				if t == sl.Value {
					found = true
					break
				}
			}
			if !found {
				types.Push(sl.Value)
			}
		}
	}
	sort.Slice(types.Handles, func(i, j int) bool {
		return types.Handles[i].Rank() < types.Handles[j].Rank()
	})

	arr := c.store.AllocateArray(types.Handles)
	c.store.Set(schema, c.syms.ancestors, arr)
	return c.store.Get(schema, c.syms.ancestors)
}

// Subsumes reports whether super is an ancestor of sub, computing (and
// caching) sub's ancestor set on demand.
func (c *Compiler) Subsumes(super, sub handle.Handle) bool {
	if super == sub {
		return true
	}
	anc := c.FindAncestors(sub)
	for _, t := range c.store.ArrayElements(anc) {
		if t == super {
			return true
		}
	}
	return false
}

// RoleMap returns typ's role-alias map, computing (and caching) it on
// demand.
func (c *Compiler) RoleMap(typ handle.Handle) map[handle.Handle]handle.Handle {
	return roleMapOf(c.store, c.roleMapFrame(typ))
}

// roleMapFrame computes the role map for typ: a frame whose slots map
// direct and inherited parent roles to the overriding role declared in
// typ or one of its ancestors. Cached on the schema frame under the
// "rolemap" slot.
func (c *Compiler) roleMapFrame(typ handle.Handle) handle.Handle {
	if rm := c.store.Get(typ, c.syms.rolemap); !rm.IsNil() {
		return rm
	}

	var mapping []handle.Slot
	add := func(parent, role handle.Handle) {
		for i := range mapping {
			if mapping[i].Name == parent {
				mapping[i].Value = role
				return
			}
		}
		mapping = append(mapping, handle.Slot{Name: parent, Value: role})
	}

	// Inherit mappings from parent types, then overlay this type's own
	// role overrides (a role with an is: link aliases its parent role).
	for _, sl := range c.store.FrameSlots(typ) {
		if !sl.Name.IsIs() {
			continue
		}
		inherited := c.roleMapFrame(sl.Value)
		for _, is := range c.store.FrameSlots(inherited) {
			add(is.Name, is.Value)
		}
	}
	for _, sl := range c.store.FrameSlots(typ) {
		if sl.Name != c.syms.role {
			continue
		}
		role := sl.Value
		for _, rs := range c.store.FrameSlots(role) {
			if rs.Name.IsIs() {
				add(rs.Value, role)
			}
		}
	}

	sort.Slice(mapping, func(i, j int) bool {
		return mapping[i].Name.Rank() < mapping[j].Name.Rank()
	})
	frame := c.store.AllocateFrame(mapping)
	c.store.Set(typ, c.syms.rolemap, frame)
	return c.store.Get(typ, c.syms.rolemap)
}

// roleMapOf converts a role-map frame into the map shape the unifier's
// TypeSystem interface wants. An empty or nil frame yields nil, which the
// unifier treats as "no aliases declared".
func roleMapOf(s *store.Store, frame handle.Handle) map[handle.Handle]handle.Handle {
	if frame.IsNil() {
		return nil
	}
	slots := s.FrameSlots(frame)
	if len(slots) == 0 {
		return nil
	}
	m := make(map[handle.Handle]handle.Handle, len(slots))
	for _, sl := range slots {
		m[sl.Name] = sl.Value
	}
	return m
}

// importable reports whether h can be imported into a unifier buffer as a
// structure of its own: an anonymous frame. Public frames are atomic
// values from the unifier's point of view.
func importable(s *store.Store, h handle.Handle) bool {
	if !h.IsRef() || s.Kind(h) != handle.KindFrame {
		return false
	}
	for _, sl := range s.FrameSlots(h) {
		if sl.Name.IsID() {
			return false
		}
	}
	return true
}
