package store

import "github.com/sling-kb/sling/internal/handle"

// Builder stages a frame's slots before allocating it: call Add (or one
// of the named helpers) repeatedly, then Create to allocate a new frame
// or Update to rewrite an existing one in place.
//
// A Builder registers itself as a root for its entire lifetime, so values
// staged in it — including ones allocated by AddString before the frame
// holding them exists — survive a GC triggered mid-construction.
type Builder struct {
	store *Store
	slots []handle.Slot
}

func NewBuilder(s *Store) *Builder {
	b := &Builder{store: s}
	s.RegisterRoot(b)
	return b
}

func (b *Builder) EnumerateHandles(visit func(*handle.Handle)) {
	for i := range b.slots {
		visit(&b.slots[i].Name)
		visit(&b.slots[i].Value)
	}
}

// Add stages an arbitrary slot and returns b for chaining.
func (b *Builder) Add(name, value handle.Handle) *Builder {
	b.slots = append(b.slots, handle.Slot{Name: name, Value: value})
	return b
}

// AddID stages an id slot, interning name as a symbol in the builder's
// store first.
func (b *Builder) AddID(name string) *Builder {
	return b.Add(handle.ID, b.store.Lookup(name))
}

func (b *Builder) AddIsA(value handle.Handle) *Builder { return b.Add(handle.IsA, value) }
func (b *Builder) AddIs(value handle.Handle) *Builder  { return b.Add(handle.Is, value) }

// AddString interns s as a string object and stages it under name.
func (b *Builder) AddString(name handle.Handle, s string) *Builder {
	return b.Add(name, b.store.AllocateString(s, handle.Nil))
}

// Create allocates the staged slots as a new frame (applying the usual
// proxy-replacement and redefinition rules if any slot is an id) and
// releases the builder's root registration. The Builder must not be reused
// afterward.
func (b *Builder) Create() handle.Handle {
	h := b.store.AllocateFrame(b.slots)
	b.store.UnregisterRoot(b)
	return h
}

// Update rewrites h's slots from the staged content, preserving h's
// identity, and releases the builder's root registration.
func (b *Builder) Update(h handle.Handle) handle.Handle {
	out := b.store.UpdateFrame(h, b.slots)
	b.store.UnregisterRoot(b)
	return out
}
