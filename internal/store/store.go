// Package store implements the frame store: heaps, a
// process-wide symbol table, a copying garbage collector, and the
// global/local two-arena inheritance that lets many short-lived local
// stores share one frozen, read-only global store.
//
// A Store is either a global store (parent == nil) or a local store built
// over exactly one global parent. Writes always land in the store they are
// called on; reads against a GlobalRef handle always resolve against the
// root ancestor's heap, regardless of which store in the chain is asked,
// since a GlobalRef's offset is only meaningful there.
package store

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/sling-kb/sling/internal/diag"
	"github.com/sling-kb/sling/internal/handle"
)

// Options configures a Store. The zero value is not valid; use
// DefaultOptions and override individual fields.
type Options struct {
	InitialHeapWords int
	InitialSymbols   int
	FingerprintSeed  uint64
	GCThresholdWords uint32
}

func DefaultOptions() Options {
	return Options{
		InitialHeapWords: 1024,
		InitialSymbols:   64,
		FingerprintSeed:  0,
		GCThresholdWords: 4096,
	}
}

type Store struct {
	opts   Options
	parent *Store

	heap   *heap
	symtab *symbolTable
	roots  []Root

	gcLock      int
	deferredGC  bool
	frozen      bool

	gcThreshold uint32

	Log *diag.Log
}

// NewGlobalStore creates a root store with no parent. It starts out
// writable; call Freeze once construction is complete so local stores can
// safely inherit from it.
func NewGlobalStore(opts Options) *Store { return newStore(nil, opts) }

// NewLocalStore creates a writable store inheriting read access to parent's
// global heap and symbol table. parent is typically frozen, though nothing
// here requires it.
func NewLocalStore(parent *Store, opts Options) *Store { return newStore(parent, opts) }

func newStore(parent *Store, opts Options) *Store {
	if opts.InitialHeapWords <= 0 {
		opts = DefaultOptions()
	}
	return &Store{
		opts:        opts,
		parent:      parent,
		heap:        newHeap(opts.InitialHeapWords),
		symtab:      newSymbolTable(opts.InitialSymbols),
		gcThreshold: opts.GCThresholdWords,
		Log:         &diag.Log{},
	}
}

func (s *Store) globalStore() *Store {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (s *Store) checkWritable() {
	if s.frozen {
		panic("store: write to frozen store")
	}
}

// Freeze makes the store immutable. A frozen store may still be read and
// may still be the parent of local stores, but no further allocation,
// update, binding, or garbage collection is permitted on it.
func (s *Store) Freeze()        { s.frozen = true }
func (s *Store) IsFrozen() bool { return s.frozen }

// --- root registration ---

func (s *Store) RegisterRoot(r Root) { s.roots = append(s.roots, r) }

func (s *Store) UnregisterRoot(r Root) {
	for i, existing := range s.roots {
		if existing == r {
			s.roots = append(s.roots[:i], s.roots[i+1:]...)
			return
		}
	}
}

// --- GC lock ---

func (s *Store) GCLock() { s.gcLock++ }

func (s *Store) GCUnlock() {
	if s.gcLock == 0 {
		panic("store: GCUnlock without matching GCLock")
	}
	s.gcLock--
	if s.gcLock == 0 && s.deferredGC {
		s.deferredGC = false
		s.GC()
	}
}

func (s *Store) maybeGC() {
	if s.heap.len() < s.gcThreshold {
		return
	}
	if s.gcLock > 0 {
		s.deferredGC = true
		return
	}
	s.GC()
}

// --- dereferencing ---

// derefOffset resolves h to the heap holding its data and its offset within
// that heap, transparently following Forward tombstones left by proxy
// replacement or a prior GC.
func (s *Store) derefOffset(h handle.Handle) (*heap, uint32) {
	var hp *heap
	var off uint32
	switch {
	case h.IsLocalRef():
		hp, off = s.heap, h.Offset()
	case h.IsGlobalRef():
		g := s.globalStore()
		hp, off = g.heap, h.Offset()
	default:
		panic("store: deref of non-reference handle")
	}
	const maxForwardHops = 10000
	for i := 0; i < maxForwardHops && hp.isForward(off); i++ {
		t := hp.forwardTarget(off)
		if t.IsLocalRef() {
			hp, off = s.heap, t.Offset()
		} else {
			g := s.globalStore()
			hp, off = g.heap, t.Offset()
		}
	}
	return hp, off
}

func (s *Store) Kind(h handle.Handle) handle.Kind {
	hp, off := s.derefOffset(h)
	return hp.header(off).Kind()
}

func (s *Store) IsProxy(h handle.Handle) bool {
	if !h.IsRef() {
		return false
	}
	hp, off := s.derefOffset(h)
	hd := hp.header(off)
	return hd.Kind() == handle.KindFrame && frameSize(hd) == 1 && hp.frameSlotName(off, 0).IsID()
}

func (s *Store) FrameSlots(h handle.Handle) []handle.Slot {
	hp, off := s.derefOffset(h)
	hd := hp.header(off)
	if hd.Kind() != handle.KindFrame {
		panic("store: FrameSlots of non-frame handle")
	}
	n := frameSize(hd)
	out := make([]handle.Slot, n)
	for i := 0; i < n; i++ {
		out[i] = handle.Slot{Name: hp.frameSlotName(off, i), Value: hp.frameSlotValue(off, i)}
	}
	return out
}

func (s *Store) StringValue(h handle.Handle) (string, handle.Handle) {
	hp, off := s.derefOffset(h)
	hd := hp.header(off)
	if hd.Kind() != handle.KindString {
		panic("store: StringValue of non-string handle")
	}
	return string(hp.stringBytes(off, int(hd.Size()))), hp.stringQualifier(off)
}

func (s *Store) ArrayElements(h handle.Handle) []handle.Handle {
	hp, off := s.derefOffset(h)
	hd := hp.header(off)
	if hd.Kind() != handle.KindArray {
		panic("store: ArrayElements of non-array handle")
	}
	n := int(hd.Size())
	out := make([]handle.Handle, n)
	for i := 0; i < n; i++ {
		out[i] = hp.arrayElem(off, i)
	}
	return out
}

func (s *Store) SymbolName(h handle.Handle) string {
	hp, off := s.derefOffset(h)
	if hp.header(off).Kind() != handle.KindSymbol {
		panic("store: SymbolName of non-symbol handle")
	}
	text, _ := s.StringValue(hp.symbolName(off))
	return text
}

func (s *Store) symbolBoundHandle(symH handle.Handle) handle.Handle {
	hp, off := s.derefOffset(symH)
	return hp.symbolValue(off)
}

// BoundValue returns the frame sym is currently bound to, or handle.Nil if
// sym is unbound. sym must be a symbol handle.
func (s *Store) BoundValue(sym handle.Handle) handle.Handle {
	return s.symbolBoundHandle(sym)
}

func (s *Store) bindSymbol(symH, target handle.Handle) {
	owner := s
	if symH.IsGlobalRef() {
		owner = s.globalStore()
	}
	owner.checkWritable()
	hp, off := owner.derefOffset(symH)
	hp.setSymbolValue(off, target)
}

// --- symbol lookup ---

// LookupExisting searches this store and, failing that, its ancestor chain,
// returning handle.Nil if name has never been interned anywhere in the
// chain. It never allocates.
func (s *Store) LookupExisting(name string) handle.Handle {
	if h, ok := s.symtab.lookupExisting(s.heap, name); ok {
		return h
	}
	if s.parent != nil {
		return s.parent.LookupExisting(name)
	}
	return handle.Nil
}

// Lookup returns the (possibly unbound) symbol for name, creating it in
// this store if it is not already interned anywhere in the ancestor chain.
func (s *Store) Lookup(name string) handle.Handle {
	if h := s.LookupExisting(name); h != handle.Nil {
		return h
	}
	s.checkWritable()
	nameH := s.AllocateString(name, handle.Nil)
	off := s.heap.allocSymbol(nameH)
	h := handle.LocalRef(off)
	s.symtab.insert(s.heap, name, h)
	s.maybeGC()
	return h
}

// LookupLocal behaves like Lookup but never returns or creates a symbol in
// an ancestor global store: it only consults this store's own symbol
// table, interning a fresh local symbol if name is absent here even when
// an ancestor already binds it. The wire decoder uses this to localise a
// foreign (frozen) symbol before binding a frame's id slot within a
// writable local store (foreign symbols are localised so
// decoding never mutates another store's symbol table").
func (s *Store) LookupLocal(name string) handle.Handle {
	if h, ok := s.symtab.lookupExisting(s.heap, name); ok {
		return h
	}
	s.checkWritable()
	nameH := s.AllocateString(name, handle.Nil)
	off := s.heap.allocSymbol(nameH)
	h := handle.LocalRef(off)
	s.symtab.insert(s.heap, name, h)
	s.maybeGC()
	return h
}

// --- allocation ---

// AllocateFrame allocates a new frame with the given slots. If any
// slot's name is the reserved id constant, its value must itself be a
// symbol handle (typically the result of Lookup); binding then follows
// the redefinition rules:
//
//   - symbol unbound: bind it to the new frame and return the new handle.
//   - symbol bound to a proxy: replace the proxy in place (tombstone the
//     proxy's old address to forward here) and return the proxy's handle,
//     so every existing reference to the proxy now observes this frame.
//   - symbol bound to a non-proxy frame: rebind the symbol to the new
//     frame; the previous frame is left intact at its own address for
//     anyone still holding it directly.
//
// A frame with multiple id slots (aliases) binds every later id to
// whichever handle the first id slot resolved to.
func (s *Store) AllocateFrame(slots []handle.Slot) handle.Handle {
	s.checkWritable()
	off := s.heap.allocFrame(len(slots))
	for i, sl := range slots {
		s.heap.setFrameSlot(off, i, sl.Name, sl.Value)
	}
	result := s.bindIDSlots(off, slots)
	s.maybeGC()
	return result
}

// bindIDSlots applies the id-slot binding/proxy-replacement rules documented
// on AllocateFrame to a frame that has already been written at off, and
// returns the handle observers should use. Shared by AllocateFrame and
// FinalizePlaceholder, the wire decoder's streaming-construction entry
// point, so both paths agree on redefinition semantics.
func (s *Store) bindIDSlots(off uint32, slots []handle.Slot) handle.Handle {
	newH := handle.LocalRef(off)
	result := newH
	firstIDSeen := false
	for _, sl := range slots {
		if !sl.Name.IsID() {
			continue
		}
		symH := sl.Value
		if !firstIDSeen {
			bound := s.symbolBoundHandle(symH)
			switch {
			case bound == handle.Nil:
				s.bindSymbol(symH, newH)
				result = newH
			case s.IsProxy(bound) && bound != newH:
				s.replaceProxy(bound, off)
				result = bound
			default:
				s.bindSymbol(symH, newH)
				result = newH
			}
			firstIDSeen = true
		} else {
			s.bindSymbol(symH, result)
		}
	}
	return result
}

func (s *Store) replaceProxy(proxyHandle handle.Handle, newOff uint32) {
	if !proxyHandle.IsLocalRef() {
		panic("store: cannot replace a proxy living in the frozen global store")
	}
	s.heap.setForward(proxyHandle.Offset(), handle.LocalRef(newOff))
}

// AllocatePlaceholder reserves an empty, unbound frame at a stable address
// without running id-binding. Callers that must hand out a concrete handle
// before a composite value's final content is known — the wire decoder,
// registering a reference-table entry before a frame's slots have been
// decoded, so a slot that refers back to this frame resolves correctly —
// allocate a placeholder first and fill it in with FinalizePlaceholder once
// the content is available.
func (s *Store) AllocatePlaceholder() handle.Handle {
	s.checkWritable()
	off := s.heap.allocFrame(0)
	return handle.LocalRef(off)
}

// FinalizePlaceholder fills in a frame allocated by AllocatePlaceholder with
// its final slots and applies the same id-binding rules AllocateFrame does.
// If placeholder's id symbol turns out to already be bound to an earlier
// proxy, that proxy's handle is returned (tombstoned to forward to this
// frame) instead of placeholder's own handle, exactly as AllocateFrame
// would behave had it been called with this content directly.
func (s *Store) FinalizePlaceholder(placeholder handle.Handle, slots []handle.Slot) handle.Handle {
	s.checkWritable()
	if !placeholder.IsLocalRef() {
		panic("store: FinalizePlaceholder of a non-local handle")
	}
	off := placeholder.Offset()
	hd := s.heap.header(off)
	if hd.Kind() != handle.KindFrame {
		panic("store: FinalizePlaceholder of a non-frame handle")
	}
	if frameSize(hd) == len(slots) {
		for i, sl := range slots {
			s.heap.setFrameSlot(off, i, sl.Name, sl.Value)
		}
	} else {
		newOff := s.heap.allocFrame(len(slots))
		for i, sl := range slots {
			s.heap.setFrameSlot(newOff, i, sl.Name, sl.Value)
		}
		s.heap.setForward(off, handle.LocalRef(newOff))
	}
	result := s.bindIDSlots(placeholder.Offset(), slots)
	s.maybeGC()
	return result
}

// UpdateFrame replaces h's slot content, preserving h's identity: callers
// that already hold h keep observing the same frame. When the new slot
// count matches the old, the rewrite happens in place; otherwise the new
// content is allocated fresh and h's old address is tombstoned to forward
// there, the same mechanism proxy replacement uses.
func (s *Store) UpdateFrame(h handle.Handle, slots []handle.Slot) handle.Handle {
	s.checkWritable()
	if !h.IsLocalRef() {
		panic("store: cannot update a frame living in the frozen global store")
	}
	hp, off := s.derefOffset(h)
	if hp != s.heap {
		panic("store: cannot update a frame living in the frozen global store")
	}
	hd := s.heap.header(off)
	if hd.Kind() != handle.KindFrame {
		panic("store: UpdateFrame of non-frame handle")
	}
	if frameSize(hd) == len(slots) {
		for i, sl := range slots {
			s.heap.setFrameSlot(off, i, sl.Name, sl.Value)
		}
		return h
	}
	newOff := s.heap.allocFrame(len(slots))
	for i, sl := range slots {
		s.heap.setFrameSlot(newOff, i, sl.Name, sl.Value)
	}
	s.heap.setForward(off, handle.LocalRef(newOff))
	s.maybeGC()
	return h
}

// Get returns the value of the first slot named name in h's frame, or
// Nil if the frame has no such slot. Absence is data, not an error.
func (s *Store) Get(h, name handle.Handle) handle.Handle {
	for _, sl := range s.FrameSlots(h) {
		if sl.Name == name {
			return sl.Value
		}
	}
	return handle.Nil
}

// Add appends a slot to h's frame.
func (s *Store) Add(h handle.Handle, name, value handle.Handle) handle.Handle {
	slots := append(s.FrameSlots(h), handle.Slot{Name: name, Value: value})
	return s.UpdateFrame(h, slots)
}

// Set replaces the value of h's first slot named name, or appends a new
// slot if none matches.
func (s *Store) Set(h handle.Handle, name, value handle.Handle) handle.Handle {
	slots := s.FrameSlots(h)
	for i := range slots {
		if slots[i].Name == name {
			slots[i].Value = value
			return s.UpdateFrame(h, slots)
		}
	}
	slots = append(slots, handle.Slot{Name: name, Value: value})
	return s.UpdateFrame(h, slots)
}

func (s *Store) AllocateString(data string, qualifier handle.Handle) handle.Handle {
	s.checkWritable()
	off := s.heap.allocString(len(data))
	s.heap.setStringBytes(off, []byte(data))
	s.heap.setStringQualifier(off, qualifier)
	s.maybeGC()
	return handle.LocalRef(off)
}

func (s *Store) AllocateArray(elems []handle.Handle) handle.Handle {
	s.checkWritable()
	off := s.heap.allocArray(len(elems))
	for i, e := range elems {
		s.heap.setArrayElem(off, i, e)
	}
	s.maybeGC()
	return handle.LocalRef(off)
}

// AllocateArrayPlaceholder reserves an n-element array at a stable address
// before its elements are known, the array analogue of
// AllocatePlaceholder/FinalizePlaceholder. The wire decoder uses this so an
// array element that refers back to the array itself (via a REF to its
// reference-table entry) resolves correctly while the remaining elements
// are still being decoded.
func (s *Store) AllocateArrayPlaceholder(n int) handle.Handle {
	s.checkWritable()
	off := s.heap.allocArray(n)
	return handle.LocalRef(off)
}

// SetArrayElem fills in element i of an array previously reserved with
// AllocateArrayPlaceholder.
func (s *Store) SetArrayElem(h handle.Handle, i int, v handle.Handle) {
	s.checkWritable()
	if !h.IsLocalRef() {
		panic("store: SetArrayElem on a non-local array handle")
	}
	off := h.Offset()
	if s.heap.header(off).Kind() != handle.KindArray {
		panic("store: SetArrayElem of non-array handle")
	}
	s.heap.setArrayElem(off, i, v)
}

// SetStringQualifier sets the qualifier of a string previously allocated
// with AllocateString, for a decoder that must learn a QSTRING's
// qualifier only after emitting the string itself into the reference
// table (a qualified string's own reference-table slot is pushed
// before its qualifier is decoded, so a qualifier that refers back to
// the string it qualifies resolves correctly).
func (s *Store) SetStringQualifier(h handle.Handle, qualifier handle.Handle) {
	s.checkWritable()
	if !h.IsLocalRef() {
		panic("store: SetStringQualifier on a non-local string handle")
	}
	off := h.Offset()
	if s.heap.header(off).Kind() != handle.KindString {
		panic("store: SetStringQualifier of non-string handle")
	}
	s.heap.setStringQualifier(off, qualifier)
}

// --- resolve ---

const maxResolveHops = 1000

// Resolve follows a chain of is-only frames (the redirection idiom: a
// frame with exactly one is slot stands for its target) to its end,
// returning the first handle that is not itself such a redirection.
// Resolve detects cycles and gives up after maxResolveHops, returning
// handle.Err in either case rather than looping forever.
func (s *Store) Resolve(h handle.Handle) handle.Handle {
	seen := map[handle.Handle]bool{}
	cur := h
	for i := 0; i < maxResolveHops; i++ {
		if !cur.IsRef() {
			return cur
		}
		if seen[cur] {
			return handle.Err
		}
		seen[cur] = true
		if s.Kind(cur) != handle.KindFrame {
			return cur
		}
		slots := s.FrameSlots(cur)
		if len(slots) != 1 || !slots[0].Name.IsIs() {
			return cur
		}
		cur = slots[0].Value
	}
	return handle.Err
}

// --- fingerprint ---

// Fingerprint computes a deterministic 64-bit structural digest of h, using
// the store's configured seed. Frame slots are visited in Rank order so the
// digest does not depend on insertion order, matching the unifier's
// canonical slot ordering. Cycles terminate the recursion with a
// distinct marker rather than looping forever.
func (s *Store) Fingerprint(h handle.Handle) uint64 {
	d := xxhash.NewWithSeed(s.globalStore().opts.FingerprintSeed)
	s.fingerprintInto(d, h, map[handle.Handle]bool{})
	return d.Sum64()
}

func writeTag(d *xxhash.Digest, b byte) { _, _ = d.Write([]byte{b}) }

func writeUint32(d *xxhash.Digest, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = d.Write(buf[:])
}

func (s *Store) fingerprintInto(d *xxhash.Digest, h handle.Handle, visiting map[handle.Handle]bool) {
	if !h.IsRef() {
		writeTag(d, 'S')
		writeUint32(d, uint32(h))
		return
	}
	if visiting[h] {
		writeTag(d, 'C')
		return
	}
	visiting[h] = true
	defer delete(visiting, h)

	switch s.Kind(h) {
	case handle.KindFrame:
		slots := append([]handle.Slot(nil), s.FrameSlots(h)...)
		sort.Slice(slots, func(i, j int) bool { return slots[i].Name.Rank() < slots[j].Name.Rank() })
		writeTag(d, 'F')
		writeUint32(d, uint32(len(slots)))
		for _, sl := range slots {
			s.fingerprintInto(d, sl.Name, visiting)
			s.fingerprintInto(d, sl.Value, visiting)
		}
	case handle.KindString:
		text, q := s.StringValue(h)
		writeTag(d, 's')
		_, _ = d.Write([]byte(text))
		s.fingerprintInto(d, q, visiting)
	case handle.KindArray:
		elems := s.ArrayElements(h)
		writeTag(d, 'A')
		writeUint32(d, uint32(len(elems)))
		for _, e := range elems {
			s.fingerprintInto(d, e, visiting)
		}
	case handle.KindSymbol:
		writeTag(d, 'Y')
		_, _ = d.Write([]byte(s.SymbolName(h)))
	}
}

// --- coalesce strings ---

// CoalesceStrings deduplicates identical (content, qualifier) string
// objects in this store's local heap, tombstoning later duplicates to
// forward to the first occurrence. Existing handles to a deduplicated
// string keep working: Deref follows the forward transparently.
func (s *Store) CoalesceStrings() {
	s.checkWritable()
	seen := map[string]uint32{}
	var off uint32
	for off < s.heap.len() {
		hd := s.heap.header(off)
		if hd.Kind() == handle.KindString {
			n := int(hd.Size())
			data := string(s.heap.stringBytes(off, n))
			q := s.heap.stringQualifier(off)
			key := data + "\x00" + q.String()
			if first, ok := seen[key]; ok {
				s.heap.setForward(off, handle.LocalRef(first))
			} else {
				seen[key] = off
			}
		}
		off += objectWords(hd)
	}
}

// --- structural dump, for test assertions ---

// Dump produces a store-independent tree suitable for structural equality
// comparisons (go-cmp), since raw handles are only meaningful within the
// store that produced them.
type Dump struct {
	Kind      string
	Scalar    string     `json:",omitempty"`
	Slots     []DumpSlot `json:",omitempty"`
	Text      string     `json:",omitempty"`
	Qualifier *Dump      `json:",omitempty"`
	Elements  []*Dump    `json:",omitempty"`
}

type DumpSlot struct {
	Name  *Dump
	Value *Dump
}

func (s *Store) Dump(h handle.Handle) *Dump {
	return s.dumpRec(h, map[handle.Handle]bool{})
}

func (s *Store) dumpRec(h handle.Handle, visiting map[handle.Handle]bool) *Dump {
	if !h.IsRef() {
		return &Dump{Kind: "scalar", Scalar: h.String()}
	}
	if visiting[h] {
		return &Dump{Kind: "cycle"}
	}
	visiting[h] = true
	defer delete(visiting, h)

	switch s.Kind(h) {
	case handle.KindFrame:
		d := &Dump{Kind: "frame"}
		for _, sl := range s.FrameSlots(h) {
			d.Slots = append(d.Slots, DumpSlot{Name: s.dumpRec(sl.Name, visiting), Value: s.dumpRec(sl.Value, visiting)})
		}
		return d
	case handle.KindString:
		text, q := s.StringValue(h)
		d := &Dump{Kind: "string", Text: text}
		if q != handle.Nil {
			d.Qualifier = s.dumpRec(q, visiting)
		}
		return d
	case handle.KindArray:
		d := &Dump{Kind: "array"}
		for _, e := range s.ArrayElements(h) {
			d.Elements = append(d.Elements, s.dumpRec(e, visiting))
		}
		return d
	case handle.KindSymbol:
		return &Dump{Kind: "symbol", Scalar: s.SymbolName(h)}
	default:
		return &Dump{Kind: "unknown"}
	}
}
