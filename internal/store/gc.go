package store

import (
	"sort"

	"github.com/sling-kb/sling/internal/diag"
	"github.com/sling-kb/sling/internal/handle"
)

// GC runs a full copying collection of this store's local heap. It never
// touches a parent global heap: a frozen store is meant to
// be shared across many local stores and is never collected.
//
// Three phases:
//
//  1. Mark: walk every registered root and the symbol table (the symbol
//     table is itself an implicit root: looking the same name up twice
//     must always yield the same Symbol identity) to find every reachable
//     local offset.
//  2. Copy: compact the reachable objects into a fresh heap in ascending
//     old-offset order, leaving a forwarding word in each old header.
//  3. Fixup: rewrite every root and every live object's internal handles to
//     point at the post-copy addresses, by following the forwarding words
//     left in the (about to be discarded) old heap.
//
// A handle held outside the heap that was never registered as a root is
// not guaranteed to survive; this GC makes no attempt to find
// such handles and may free the object they point to.
func (s *Store) GC() {
	s.checkWritable()
	old := s.heap
	beforeWords := old.len()

	// A proxy replaced earlier (replaceProxy) left a Forward at its own old
	// address pointing at the real frame's old address — a pre-existing
	// alias chain distinct from anything this collection will create.
	// Collapse it to its canonical (non-Forward) address now, before copy
	// gives that canonical address its own Forward to a new address;
	// otherwise a lookup through the alias would need to tell a "still an
	// old address, keep following" target apart from a "this is the final
	// new address" target, and both look like an ordinary local reference.
	aliases := collectAliases(old)

	live := s.markLive(old)
	objectsBefore := len(live)

	newH := s.copyLive(old, live)
	collapseAliases(old, aliases)
	s.fixupAfterGC(old, newH)

	s.heap = newH
	s.adjustThreshold(newH.len())

	s.Log.AddNote("local GC", diag.GCReport{
		HeapName:      "local",
		BytesBefore:   int(beforeWords) * 4,
		BytesAfter:    int(newH.len()) * 4,
		ObjectsBefore: objectsBefore,
		ObjectsAfter:  objectsBefore,
	})
}

func (s *Store) adjustThreshold(liveWords uint32) {
	next := liveWords * 2
	if next < s.opts.GCThresholdWords {
		next = s.opts.GCThresholdWords
	}
	s.gcThreshold = next
}

// markLive returns the old-heap offsets of every reachable local object, in
// ascending order.
func (s *Store) markLive(old *heap) []uint32 {
	visited := map[uint32]bool{}
	var order []uint32

	var mark func(h handle.Handle)
	mark = func(h handle.Handle) {
		if !h.IsLocalRef() {
			return
		}
		off := h.Offset()
		for old.isForward(off) {
			t := old.forwardTarget(off)
			if !t.IsLocalRef() {
				return
			}
			off = t.Offset()
		}
		if visited[off] {
			return
		}
		visited[off] = true
		order = append(order, off)

		hd := old.header(off)
		switch hd.Kind() {
		case handle.KindFrame:
			n := frameSize(hd)
			for i := 0; i < n; i++ {
				mark(old.frameSlotName(off, i))
				mark(old.frameSlotValue(off, i))
			}
		case handle.KindString:
			mark(old.stringQualifier(off))
		case handle.KindArray:
			n := int(hd.Size())
			for i := 0; i < n; i++ {
				mark(old.arrayElem(off, i))
			}
		case handle.KindSymbol:
			mark(old.symbolName(off))
			if old.symbolBound(off) {
				mark(old.symbolValue(off))
			}
		}
	}

	for _, r := range s.roots {
		r.EnumerateHandles(func(hp *handle.Handle) { mark(*hp) })
	}
	s.symtab.forEach(old, mark)

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return order
}

// collectAliases scans old for pre-existing Forward tombstones (left by
// replaceProxy) and records, for each one, the canonical non-Forward
// address its chain ultimately resolves to.
func collectAliases(old *heap) map[uint32]uint32 {
	aliases := map[uint32]uint32{}
	var off uint32
	for off < old.len() {
		hd := old.header(off)
		if hd.Kind() == kindForward {
			canonical := off
			for old.isForward(canonical) {
				canonical = old.forwardTarget(canonical).Offset()
			}
			aliases[off] = canonical
		}
		off += objectWords(hd)
	}
	return aliases
}

// collapseAliases rewrites each pre-existing alias (see collectAliases) to
// forward directly to its canonical address's post-copy location, so every
// alias becomes exactly one hop from a final new-heap address. Aliases
// whose canonical address turned out not to be live are left untouched —
// nothing reachable still points at them.
func collapseAliases(old *heap, aliases map[uint32]uint32) {
	for alias, canonical := range aliases {
		if old.isForward(canonical) {
			old.setForward(alias, old.forwardTarget(canonical))
		}
	}
}

// copyLive compacts the objects at the given old offsets into a fresh heap,
// in order, leaving a Forward tombstone at each old offset pointing at its
// new one.
func (s *Store) copyLive(old *heap, live []uint32) *heap {
	newH := newHeap(int(old.len()))
	for _, off := range live {
		hd := old.header(off)
		n := objectWords(hd)
		newOff := newH.reserve(int(n))
		copy(newH.words[newOff:newOff+n], old.words[off:off+n])
		old.setForward(off, handle.LocalRef(newOff))
	}
	return newH
}

// fixupAfterGC rewrites every handle that might still point at a pre-copy
// local address: the roots, the symbol table's bucket heads, and every
// Handle-valued field inside the newly copied objects themselves (their
// contents were copied verbatim, so any local reference they hold still
// names an old offset until this pass runs).
func (s *Store) fixupAfterGC(old *heap, newH *heap) {
	// redirectForwarded maps a handle that may still name a pre-copy local
	// offset to its post-copy one. By this point every reachable old
	// address — whether a canonical address the copy phase moved, or a
	// proxy alias collapseAliases retargeted — forwards in exactly one hop
	// to its final new-heap address. A local reference to an offset with
	// no forward at all was never marked live and is replaced with
	// handle.Nil rather than left dangling.
	redirectForwarded := func(h handle.Handle) handle.Handle {
		if !h.IsLocalRef() {
			return h
		}
		off := h.Offset()
		if !old.isForward(off) {
			return handle.Nil
		}
		return old.forwardTarget(off)
	}

	for _, r := range s.roots {
		r.EnumerateHandles(func(hp *handle.Handle) { *hp = redirectForwarded(*hp) })
	}
	s.symtab.rewrite(redirectForwarded)

	var off uint32
	for off < newH.len() {
		hd := newH.header(off)
		switch hd.Kind() {
		case handle.KindFrame:
			n := frameSize(hd)
			for i := 0; i < n; i++ {
				newH.setFrameSlot(off, i, redirectForwarded(newH.frameSlotName(off, i)), redirectForwarded(newH.frameSlotValue(off, i)))
			}
		case handle.KindString:
			newH.setStringQualifier(off, redirectForwarded(newH.stringQualifier(off)))
		case handle.KindArray:
			n := int(hd.Size())
			for i := 0; i < n; i++ {
				newH.setArrayElem(off, i, redirectForwarded(newH.arrayElem(off, i)))
			}
		case handle.KindSymbol:
			newH.set(off+1, redirectForwarded(newH.symbolName(off)))
			if newH.symbolBound(off) {
				newH.setSymbolValue(off, redirectForwarded(newH.symbolValue(off)))
			}
			newH.setSymbolNext(off, redirectForwarded(newH.symbolNext(off)))
		}
		off += objectWords(hd)
	}
}
