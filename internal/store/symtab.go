package store

import (
	"hash/fnv"

	"github.com/sling-kb/sling/internal/handle"
)

// symbolTable is an open-addressed-by-chaining hash table over Symbol
// datums living in a heap: each bucket holds a handle to the head of
// a singly linked chain threaded through the Symbol datum's own next word,
// so growing the table never moves the Symbol objects themselves — only the
// bucket array is rebuilt.
//
// The table grows (doubling, power-of-two buckets) whenever the load
// factor is exceeded; looking a name up by its generic string hash is an
// ordinary
// bucketing concern, not the content digest Fingerprint provides separately
// for fingerprint(), so this uses the standard library's FNV-1a rather than
// the xxhash dependency reserved for that operation.
type symbolTable struct {
	buckets []handle.Handle // head of chain per bucket, or handle.Nil
	count   int
}

const symtabLoadFactor = 0.75

func newSymbolTable(initialBuckets int) *symbolTable {
	n := nextPowerOfTwo(initialBuckets)
	t := &symbolTable{buckets: make([]handle.Handle, n)}
	for i := range t.buckets {
		t.buckets[i] = handle.Nil
	}
	return t
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hashName(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

func (t *symbolTable) bucketIndex(name string) int {
	return int(hashName(name)) & (len(t.buckets) - 1)
}

// lookupExisting walks the chain for name without creating anything. h must
// provide readers so the table can compare candidate symbols' backing
// strings against name.
func (t *symbolTable) lookupExisting(h *heap, name string) (handle.Handle, bool) {
	idx := t.bucketIndex(name)
	cur := t.buckets[idx]
	for cur != handle.Nil {
		off := cur.Offset()
		strOff := h.symbolName(off).Offset()
		hd := h.header(strOff)
		if string(h.stringBytes(strOff, int(hd.Size()))) == name {
			return cur, true
		}
		cur = h.symbolNext(off)
	}
	return handle.Nil, false
}

// insert adds a freshly allocated (unbound) symbol at symHandle to the
// table, threading it onto the head of name's bucket chain, then grows the
// table if the load factor is now exceeded.
func (t *symbolTable) insert(h *heap, name string, symHandle handle.Handle) {
	idx := t.bucketIndex(name)
	h.setSymbolNext(symHandle.Offset(), t.buckets[idx])
	t.buckets[idx] = symHandle
	t.count++
	if float64(t.count) > symtabLoadFactor*float64(len(t.buckets)) {
		t.grow(h)
	}
}

func (t *symbolTable) grow(h *heap) {
	old := t.buckets
	t.buckets = make([]handle.Handle, len(old)*2)
	for i := range t.buckets {
		t.buckets[i] = handle.Nil
	}
	for _, head := range old {
		cur := head
		for cur != handle.Nil {
			off := cur.Offset()
			next := h.symbolNext(off)
			strOff := h.symbolName(off).Offset()
			sz := h.header(strOff).Size()
			name := string(h.stringBytes(strOff, int(sz)))
			idx := t.bucketIndex(name)
			h.setSymbolNext(off, t.buckets[idx])
			t.buckets[idx] = cur
			cur = next
		}
	}
}

// forEach visits every symbol handle currently in the table, regardless of
// binding. Used by the GC mark phase: the symbol table is itself a root
//, since looking the same
// name up twice must always yield the same Symbol identity.
func (t *symbolTable) forEach(h *heap, visit func(handle.Handle)) {
	for _, head := range t.buckets {
		cur := head
		for cur != handle.Nil {
			visit(cur)
			cur = h.symbolNext(cur.Offset())
		}
	}
}

// rewrite replaces every bucket head handle using fn, used by the GC fixup
// phase to point the table at post-compaction addresses. Only the heads are
// rewritten here; the next links stored inside the moved Symbol datums are
// fixed up by the GC's own per-object fixup pass.
func (t *symbolTable) rewrite(fn func(handle.Handle) handle.Handle) {
	for i, head := range t.buckets {
		t.buckets[i] = fn(head)
	}
}
