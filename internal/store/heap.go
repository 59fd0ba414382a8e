package store

import (
	"encoding/binary"

	"github.com/sling-kb/sling/internal/handle"
)

// heap is a word-addressed bump-allocated arena: allocation always appends
// at the end, and garbage collection compacts the live subset into a fresh
// arena (see gc.go). Every heap object begins with a Header word;
// the GC relies on this uniformity to walk the heap without per-kind
// dispatch outside of the copy phase itself.
//
// Heap addresses are word indices: nothing in this module needs
// byte-level packing of the heap itself (that discipline belongs to the
// wire codec, which has its own byte buffer), so using Go's natural
// word-sliced arena keeps handle arithmetic simple.
type heap struct {
	words []uint32
}

func newHeap(capacityWords int) *heap {
	return &heap{words: make([]uint32, 0, capacityWords)}
}

func (h *heap) len() uint32 { return uint32(len(h.words)) }

// reserve appends n zeroed words and returns the offset of the first one.
func (h *heap) reserve(n int) uint32 {
	off := h.len()
	for i := 0; i < n; i++ {
		h.words = append(h.words, 0)
	}
	return off
}

func (h *heap) header(off uint32) handle.Header { return handle.Header(h.words[off]) }
func (h *heap) setHeader(off uint32, hd handle.Header) {
	h.words[off] = uint32(hd)
}

func (h *heap) at(off uint32) handle.Handle { return handle.Handle(h.words[off]) }
func (h *heap) set(off uint32, v handle.Handle) { h.words[off] = uint32(v) }

// --- Forward (GC / proxy-replacement tombstone) ---

const kindForward = handle.Kind(4)

func (h *heap) isForward(off uint32) bool {
	return h.header(off).Kind() == kindForward
}

// setForward overwrites the object at off with a Forward tombstone. The
// replaced object's total word count is preserved in the tombstone's size
// field: only the header and target words are rewritten, so a linear heap
// scan needs the original size to advance past the dead words that
// follow. Re-forwarding an existing tombstone keeps its recorded size.
func (h *heap) setForward(off uint32, target handle.Handle) {
	n := objectWords(h.header(off))
	h.setHeader(off, handle.MakeHeader(kindForward, n))
	h.set(off+1, target)
}

func (h *heap) forwardTarget(off uint32) handle.Handle {
	return h.at(off + 1)
}

// --- Frame: header, then size slot pairs (name, value) ---

func (h *heap) allocFrame(nslots int) uint32 {
	// Every object reserves at least two words so a Forward tombstone (one
	// header word plus one target word) always fits at the object's old
	// address, regardless of what the object being replaced was.
	off := h.reserve(minObjectWords(1 + 2*nslots))
	h.setHeader(off, handle.MakeHeader(handle.KindFrame, uint32(nslots)))
	return off
}

func minObjectWords(n int) int {
	if n < 2 {
		return 2
	}
	return n
}

func frameSize(hd handle.Header) int { return int(hd.Size()) }

func (h *heap) frameSlotName(off uint32, i int) handle.Handle {
	return h.at(off + 1 + uint32(2*i))
}
func (h *heap) frameSlotValue(off uint32, i int) handle.Handle {
	return h.at(off + 2 + uint32(2*i))
}
func (h *heap) setFrameSlot(off uint32, i int, name, value handle.Handle) {
	h.set(off+1+uint32(2*i), name)
	h.set(off+2+uint32(2*i), value)
}

// --- String: header(byte length), qualifier handle, packed bytes ---

func stringWords(byteLen int) int {
	return (byteLen + 3) / 4
}

func (h *heap) allocString(byteLen int) uint32 {
	off := h.reserve(2 + stringWords(byteLen))
	h.setHeader(off, handle.MakeHeader(handle.KindString, uint32(byteLen)))
	h.set(off+1, handle.Nil)
	return off
}

func (h *heap) stringQualifier(off uint32) handle.Handle { return h.at(off + 1) }
func (h *heap) setStringQualifier(off uint32, q handle.Handle) { h.set(off+1, q) }

func (h *heap) stringBytes(off uint32, byteLen int) []byte {
	buf := make([]byte, byteLen)
	base := off + 2
	for i := 0; i < byteLen; i += 4 {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], h.words[base+uint32(i/4)])
		n := copy(buf[i:], word[:])
		_ = n
	}
	return buf
}

func (h *heap) setStringBytes(off uint32, data []byte) {
	base := off + 2
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:])
		h.words[base+uint32(i/4)] = binary.LittleEndian.Uint32(word[:])
	}
}

// --- Symbol: header, name string handle, value handle, next-in-bucket ---

func (h *heap) allocSymbol(name handle.Handle) uint32 {
	off := h.reserve(4)
	h.setHeader(off, handle.MakeHeader(handle.KindSymbol, 0))
	h.set(off+1, name)
	h.set(off+2, handle.Nil)
	h.set(off+3, handle.Nil)
	return off
}

func (h *heap) symbolName(off uint32) handle.Handle  { return h.at(off + 1) }
func (h *heap) symbolValue(off uint32) handle.Handle { return h.at(off + 2) }
func (h *heap) setSymbolValue(off uint32, v handle.Handle) { h.set(off+2, v) }
func (h *heap) symbolNext(off uint32) handle.Handle  { return h.at(off + 3) }
func (h *heap) setSymbolNext(off uint32, v handle.Handle) { h.set(off+3, v) }

func (h *heap) symbolBound(off uint32) bool {
	return h.symbolValue(off) != handle.Nil
}

// --- Array: header(length), elements ---

func (h *heap) allocArray(n int) uint32 {
	off := h.reserve(minObjectWords(1 + n))
	h.setHeader(off, handle.MakeHeader(handle.KindArray, uint32(n)))
	return off
}

func (h *heap) arrayElem(off uint32, i int) handle.Handle { return h.at(off + 1 + uint32(i)) }
func (h *heap) setArrayElem(off uint32, i int, v handle.Handle) { h.set(off+1+uint32(i), v) }

// objectWords returns the total size in words (header included) of the
// object whose header is hd, at the given kind. Shared by the linear heap
// walks in CoalesceStrings and the GC copy phase so neither has to repeat
// the per-kind layout arithmetic.
func objectWords(hd handle.Header) uint32 {
	switch hd.Kind() {
	case handle.KindFrame:
		return uint32(minObjectWords(1 + 2*int(hd.Size())))
	case handle.KindString:
		return 2 + uint32(stringWords(int(hd.Size())))
	case handle.KindSymbol:
		return 4
	case handle.KindArray:
		return uint32(minObjectWords(1 + int(hd.Size())))
	case kindForward:
		return hd.Size()
	default:
		panic("store: unknown heap object kind")
	}
}
