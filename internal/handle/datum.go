package handle

// Kind distinguishes the heap object kinds.
type Kind uint8

const (
	KindFrame Kind = iota
	KindString
	KindSymbol
	KindArray
	// There is no proxy kind: a proxy is a Frame with exactly one id slot
	// and no other slots, recognised by Store.IsProxy rather than by a tag
	// written to a header.
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Header is the fixed-size word at the start of every heap object.
// It packs the object's Kind into the low bits and its Size — meaning
// differs per kind, see below — into the rest. The GC relies on every heap
// object starting with one of these, uniformly, to walk the heap without
// per-kind dispatch during the copy phase.
//
// Size means:
//
//	Frame:  number of slots (each slot is two Handle words: name, value)
//	String: exact number of bytes in the byte payload (the payload's
//	        storage is rounded up to whole Handle words; a qualifier
//	        handle word precedes the payload)
//	Symbol: always 0; a symbol has a fixed three-word body (name string
//	        handle, value handle, next-in-bucket handle)
//	Array:  number of elements (each element is one Handle word)
type Header uint32

const (
	headerKindBits = 3
	headerKindMask = 1<<headerKindBits - 1
)

// MakeHeader packs a kind and size into a header word. It panics if size
// cannot be represented — this is an internal invariant violation (a single
// frame or array with billions of elements), not a data error, consistent
// with the rule that only programming errors abort.
func MakeHeader(kind Kind, size uint32) Header {
	const maxSize = 1<<(32-headerKindBits) - 1
	if size > maxSize {
		panic("handle: datum size exceeds header capacity")
	}
	return Header(size<<headerKindBits | uint32(kind))
}

func (h Header) Kind() Kind { return Kind(uint32(h) & headerKindMask) }
func (h Header) Size() uint32 { return uint32(h) >> headerKindBits }

// Slot is a (name, value) pair inside a frame. It is also the layout
// used for feature-structure graph cells: a node header there is a
// Slot-shaped word pair as well, which is why the unifier package reuses
// this type for its graph buffer instead of defining its own.
type Slot struct {
	Name  Handle
	Value Handle
}
