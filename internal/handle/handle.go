// Package handle defines the tagged 32-bit value that is the unit of
// reference throughout the store, the wire codec, and the unifier. It is a
// pure value layer: no allocation, no I/O, no notion of a
// store. Everything here is safe to copy, compare with ==, and use as a map
// key.
//
// Layout. A Handle is a 32-bit word. Bit 0 is the LSB. The two low-order
// bits are the primary tag:
//
//	00  Integer    30-bit signed value,  bits[31:2]
//	01  (extended) see below
//	10  LocalRef   30-bit unsigned offset into the local heap, bits[31:2]
//	11  GlobalRef  30-bit unsigned offset into the global heap, bits[31:2]
//
// is-ref is therefore a single bit compare: bit 1 set means LocalRef or
// GlobalRef. Integer keeps the full 30-bit signed range [-2^29, 2^29),
// which would not be possible if Index or the special constants also had
// to share the Integer tag.
//
// The "01" tag is extended one bit further (bit 2) to carry Float and, one
// bit further still (bit 3), Index and the reserved special constants:
//
//	01,0   Float    28-bit truncated IEEE-754 single payload, bits[30:3]
//	01,1,0 Index    28-bit unsigned value,                    bits[31:4]
//	01,1,1 Special  28-bit enumerated constant,                bits[31:4]
//
// This keeps Index bit-distinguishable from Integer, which the unifier
// depends on: an index handle used as a feature-structure child
// reference must never be confused with a frame slot whose value happens to
// be a plain integer of the same magnitude.
package handle

import (
	"fmt"
	"math"
)

// Handle is the tagged 32-bit reference/value word.
type Handle uint32

const (
	tagBits = 2

	tagInteger  = 0 // 00
	tagExtended = 1 // 01
	tagLocal    = 2 // 10
	tagGlobal   = 3 // 11

	tagMask = 0x3

	// Bit 2 of the word, examined only when tag == tagExtended.
	extFloatBit = 1 << 2
	// Bit 3 of the word, examined only when the extended-float bit is set.
	extIndexBit = 1 << 3
)

// Special constant identifiers, carried in the 28-bit payload of a Special
// handle. Order is not meaningful beyond being distinct.
const (
	specialNil = iota
	specialError
	specialID
	specialIsA
	specialIs
	specialTrue
	specialFalse
	specialZero
	specialOne
)

// Reserved handle constants. id/isa/is are used as slot names
// for identity, type, and equivalence respectively.
var (
	Nil   = makeSpecial(specialNil)
	Err   = makeSpecial(specialError)
	ID    = makeSpecial(specialID)
	IsA   = makeSpecial(specialIsA)
	Is    = makeSpecial(specialIs)
	True  = makeSpecial(specialTrue)
	False = makeSpecial(specialFalse)
	Zero  = makeSpecial(specialZero)
	One   = makeSpecial(specialOne)
)

func makeSpecial(id uint32) Handle {
	return Handle((id << (tagBits + 2)) | extIndexBit | extFloatBit | tagExtended)
}

// --- predicates ---

func (h Handle) tag() uint32 { return uint32(h) & tagMask }

// IsRef reports whether h is a reference into a heap (local or global),
// a single bit compare.
func (h Handle) IsRef() bool { return uint32(h)&0x2 != 0 }

func (h Handle) IsLocalRef() bool  { return h.tag() == tagLocal }
func (h Handle) IsGlobalRef() bool { return h.tag() == tagGlobal }

func (h Handle) IsInt() bool { return h.tag() == tagInteger }

func (h Handle) isExtended() bool { return h.tag() == tagExtended }

func (h Handle) IsFloat() bool {
	return h.isExtended() && uint32(h)&extFloatBit == 0
}

func (h Handle) IsIndex() bool {
	return h.isExtended() && uint32(h)&extFloatBit != 0 && uint32(h)&extIndexBit == 0
}

func (h Handle) IsSpecial() bool {
	return h.isExtended() && uint32(h)&extFloatBit != 0 && uint32(h)&extIndexBit != 0
}

func (h Handle) specialID() uint32 {
	return uint32(h) >> (tagBits + 2)
}

func (h Handle) IsNil() bool   { return h.IsSpecial() && h.specialID() == specialNil }
func (h Handle) IsError() bool { return h.IsSpecial() && h.specialID() == specialError }
func (h Handle) IsID() bool    { return h == ID }
func (h Handle) IsIsA() bool   { return h == IsA }
func (h Handle) IsIs() bool    { return h == Is }
func (h Handle) IsTrue() bool  { return h == True }
func (h Handle) IsFalse() bool { return h == False }
func (h Handle) IsZero() bool  { return h == Zero }
func (h Handle) IsOne() bool   { return h == One }

// IsNumber reports whether h is an inline integer or float.
func (h Handle) IsNumber() bool { return h.IsInt() || h.IsFloat() }

// --- constructors ---

const (
	intBits  = 32 - tagBits
	intMin   = -(1 << (intBits - 1))
	intMax   = 1 << (intBits - 1)
	idxBits  = 32 - tagBits - 2
	idxMax   = 1<<idxBits - 1
	refBits  = 32 - tagBits
	refLimit = 1 << refBits
)

// Integer constructs a handle for a 30-bit signed integer. It panics if v
// is out of range; a caller that may see wider values checks InRange first
// and stores a Float instead.
func Integer(v int32) Handle {
	if v < intMin || v >= intMax {
		panic(fmt.Sprintf("handle: integer %d out of range [%d, %d)", v, intMin, intMax))
	}
	return Handle(uint32(v)<<tagBits | tagInteger)
}

// InRange reports whether v fits in the inline integer encoding, letting
// callers choose float fallback without risking the panic in Integer.
func InRange(v int64) bool {
	return v >= intMin && v < intMax
}

func (h Handle) AsInt() int32 {
	if !h.IsInt() {
		panic("handle: AsInt on non-integer handle")
	}
	return int32(h) >> tagBits
}

// Float constructs a handle carrying a truncated IEEE-754 single-precision
// value. The low 4 mantissa bits of the 23-bit IEEE mantissa are dropped to
// make room for the tag; NaN and Infinity survive intact as long as at least
// one of the surviving (high) mantissa bits of a NaN payload is set, since a
// NaN with only low bits set would decode back as Infinity. The precision
// loss is inherent to the 32-bit encoding: a float round-tripped through a
// handle keeps its sign, exponent, and high 19 mantissa bits only.
func Float(f float32) Handle {
	bits := math.Float32bits(f)
	truncated := bits >> 4
	return Handle(truncated<<(tagBits+1) | tagExtended)
}

func (h Handle) AsFloat() float32 {
	if !h.IsFloat() {
		panic("handle: AsFloat on non-float handle")
	}
	truncated := uint32(h) >> (tagBits + 1)
	return math.Float32frombits(truncated << 4)
}

// Index constructs a transient index handle: a position in a wire decoder's
// reference table, or a node number in a unifier's graph buffer. Index
// handles are never confused with Integer handles of the same magnitude,
// which matters because feature-structure slot values use Index to
// point at child nodes while ordinary integer slot values must round-trip
// unchanged.
func Index(v uint32) Handle {
	if v > idxMax {
		panic(fmt.Sprintf("handle: index %d exceeds %d", v, idxMax))
	}
	return Handle(v<<(tagBits+2) | extFloatBit | tagExtended)
}

// IndexInRange reports whether v fits in the index encoding, letting
// decoders reject oversized input without risking the panic in Index.
func IndexInRange(v uint64) bool { return v <= idxMax }

func (h Handle) AsIndex() uint32 {
	if !h.IsIndex() {
		panic("handle: AsIndex on non-index handle")
	}
	return uint32(h) >> (tagBits + 2)
}

// LocalRef constructs a reference to an offset in the local heap.
func LocalRef(offset uint32) Handle {
	if offset >= refLimit {
		panic(fmt.Sprintf("handle: local offset %d exceeds %d", offset, refLimit))
	}
	return Handle(offset<<tagBits | tagLocal)
}

// GlobalRef constructs a reference to an offset in the global heap.
func GlobalRef(offset uint32) Handle {
	if offset >= refLimit {
		panic(fmt.Sprintf("handle: global offset %d exceeds %d", offset, refLimit))
	}
	return Handle(offset<<tagBits | tagGlobal)
}

// Offset returns the offset carried by a local or global reference.
func (h Handle) Offset() uint32 {
	if !h.IsRef() {
		panic("handle: Offset on non-reference handle")
	}
	return uint32(h) >> tagBits
}

// AsBool converts the True/False special constants to a Go bool. Any other
// handle panics; callers that accept arbitrary truthiness should test
// IsNil/IsFalse themselves rather than calling AsBool.
func (h Handle) AsBool() bool {
	switch h {
	case True:
		return true
	case False:
		return false
	default:
		panic("handle: AsBool on non-boolean handle")
	}
}

// Bool returns True or False.
func Bool(v bool) Handle {
	if v {
		return True
	}
	return False
}

// Rank returns the canonical sort key used to keep slot lists mergeable:
// the raw word rotated right by the tag width, so the tag occupies
// the high bits of the comparison. Because id/isa/is are Special-tagged
// (tag==01) and every legitimate slot name besides them is a symbol
// reference (tag==10 or 11), rotating the tag to the top guarantees
// id/isa/is collate before any symbol-reference name — the only name-kind
// comparison that actually occurs, since plain integers are never used as
// slot names.
func (h Handle) Rank() uint32 {
	const bits = 32
	return uint32(h)>>tagBits | uint32(h)<<(bits-tagBits)
}

// Hash is the canonical, cheap hash used by handle-keyed tables: the same
// rotation as Rank, which moves the (otherwise low-entropy) tag bits out of
// the low position before the value is reduced modulo a table size.
func (h Handle) Hash() uint32 { return h.Rank() }

func (h Handle) String() string {
	switch {
	case h.IsNil():
		return "nil"
	case h.IsError():
		return "error"
	case h.IsID():
		return "id"
	case h.IsIsA():
		return "isa"
	case h.IsIs():
		return "is"
	case h.IsTrue():
		return "true"
	case h.IsFalse():
		return "false"
	case h.IsInt():
		return fmt.Sprintf("%d", h.AsInt())
	case h.IsFloat():
		return fmt.Sprintf("%g", h.AsFloat())
	case h.IsIndex():
		return fmt.Sprintf("#%d", h.AsIndex())
	case h.IsLocalRef():
		return fmt.Sprintf("@local+%d", h.Offset())
	case h.IsGlobalRef():
		return fmt.Sprintf("@global+%d", h.Offset())
	default:
		return fmt.Sprintf("handle(%#x)", uint32(h))
	}
}
