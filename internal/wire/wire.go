// Package wire implements the binary codec: a length-prefix-free
// stream of tag-and-argument records that serialises a connected
// sub-graph of a store — or the whole store — using a position-based
// reference table to represent shared structure and cycles without
// needing pointer identity.
//
// The decode side registers every composite object in the reference
// table before decoding its children, so cyclic graphs resolve; frames
// are decoded placeholder-first (store.AllocatePlaceholder /
// FinalizePlaceholder) so a frame's own slots can refer back to it. The
// encoder is the decoder's dual and produces streams this package's own
// Decoder reads back bit-exactly.
package wire

import "io"

// tag is the low 3 bits of the record's leading varint.
type tag uint8

const (
	tagRef tag = iota
	tagFrame
	tagString
	tagSymbol
	tagLink
	tagInteger
	tagFloat
	tagSpecial
)

// special is the sub-op carried in a SPECIAL record's argument.
type special uint64

const (
	specialNil special = iota
	specialID
	specialIsA
	specialIs
	specialArray
	specialIndex
	specialResolve
	specialQString
)

// Marker is the optional one-byte prefix a stream MAY carry: decoders
// skip it if present, encoders may opt in to writing it with WriteMarker.
const Marker byte = 0x9a

// Mode controls how the Encoder represents a public (id-bearing) frame
// value reached somewhere other than the root of the current Encode call.
type Mode int

const (
	// Deep inlines every reachable frame, using REF to reuse or
	// close cycles over any object — public or anonymous — already
	// emitted earlier in this stream. This is the default and the only
	// mode that can round-trip anonymous cyclic structure.
	Deep Mode = iota

	// Shallow emits only the root object's own content; every frame
	// value reached below the root is represented by LINK(name) instead
	// of being inlined, provided it is public. An anonymous frame
	// encountered in Shallow mode still has to be inlined (it has no
	// name to link by), which is documented on Encoder.Encode.
	Shallow
)

// SkipMode names the decoder's policy for a decoded frame whose id names
// a symbol already bound to a real (non-proxy) frame, SkipKnownFrames
// discards the newly decoded content and re-points the reference table at
// the frame that already exists; DecodeAll always materialises the
// decoded content, rebinding the symbol to it.
type SkipMode int

const (
	DecodeAll SkipMode = iota
	SkipKnownFrames
)

// byteReader is the minimal interface Decoder needs; callers typically
// pass a *bufio.Reader, but anything satisfying io.ByteReader + io.Reader
// works.
type byteReader interface {
	io.Reader
	io.ByteReader
}
