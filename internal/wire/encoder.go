package wire

// Encoder writes the tag-and-argument stream for a store: it is the dual
// of Decoder, and each encode step produces exactly what the matching
// decode step expects — the same reference table discipline, the same
// id-slots-first frame layout, the same foreign-symbol handling.
//
// An Encoder keeps its own position-indexed table of every ref-kind
// handle (frame, string, symbol, array) already written in this stream,
// so that any later encounter of the same handle emits a REF back-edge
// instead of re-emitting the whole object — this is what lets a single
// Encode call round-trip shared structure and cycles.

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
)

type Encoder struct {
	store *store.Store
	w     *bufio.Writer
	seen  map[handle.Handle]int
	mode  Mode
}

func NewEncoder(w io.Writer, s *store.Store) *Encoder {
	return &Encoder{store: s, w: bufio.NewWriter(w), seen: make(map[handle.Handle]int), mode: Deep}
}

// SetMode chooses between Deep (the default) and Shallow encoding for
// every subsequent Encode/EncodeAll call.
func (e *Encoder) SetMode(m Mode) { e.mode = m }

// WriteMarker writes the optional one-byte stream marker.
func (e *Encoder) WriteMarker() error {
	return e.w.WriteByte(Marker)
}

// Encode writes h as a top-level record and flushes the stream.
//
// In Shallow mode, a named (id-bearing) frame reached below the root is
// written as a LINK to its name rather than inlined; an anonymous frame
// below the root has no name to link by and is always inlined, even in
// Shallow mode, since omitting it would lose data the format has no tag
// for.
func (e *Encoder) Encode(h handle.Handle) error {
	if err := e.encodeObject(h, true); err != nil {
		return err
	}
	return e.w.Flush()
}

// EncodeAll writes each handle in hs as a separate top-level record,
// sharing one reference table across all of them, and flushes once at
// the end — the dual of Decoder.DecodeAll.
func (e *Encoder) EncodeAll(hs []handle.Handle) error {
	for _, h := range hs {
		if err := e.encodeObject(h, true); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

// EncodeLink writes a low-level LINK record for name without consulting
// or registering anything in the reference table, letting a caller hand-
// assemble a stream with forward references to frames defined later in
// the same stream. Most callers want Encode/EncodeAll
// instead; this is for tests and tools that build a stream by hand.
func (e *Encoder) EncodeLink(name string) error {
	if err := writeTagArg(e.w, tagLink, uint64(len(name))); err != nil {
		return err
	}
	_, err := e.w.WriteString(name)
	return err
}

// EncodeSymbol writes a low-level SYMBOL record for name, the unbound
// counterpart to EncodeLink, for the same hand-assembly use case.
func (e *Encoder) EncodeSymbol(name string) error {
	if err := writeTagArg(e.w, tagSymbol, uint64(len(name))); err != nil {
		return err
	}
	_, err := e.w.WriteString(name)
	return err
}

// Flush flushes any buffered bytes without writing a record.
func (e *Encoder) Flush() error { return e.w.Flush() }

func (e *Encoder) encodeObject(h handle.Handle, root bool) error {
	if !h.IsRef() {
		return e.encodeImmediate(h)
	}
	if idx, ok := e.seen[h]; ok {
		return writeTagArg(e.w, tagRef, uint64(idx))
	}
	switch e.store.Kind(h) {
	case handle.KindSymbol:
		return e.encodeSymbolObject(h)
	case handle.KindString:
		return e.encodeStringObject(h)
	case handle.KindArray:
		return e.encodeArrayObject(h)
	case handle.KindFrame:
		return e.encodeFrameObject(h, root)
	default:
		return fmt.Errorf("wire: cannot encode handle of unrecognised kind")
	}
}

func (e *Encoder) encodeImmediate(h handle.Handle) error {
	switch {
	case h.IsNil():
		return writeTagArg(e.w, tagSpecial, uint64(specialNil))
	case h.IsID():
		return writeTagArg(e.w, tagSpecial, uint64(specialID))
	case h.IsIsA():
		return writeTagArg(e.w, tagSpecial, uint64(specialIsA))
	case h.IsIs():
		return writeTagArg(e.w, tagSpecial, uint64(specialIs))
	case h.IsIndex():
		if err := writeTagArg(e.w, tagSpecial, uint64(specialIndex)); err != nil {
			return err
		}
		return writeUvarint(e.w, uint64(h.AsIndex()))
	case h.IsFloat():
		return writeTagArg(e.w, tagFloat, uint64(math.Float32bits(h.AsFloat())))
	case h.IsTrue():
		return writeTagArg(e.w, tagInteger, zigzag(1))
	case h.IsFalse():
		return writeTagArg(e.w, tagInteger, zigzag(0))
	case h.IsZero():
		return writeTagArg(e.w, tagInteger, zigzag(0))
	case h.IsOne():
		return writeTagArg(e.w, tagInteger, zigzag(1))
	case h.IsInt():
		return writeTagArg(e.w, tagInteger, zigzag(h.AsInt()))
	case h.IsError():
		return fmt.Errorf("wire: cannot encode the error sentinel handle")
	default:
		return fmt.Errorf("wire: cannot encode immediate handle %v", h)
	}
}

func (e *Encoder) encodeSymbolObject(h handle.Handle) error {
	e.seen[h] = len(e.seen)
	name := e.store.SymbolName(h)
	if err := writeTagArg(e.w, tagSymbol, uint64(len(name))); err != nil {
		return err
	}
	_, err := e.w.WriteString(name)
	return err
}

func (e *Encoder) encodeStringObject(h handle.Handle) error {
	e.seen[h] = len(e.seen)
	text, q := e.store.StringValue(h)
	if q == handle.Nil {
		if err := writeTagArg(e.w, tagString, uint64(len(text))); err != nil {
			return err
		}
		_, err := e.w.WriteString(text)
		return err
	}
	if err := writeTagArg(e.w, tagSpecial, uint64(specialQString)); err != nil {
		return err
	}
	if err := writeUvarint(e.w, uint64(len(text))); err != nil {
		return err
	}
	if _, err := e.w.WriteString(text); err != nil {
		return err
	}
	return e.encodeObject(q, false)
}

func (e *Encoder) encodeArrayObject(h handle.Handle) error {
	e.seen[h] = len(e.seen)
	elems := e.store.ArrayElements(h)
	if err := writeTagArg(e.w, tagSpecial, uint64(specialArray)); err != nil {
		return err
	}
	if err := writeUvarint(e.w, uint64(len(elems))); err != nil {
		return err
	}
	for _, el := range elems {
		if err := e.encodeObject(el, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeFrameObject(h handle.Handle, root bool) error {
	if e.mode == Shallow && !root {
		if name, ok := e.publicName(h); ok {
			e.seen[h] = len(e.seen)
			return e.EncodeLink(name)
		}
	}

	e.seen[h] = len(e.seen)
	slots := e.store.FrameSlots(h)
	ordered := make([]handle.Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.Name.IsID() {
			ordered = append(ordered, sl)
		}
	}
	for _, sl := range slots {
		if !sl.Name.IsID() {
			ordered = append(ordered, sl)
		}
	}
	if err := writeTagArg(e.w, tagFrame, uint64(len(ordered))); err != nil {
		return err
	}
	for _, sl := range ordered {
		if err := e.encodeObject(sl.Name, false); err != nil {
			return err
		}
		if err := e.encodeObject(sl.Value, false); err != nil {
			return err
		}
	}
	return nil
}

// publicName reports h's first id slot's symbol name, if it has one.
func (e *Encoder) publicName(h handle.Handle) (string, bool) {
	for _, sl := range e.store.FrameSlots(h) {
		if sl.Name.IsID() {
			return e.store.SymbolName(sl.Value), true
		}
	}
	return "", false
}
