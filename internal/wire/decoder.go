package wire

// Decoder reads the tag-and-argument stream into a store: a reference
// table records every ref-kind object as soon as it is decoded, in
// stream order, so a later REF(n) — including one nested inside the very
// object being decoded — resolves to it; a frame's content is decoded in
// two steps, allocate a placeholder at a stable address, then fill it in
// (store.AllocatePlaceholder and store.FinalizePlaceholder); an id slot
// whose symbol is bound to a proxy replaces that proxy in place, while one
// bound to a real frame either rebinds the symbol to the newly decoded
// frame (DecodeAll) or reuses the existing frame and discards the new
// content (SkipKnownFrames); RESOLVE is a separate record that rewrites an
// earlier reference-table entry; and an id-slot value that is a GlobalRef
// symbol of a frozen ancestor store is localised into this store before
// being bound, so decoding a foreign stream never mutates another store's
// symbol table.
//
// Two scratch registers are kept as GC roots for the duration of a
// Decoder's life: refs is the reference table itself (every decoded
// object, by stream position); stack holds slot/element handles decoded
// but not yet written into the frame or array they belong to, the
// interval during which they would otherwise be reachable from nowhere
// but a bare Go local variable.

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/sling-kb/sling/internal/diag"
	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
)

type Decoder struct {
	store *store.Store
	r     *bufio.Reader
	refs  *store.Vector
	stack *store.Vector
	mode  SkipMode
	off   int
}

func NewDecoder(r io.Reader, s *store.Store) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := &Decoder{store: s, r: br, refs: &store.Vector{}, stack: &store.Vector{}}
	s.RegisterRoot(d.refs)
	s.RegisterRoot(d.stack)
	return d
}

// SetMode chooses whether decoding a frame whose id already names a
// bound, non-proxy frame discards the new content (SkipKnownFrames) or
// always materialises it, rebinding the symbol (DecodeAll, the
// default).
func (d *Decoder) SetMode(m SkipMode) { d.mode = m }

// Close releases the decoder's root registrations. Safe to call more
// than once; a Decoder used for exactly one Decode/DecodeAll call and
// then discarded does not strictly need it.
func (d *Decoder) Close() {
	d.store.UnregisterRoot(d.refs)
	d.store.UnregisterRoot(d.stack)
}

// SkipMarker consumes the optional one-byte stream marker if
// present, leaving the reader positioned at the first record otherwise.
func (d *Decoder) SkipMarker() error {
	b, err := d.r.Peek(1)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if b[0] == Marker {
		if _, err := d.r.Discard(1); err != nil {
			return err
		}
		d.off++
	}
	return nil
}

// Decode reads exactly one top-level record and returns its handle, or
// handle.Err on a malformed stream — the core never panics on bad input
// data; the failure is reported to the store's diagnostic log as a
// DecodeError instead.
func (d *Decoder) Decode() handle.Handle {
	h, err := d.decodeObject()
	if err != nil {
		d.reportError(err)
		return handle.Err
	}
	return h
}

// DecodeAll reads records until EOF, returning the last one decoded —
// several top-level records sharing one reference table, the dual of
// Encoder.EncodeAll.
func (d *Decoder) DecodeAll() handle.Handle {
	result := handle.Nil
	for {
		if _, err := d.r.Peek(1); err != nil {
			break
		}
		h, err := d.decodeObject()
		if err != nil {
			d.reportError(err)
			return handle.Err
		}
		result = h
	}
	return result
}

func (d *Decoder) reportError(err error) {
	d.store.Log.AddError("wire: decode failed", diag.DecodeError{
		ByteOffset: d.off,
		RefIndex:   len(d.refs.Handles),
		Reason:     err.Error(),
	})
}

func (d *Decoder) pushRef(h handle.Handle) { d.refs.Push(h) }

func (d *Decoder) decodeObject() (handle.Handle, error) {
	t, arg, n, err := readTagArg(d.r)
	d.off += n
	if err != nil {
		return handle.Err, err
	}
	switch t {
	case tagRef:
		idx := int(arg)
		if idx < 0 || idx >= len(d.refs.Handles) {
			return handle.Err, fmt.Errorf("REF index %d out of range", idx)
		}
		return d.refs.Handles[idx], nil
	case tagFrame:
		return d.decodeFrame(int(arg), -1)
	case tagString:
		h, err := d.decodeString(int(arg))
		if err != nil {
			return handle.Err, err
		}
		d.pushRef(h)
		return h, nil
	case tagSymbol:
		h, err := d.decodeSymbol(int(arg))
		if err != nil {
			return handle.Err, err
		}
		d.pushRef(h)
		return h, nil
	case tagLink:
		h, err := d.decodeLink(int(arg))
		if err != nil {
			return handle.Err, err
		}
		d.pushRef(h)
		return h, nil
	case tagInteger:
		// unzigzag narrows through uint32, so an argument with any of the
		// top 32 bits set would alias back into range; reject it outright.
		if arg>>32 != 0 || !handle.InRange(int64(unzigzag(arg))) {
			return handle.Err, fmt.Errorf("INTEGER argument %d out of range", arg)
		}
		return handle.Integer(unzigzag(arg)), nil
	case tagFloat:
		return handle.Float(math.Float32frombits(uint32(arg))), nil
	case tagSpecial:
		return d.decodeSpecial(special(arg))
	default:
		return handle.Err, fmt.Errorf("unknown tag %d", t)
	}
}

func (d *Decoder) decodeSpecial(op special) (handle.Handle, error) {
	switch op {
	case specialNil:
		return handle.Nil, nil
	case specialID:
		return handle.ID, nil
	case specialIsA:
		return handle.IsA, nil
	case specialIs:
		return handle.Is, nil
	case specialArray:
		return d.decodeArray()
	case specialIndex:
		v, n, err := readUvarint(d.r)
		d.off += n
		if err != nil {
			return handle.Err, err
		}
		if !handle.IndexInRange(v) {
			return handle.Err, fmt.Errorf("INDEX argument %d out of range", v)
		}
		return handle.Index(uint32(v)), nil
	case specialResolve:
		slots, n1, err := readUvarint(d.r)
		d.off += n1
		if err != nil {
			return handle.Err, err
		}
		replace, n2, err := readUvarint(d.r)
		d.off += n2
		if err != nil {
			return handle.Err, err
		}
		if int(replace) >= len(d.refs.Handles) {
			return handle.Err, fmt.Errorf("RESOLVE replace index %d out of range", replace)
		}
		return d.decodeFrame(int(slots), int(replace))
	case specialQString:
		return d.decodeQString()
	default:
		return handle.Err, fmt.Errorf("unknown special sub-op %d", op)
	}
}

func (d *Decoder) decodeString(n int) (handle.Handle, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return handle.Err, err
	}
	d.off += n
	return d.store.AllocateString(string(buf), handle.Nil), nil
}

func (d *Decoder) decodeQString() (handle.Handle, error) {
	n, nb, err := readUvarint(d.r)
	d.off += nb
	if err != nil {
		return handle.Err, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return handle.Err, err
	}
	d.off += int(n)

	str := d.store.AllocateString(string(buf), handle.Nil)
	index := len(d.refs.Handles)
	d.pushRef(str)

	qual, err := d.decodeObject()
	if err != nil {
		return handle.Err, err
	}
	str = d.refs.Handles[index]
	d.store.SetStringQualifier(str, qual)
	return str, nil
}

func (d *Decoder) decodeSymbol(n int) (handle.Handle, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return handle.Err, err
	}
	d.off += n
	return d.store.Lookup(string(buf)), nil
}

// decodeLink resolves name to its bound frame, creating an unresolved
// proxy for it if no binding exists yet — the
// same fallback AllocateFrame's own id-slot handling uses for a forward
// reference to a not-yet-defined frame.
func (d *Decoder) decodeLink(n int) (handle.Handle, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return handle.Err, err
	}
	d.off += n
	symH := d.store.Lookup(string(buf))
	if bound := d.store.BoundValue(symH); bound != handle.Nil {
		return bound, nil
	}
	mark := len(d.stack.Handles)
	d.stack.Push(symH)
	proxy := d.store.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: d.stack.Handles[mark]}})
	d.stack.Handles = d.stack.Handles[:mark]
	return proxy, nil
}

func (d *Decoder) decodeArray() (handle.Handle, error) {
	n, nb, err := readUvarint(d.r)
	d.off += nb
	if err != nil {
		return handle.Err, err
	}
	arr := d.store.AllocateArrayPlaceholder(int(n))
	index := len(d.refs.Handles)
	d.pushRef(arr)
	for i := 0; i < int(n); i++ {
		el, err := d.decodeObject()
		if err != nil {
			return handle.Err, err
		}
		d.store.SetArrayElem(d.refs.Handles[index], i, el)
	}
	return d.refs.Handles[index], nil
}

// decodeFrame decodes n slot pairs and either allocates a fresh frame
// (replace < 0) or rewrites an existing one in place (replace is the
// reference-table index of the frame a RESOLVE record names). A newly
// decoded id slot is checked against the mode: in SkipKnownFrames, if
// its symbol is already bound to a real (non-proxy) frame, the decoded
// content is discarded in favour of the existing frame.
func (d *Decoder) decodeFrame(n int, replace int) (handle.Handle, error) {
	index := replace
	if replace < 0 {
		ph := d.store.AllocatePlaceholder()
		index = len(d.refs.Handles)
		d.pushRef(ph)
	}

	mark := len(d.stack.Handles)
	for i := 0; i < n; i++ {
		name, err := d.decodeObject()
		if err != nil {
			d.stack.Handles = d.stack.Handles[:mark]
			return handle.Err, err
		}
		d.stack.Push(name)

		value, err := d.decodeObject()
		if err != nil {
			d.stack.Handles = d.stack.Handles[:mark]
			return handle.Err, err
		}
		if name.IsID() && replace < 0 {
			value = d.localiseIfForeign(value)
		}
		d.stack.Push(value)
	}

	raw := d.stack.Handles[mark:]
	slots := make([]handle.Slot, n)
	for i := 0; i < n; i++ {
		slots[i] = handle.Slot{Name: raw[2*i], Value: raw[2*i+1]}
	}

	if d.mode == SkipKnownFrames && replace < 0 {
		if existing, ok := d.findKnownFrame(slots); ok {
			d.stack.Handles = d.stack.Handles[:mark]
			d.refs.Handles[index] = existing
			return existing, nil
		}
	}

	target := d.refs.Handles[index]
	result := d.store.FinalizePlaceholder(target, slots)
	d.refs.Handles[index] = result
	d.stack.Handles = d.stack.Handles[:mark]
	return result, nil
}

func (d *Decoder) localiseIfForeign(value handle.Handle) handle.Handle {
	if !value.IsGlobalRef() {
		return value
	}
	return d.store.LookupLocal(d.store.SymbolName(value))
}

func (d *Decoder) findKnownFrame(slots []handle.Slot) (handle.Handle, bool) {
	for _, sl := range slots {
		if !sl.Name.IsID() || sl.Value == handle.Nil {
			continue
		}
		bound := d.store.BoundValue(sl.Value)
		if bound == handle.Nil || d.store.IsProxy(bound) {
			continue
		}
		return bound, true
	}
	return handle.Nil, false
}
