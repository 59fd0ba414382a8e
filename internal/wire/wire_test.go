package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/store"
	"github.com/sling-kb/sling/internal/test"
)

func newTestStore() *store.Store {
	return store.NewGlobalStore(store.Options{InitialHeapWords: 64, InitialSymbols: 8, GCThresholdWords: 1 << 20})
}

func roundTrip(t *testing.T, s *store.Store, h handle.Handle) handle.Handle {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEncoder(&buf, s).Encode(h); err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := NewDecoder(&buf, s)
	defer d.Close()
	got := d.Decode()
	if got == handle.Err {
		t.Fatalf("decode failed: %v", s.Log.Msgs())
	}
	return got
}

func TestRoundTripScalarSlots(t *testing.T) {
	s := newTestStore()
	name := s.Lookup("name")
	age := s.Lookup("age")
	f := s.AllocateFrame([]handle.Slot{
		{Name: name, Value: s.AllocateString("Alice", handle.Nil)},
		{Name: age, Value: handle.Integer(30)},
	})

	got := roundTrip(t, s, f)
	test.AssertSameStructure(t, s.Dump(got), s.Dump(f))
}

func TestRoundTripFloatAndBooleans(t *testing.T) {
	s := newTestStore()
	pi := s.Lookup("pi")
	active := s.Lookup("active")
	f := s.AllocateFrame([]handle.Slot{
		{Name: pi, Value: handle.Float(3.5)},
		{Name: active, Value: handle.True},
	})

	got := roundTrip(t, s, f)
	slots := s.FrameSlots(got)
	test.AssertEqual(t, slots[0].Value.AsFloat(), float32(3.5))
	test.AssertEqual(t, slots[1].Value, handle.True)
}

func TestRoundTripArray(t *testing.T) {
	s := newTestStore()
	arr := s.AllocateArray([]handle.Handle{handle.Integer(1), handle.Integer(2), handle.Integer(3)})

	got := roundTrip(t, s, arr)
	elems := s.ArrayElements(got)
	test.AssertEqual(t, len(elems), 3)
	test.AssertEqual(t, elems[1].AsInt(), int32(2))
}

func TestRoundTripQString(t *testing.T) {
	s := newTestStore()
	lang := s.Lookup("/lang/en")
	str := s.AllocateString("hello", lang)

	got := roundTrip(t, s, str)
	text, q := s.StringValue(got)
	test.AssertEqual(t, text, "hello")
	test.AssertEqual(t, s.SymbolName(q), "/lang/en")
}

// TestRoundTripSharedStructure covers a frame reached twice from the
// root: the second occurrence must come back as the same handle rather
// than a duplicate, which only holds if the encoder's reference table
// catches the repeat with REF.
func TestRoundTripSharedStructure(t *testing.T) {
	s := newTestStore()
	shared := s.AllocateFrame([]handle.Slot{{Name: s.Lookup("name"), Value: s.AllocateString("shared", handle.Nil)}})
	root := s.AllocateFrame([]handle.Slot{
		{Name: s.Lookup("a"), Value: shared},
		{Name: s.Lookup("b"), Value: shared},
	})

	got := roundTrip(t, s, root)
	slots := s.FrameSlots(got)
	test.AssertEqual(t, slots[0].Value, slots[1].Value)
}

// TestRoundTripCycle covers an anonymous frame that points to itself
// through an intermediate frame: anonymous cyclic structure that only
// Deep mode (the default) can round-trip, since there is no name to LINK
// by.
func TestRoundTripCycle(t *testing.T) {
	s := newTestStore()
	a := s.AllocatePlaceholder()
	b := s.AllocateFrame([]handle.Slot{{Name: handle.Is, Value: a}})
	a = s.FinalizePlaceholder(a, []handle.Slot{{Name: handle.Is, Value: b}})

	got := roundTrip(t, s, a)
	test.AssertSameStructure(t, s.Dump(got), s.Dump(a))
}

// TestDecodeLinkCreatesProxy covers a hand-built stream where a LINK
// precedes the frame it names: the decoder must resolve it to an
// unresolved proxy, and a later FRAME record with a matching id slot
// must replace that proxy's content in place.
func TestDecodeLinkCreatesProxy(t *testing.T) {
	s := newTestStore()
	var buf bytes.Buffer
	enc := NewEncoder(&buf, s)
	if err := enc.EncodeLink("/e/1"); err != nil {
		t.Fatalf("encode link: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	src := newTestStore()
	id := src.Lookup("/e/1")
	frame := src.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: id},
		{Name: src.Lookup("name"), Value: src.AllocateString("Entity", handle.Nil)},
	})
	var buf2 bytes.Buffer
	enc2 := NewEncoder(&buf2, src)
	if err := enc2.Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	d := NewDecoder(&buf, s)
	defer d.Close()
	proxy := d.Decode()
	test.AssertEqual(t, s.IsProxy(proxy), true)

	d2 := NewDecoder(&buf2, s)
	defer d2.Close()
	resolved := d2.Decode()
	test.AssertEqual(t, resolved, proxy)
	test.AssertEqual(t, s.IsProxy(proxy), false)
}

// TestSkipKnownFrames: in SkipKnownFrames mode,
// redecoding a frame whose id already names a real (non-proxy) frame
// discards the new content and reuses the existing frame instead.
func TestSkipKnownFrames(t *testing.T) {
	s := newTestStore()
	id := s.Lookup("/e/1")
	original := s.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: id},
		{Name: s.Lookup("name"), Value: s.AllocateString("Original", handle.Nil)},
	})

	var buf bytes.Buffer
	src := newTestStore()
	enc := NewEncoder(&buf, src)
	dup := src.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: src.Lookup("/e/1")},
		{Name: src.Lookup("name"), Value: src.AllocateString("Duplicate", handle.Nil)},
	})
	if err := enc.Encode(dup); err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := NewDecoder(&buf, s)
	defer d.Close()
	d.SetMode(SkipKnownFrames)
	got := d.Decode()
	test.AssertEqual(t, got, original)
	text, _ := s.StringValue(s.FrameSlots(got)[1].Value)
	test.AssertEqual(t, text, "Original")
}

// TestShallowModeEmitsLink covers Shallow mode's policy: a named frame
// reached below the root is represented by LINK, so decoding it back
// yields a proxy rather than the original's full content.
func TestShallowModeEmitsLink(t *testing.T) {
	s := newTestStore()
	id := s.Lookup("/e/friend")
	friend := s.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: id},
		{Name: s.Lookup("name"), Value: s.AllocateString("Bob", handle.Nil)},
	})
	root := s.AllocateFrame([]handle.Slot{
		{Name: s.Lookup("friend"), Value: friend},
	})

	var buf bytes.Buffer
	enc := NewEncoder(&buf, s)
	enc.SetMode(Shallow)
	if err := enc.Encode(root); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dst := newTestStore()
	d := NewDecoder(&buf, dst)
	defer d.Close()
	got := d.Decode()
	friendGot := dst.FrameSlots(got)[0].Value
	test.AssertEqual(t, dst.IsProxy(friendGot), true)
}

// TestDecodeRejectsOutOfRangeScalars: an INTEGER or INDEX argument too
// wide for the handle encoding is a data error, reported through the
// diagnostic log, never a panic.
func TestDecodeRejectsOutOfRangeScalars(t *testing.T) {
	s := newTestStore()

	record := func(word uint64) []byte {
		var buf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(buf[:], word)
		return append([]byte(nil), buf[:n]...)
	}

	// An INTEGER whose zigzagged argument decodes to 1<<29, one past the
	// inline integer range.
	stream := record(uint64(1)<<30<<3 | uint64(tagInteger))
	d := NewDecoder(bytes.NewReader(stream), s)
	test.AssertEqual(t, d.Decode(), handle.Err)
	test.AssertEqual(t, s.Log.HasErrors(), true)
	d.Close()

	// An INDEX carrying 1<<28, one past the index payload width.
	s.Log.Reset()
	stream = append(record(uint64(specialIndex)<<3|uint64(tagSpecial)), record(uint64(1)<<28)...)
	d = NewDecoder(bytes.NewReader(stream), s)
	test.AssertEqual(t, d.Decode(), handle.Err)
	test.AssertEqual(t, s.Log.HasErrors(), true)
	d.Close()
}
