package store

import (
	"testing"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/test"
)

func newTestStore() *Store {
	return NewGlobalStore(Options{InitialHeapWords: 64, InitialSymbols: 8, GCThresholdWords: 1 << 20})
}

func TestAllocateFrameRoundTrip(t *testing.T) {
	s := newTestStore()
	name := s.Lookup("name")
	f := s.AllocateFrame([]handle.Slot{{Name: name, Value: handle.Integer(42)}})
	test.AssertEqual(t, s.Kind(f), handle.KindFrame)
	slots := s.FrameSlots(f)
	test.AssertEqual(t, len(slots), 1)
	test.AssertEqual(t, slots[0].Value.AsInt(), int32(42))
}

func TestAllocateStringRoundTrip(t *testing.T) {
	s := newTestStore()
	h := s.AllocateString("hello world", handle.Nil)
	text, q := s.StringValue(h)
	test.AssertEqual(t, text, "hello world")
	test.AssertEqual(t, q, handle.Nil)
}

func TestAllocateArrayRoundTrip(t *testing.T) {
	s := newTestStore()
	h := s.AllocateArray([]handle.Handle{handle.Integer(1), handle.Integer(2), handle.Integer(3)})
	elems := s.ArrayElements(h)
	test.AssertEqual(t, len(elems), 3)
	test.AssertEqual(t, elems[1].AsInt(), int32(2))
}

func TestSymbolUniqueness(t *testing.T) {
	s := newTestStore()
	a := s.Lookup("foo")
	b := s.Lookup("foo")
	test.AssertEqual(t, a, b)
}

func TestLookupExistingDoesNotCreate(t *testing.T) {
	s := newTestStore()
	test.AssertEqual(t, s.LookupExisting("never-interned"), handle.Nil)
}

func TestFrameHandlePreservedAcrossUpdate(t *testing.T) {
	s := newTestStore()
	name := s.Lookup("name")
	f := s.AllocateFrame([]handle.Slot{{Name: name, Value: handle.Integer(1)}})
	updated := s.UpdateFrame(f, []handle.Slot{
		{Name: name, Value: handle.Integer(2)},
		{Name: s.Lookup("extra"), Value: handle.Integer(3)},
	})
	test.AssertEqual(t, updated, f)
	slots := s.FrameSlots(f)
	test.AssertEqual(t, len(slots), 2)
	test.AssertEqual(t, slots[0].Value.AsInt(), int32(2))
}

func TestProxyResolvedOnAllocateFrame(t *testing.T) {
	s := newTestStore()
	sym := s.Lookup("alice")
	proxy := s.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: sym}})
	test.AssertEqual(t, s.IsProxy(proxy), true)

	name := s.Lookup("name")
	real := s.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: sym},
		{Name: name, Value: s.AllocateString("Alice", handle.Nil)},
	})

	// The proxy's own handle now observes the populated frame.
	test.AssertEqual(t, real, proxy)
	test.AssertEqual(t, s.IsProxy(proxy), false)
	slots := s.FrameSlots(proxy)
	test.AssertEqual(t, len(slots), 2)
}

func TestMultipleIDSlotsAlias(t *testing.T) {
	s := newTestStore()
	a := s.Lookup("a")
	b := s.Lookup("b")
	f := s.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: a}, {Name: handle.ID, Value: b}})
	test.AssertEqual(t, s.LookupExisting("a") != handle.Nil, true)
	test.AssertEqual(t, s.symbolBoundHandle(a), f)
	test.AssertEqual(t, s.symbolBoundHandle(b), f)
}

func TestResolveFollowsIsChain(t *testing.T) {
	s := newTestStore()
	target := s.AllocateFrame([]handle.Slot{{Name: s.Lookup("name"), Value: handle.Integer(7)}})
	link := s.AllocateFrame([]handle.Slot{{Name: handle.Is, Value: target}})
	test.AssertEqual(t, s.Resolve(link), target)
	test.AssertEqual(t, s.Resolve(target), target)
	test.AssertEqual(t, s.Resolve(handle.Integer(9)), handle.Integer(9))
}

func TestResolveDetectsCycle(t *testing.T) {
	s := newTestStore()
	a := s.AllocateFrame([]handle.Slot{{Name: handle.Is, Value: handle.Nil}})
	b := s.AllocateFrame([]handle.Slot{{Name: handle.Is, Value: a}})
	s.UpdateFrame(a, []handle.Slot{{Name: handle.Is, Value: b}})
	test.AssertEqual(t, s.Resolve(a), handle.Err)
}

func TestFingerprintStableAndOrderIndependent(t *testing.T) {
	s := newTestStore()
	n1 := s.Lookup("n1")
	n2 := s.Lookup("n2")
	a := s.AllocateFrame([]handle.Slot{{Name: n1, Value: handle.Integer(1)}, {Name: n2, Value: handle.Integer(2)}})
	b := s.AllocateFrame([]handle.Slot{{Name: n2, Value: handle.Integer(2)}, {Name: n1, Value: handle.Integer(1)}})
	test.AssertEqual(t, s.Fingerprint(a), s.Fingerprint(b))
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	s := newTestStore()
	n1 := s.Lookup("n1")
	a := s.AllocateFrame([]handle.Slot{{Name: n1, Value: handle.Integer(1)}})
	b := s.AllocateFrame([]handle.Slot{{Name: n1, Value: handle.Integer(2)}})
	if s.Fingerprint(a) == s.Fingerprint(b) {
		t.Fatalf("expected distinct fingerprints for distinct content")
	}
}

func TestCoalesceStringsDeduplicates(t *testing.T) {
	s := newTestStore()
	a := s.AllocateString("shared", handle.Nil)
	b := s.AllocateString("shared", handle.Nil)
	s.CoalesceStrings()
	textA, _ := s.StringValue(a)
	textB, _ := s.StringValue(b)
	test.AssertEqual(t, textA, textB)
	test.AssertEqual(t, s.Kind(b), handle.KindString)
}

func TestAddAndSet(t *testing.T) {
	s := newTestStore()
	name := s.Lookup("name")
	f := s.AllocateFrame(nil)
	f = s.Add(f, name, handle.Integer(1))
	f = s.Set(f, name, handle.Integer(2))
	slots := s.FrameSlots(f)
	test.AssertEqual(t, len(slots), 1)
	test.AssertEqual(t, slots[0].Value.AsInt(), int32(2))
}

func TestFrozenStorePanicsOnWrite(t *testing.T) {
	s := newTestStore()
	s.Freeze()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic writing to a frozen store")
		}
	}()
	s.AllocateString("nope", handle.Nil)
}

func TestLocalStoreInheritsGlobalSymbols(t *testing.T) {
	g := newTestStore()
	gname := g.Lookup("shared")
	g.Freeze()

	local := NewLocalStore(g, Options{InitialHeapWords: 64, InitialSymbols: 8, GCThresholdWords: 1 << 20})
	test.AssertEqual(t, local.LookupExisting("shared"), gname)
	test.AssertEqual(t, local.Lookup("shared"), gname)
}

func TestDumpStructuralEquality(t *testing.T) {
	s := newTestStore()
	name := s.Lookup("name")
	a := s.AllocateFrame([]handle.Slot{{Name: name, Value: s.AllocateString("x", handle.Nil)}})
	b := s.AllocateFrame([]handle.Slot{{Name: name, Value: s.AllocateString("x", handle.Nil)}})
	test.AssertSameStructure(t, s.Dump(a), s.Dump(b))
}

func TestDumpHandlesCycle(t *testing.T) {
	s := newTestStore()
	a := s.AllocateFrame([]handle.Slot{{Name: handle.Is, Value: handle.Nil}})
	s.UpdateFrame(a, []handle.Slot{{Name: handle.Is, Value: a}})
	d := s.Dump(a)
	test.AssertEqual(t, d.Kind, "frame")
	test.AssertEqual(t, d.Slots[0].Value.Kind, "cycle")
}
