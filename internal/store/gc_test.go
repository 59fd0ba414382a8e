package store

import (
	"testing"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/test"
)

func TestGCSurvivesRootedHandleAndShrinksHeap(t *testing.T) {
	s := newTestStore()

	var kept handle.Handle
	nameSlot := s.Lookup("name")
	for i := 0; i < 100; i++ {
		f := s.AllocateFrame([]handle.Slot{{Name: nameSlot, Value: handle.Integer(int32(i))}})
		if i == 42 {
			kept = f
		}
	}

	root := &Cell{H: kept}
	s.RegisterRoot(root)

	before := s.heap.len()
	s.GC()
	after := s.heap.len()

	if after >= before {
		t.Fatalf("expected heap to shrink: before=%d after=%d", before, after)
	}
	test.AssertEqual(t, s.Kind(root.H), handle.KindFrame)
	slots := s.FrameSlots(root.H)
	test.AssertEqual(t, slots[0].Value.AsInt(), int32(42))
}

func TestGCPreservesSymbolTableIdentity(t *testing.T) {
	s := newTestStore()
	before := s.Lookup("persistent")
	s.GC()
	after := s.LookupExisting("persistent")
	test.AssertEqual(t, after != handle.Nil, true)
	test.AssertEqual(t, s.Kind(after), handle.KindSymbol)
	_ = before
}

func TestGCPreservesBoundSymbolFrame(t *testing.T) {
	s := newTestStore()
	sym := s.Lookup("bob")
	f := s.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: sym}, {Name: s.Lookup("age"), Value: handle.Integer(30)}})
	s.GC()
	resolved := s.LookupExisting("bob")
	test.AssertEqual(t, s.symbolBoundHandle(resolved) != handle.Nil, true)
	bound := s.symbolBoundHandle(resolved)
	slots := s.FrameSlots(bound)
	test.AssertEqual(t, len(slots), 2)
	_ = f
}

func TestGCCollapsesProxyThenMovesRealFrame(t *testing.T) {
	s := newTestStore()
	sym := s.Lookup("carl")
	proxy := s.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: sym}})
	root := &Cell{H: proxy}
	s.RegisterRoot(root)

	real := s.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: sym},
		{Name: s.Lookup("age"), Value: handle.Integer(55)},
	})
	test.AssertEqual(t, real, proxy)

	s.GC()

	test.AssertEqual(t, s.Kind(root.H), handle.KindFrame)
	slots := s.FrameSlots(root.H)
	test.AssertEqual(t, len(slots), 2)
	test.AssertEqual(t, slots[1].Value.AsInt(), int32(55))
}

func TestGCCollapsesMultipleReplacedProxies(t *testing.T) {
	s := newTestStore()
	symA, symB := s.Lookup("ann"), s.Lookup("ben")
	proxyA := s.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: symA}})
	proxyB := s.AllocateFrame([]handle.Slot{{Name: handle.ID, Value: symB}})
	rootA := &Cell{H: proxyA}
	rootB := &Cell{H: proxyB}
	s.RegisterRoot(rootA)
	s.RegisterRoot(rootB)

	age := s.Lookup("age")
	realA := s.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: symA},
		{Name: age, Value: handle.Integer(31)},
	})
	realB := s.AllocateFrame([]handle.Slot{
		{Name: handle.ID, Value: symB},
		{Name: age, Value: handle.Integer(62)},
	})
	test.AssertEqual(t, realA, proxyA)
	test.AssertEqual(t, realB, proxyB)

	s.GC()

	slotsA := s.FrameSlots(rootA.H)
	test.AssertEqual(t, slotsA[1].Value.AsInt(), int32(31))
	slotsB := s.FrameSlots(rootB.H)
	test.AssertEqual(t, slotsB[1].Value.AsInt(), int32(62))
}

func TestGCHandlesCyclicStructure(t *testing.T) {
	s := newTestStore()
	a := s.AllocateFrame([]handle.Slot{{Name: handle.Is, Value: handle.Nil}})
	root := &Cell{H: a}
	s.RegisterRoot(root)
	s.UpdateFrame(a, []handle.Slot{{Name: handle.Is, Value: a}})

	s.GC()

	slots := s.FrameSlots(root.H)
	test.AssertEqual(t, slots[0].Value, root.H)
}

func TestGCLockDefersCollection(t *testing.T) {
	s := NewGlobalStore(Options{InitialHeapWords: 16, InitialSymbols: 8, GCThresholdWords: 64})
	s.GCLock()
	nameSlot := s.Lookup("name")
	for i := 0; i < 50; i++ {
		s.AllocateFrame([]handle.Slot{{Name: nameSlot, Value: handle.Integer(int32(i))}})
	}
	test.AssertEqual(t, s.deferredGC, true)
	s.GCUnlock()
	test.AssertEqual(t, s.deferredGC, false)
}
