package handle

import (
	"math"
	"testing"

	"github.com/sling-kb/sling/internal/test"
)

func TestIntegerRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 1000, -1000, intMin, intMax - 1} {
		h := Integer(v)
		test.AssertEqual(t, h.IsInt(), true)
		test.AssertEqual(t, h.IsRef(), false)
		test.AssertEqual(t, h.AsInt(), v)
	}
}

func TestIntegerOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for out-of-range integer")
		}
	}()
	Integer(intMax)
}

func TestFloatRoundTripOrdinary(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 3.5, 100000} {
		h := Float(f)
		test.AssertEqual(t, h.IsFloat(), true)
		test.AssertEqual(t, h.IsRef(), false)
		if h.AsFloat() != f {
			t.Fatalf("Float(%v) round-tripped to %v", f, h.AsFloat())
		}
	}
}

func TestFloatPreservesNaNAndInf(t *testing.T) {
	inf := Float(float32(math.Inf(1)))
	test.AssertEqual(t, inf.IsFloat(), true)
	test.AssertEqual(t, math.IsInf(float64(inf.AsFloat()), 1), true)

	nan := Float(float32(math.NaN()))
	test.AssertEqual(t, nan.IsFloat(), true)
	test.AssertEqual(t, math.IsNaN(float64(nan.AsFloat())), true)
}

func TestIsRefSingleBit(t *testing.T) {
	ref := LocalRef(4)
	test.AssertEqual(t, ref.IsRef(), true)
	nonRef := Integer(4)
	test.AssertEqual(t, nonRef.IsRef(), false)
	// is-ref must be computable by examining exactly bit 1.
	test.AssertEqual(t, uint32(ref)&0x2 != 0, true)
	test.AssertEqual(t, uint32(nonRef)&0x2 != 0, false)
}

func TestLocalGlobalRefDistinct(t *testing.T) {
	l := LocalRef(16)
	g := GlobalRef(16)
	test.AssertEqual(t, l.IsLocalRef(), true)
	test.AssertEqual(t, l.IsGlobalRef(), false)
	test.AssertEqual(t, g.IsGlobalRef(), true)
	test.AssertEqual(t, g.IsLocalRef(), false)
	test.AssertEqual(t, l == g, false)
	test.AssertEqual(t, l.Offset(), uint32(16))
	test.AssertEqual(t, g.Offset(), uint32(16))
}

func TestIndexDistinctFromInteger(t *testing.T) {
	idx := Index(5)
	i := Integer(5)
	test.AssertEqual(t, idx.IsIndex(), true)
	test.AssertEqual(t, idx.IsInt(), false)
	test.AssertEqual(t, i.IsInt(), true)
	test.AssertEqual(t, i.IsIndex(), false)
	test.AssertEqual(t, idx == i, false)
	test.AssertEqual(t, idx.AsIndex(), uint32(5))
}

func TestSpecialConstants(t *testing.T) {
	cases := []struct {
		h    Handle
		name string
	}{
		{Nil, "nil"},
		{Err, "error"},
		{ID, "id"},
		{IsA, "isa"},
		{Is, "is"},
		{True, "true"},
		{False, "false"},
	}
	seen := map[Handle]bool{}
	for _, c := range cases {
		test.AssertEqual(t, c.h.IsSpecial(), true)
		test.AssertEqual(t, c.h.IsRef(), false)
		test.AssertEqual(t, c.h.String(), c.name)
		if seen[c.h] {
			t.Fatalf("duplicate encoding for %s", c.name)
		}
		seen[c.h] = true
	}
	test.AssertEqual(t, Nil.IsNil(), true)
	test.AssertEqual(t, Err.IsError(), true)
	test.AssertEqual(t, Nil.IsError(), false)
}

func TestRankOrdersReservedNamesFirst(t *testing.T) {
	names := []Handle{ID, IsA, Is}
	other := []Handle{LocalRef(0), LocalRef(400), GlobalRef(0), GlobalRef(800)}
	for _, n := range names {
		for _, o := range other {
			if n.Rank() >= o.Rank() {
				t.Fatalf("%v should rank before %v (got ranks %d, %d)", n, o, n.Rank(), o.Rank())
			}
		}
	}
}

func TestRankIsConsistentForEqualHandles(t *testing.T) {
	a := GlobalRef(128)
	b := GlobalRef(128)
	test.AssertEqual(t, a.Rank(), b.Rank())
}

func TestBoolRoundTrip(t *testing.T) {
	test.AssertEqual(t, Bool(true), True)
	test.AssertEqual(t, Bool(false), False)
	test.AssertEqual(t, True.AsBool(), true)
	test.AssertEqual(t, False.AsBool(), false)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := MakeHeader(KindFrame, 3)
	test.AssertEqual(t, h.Kind(), KindFrame)
	test.AssertEqual(t, h.Size(), uint32(3))
}
