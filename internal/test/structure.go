package test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// AssertSameStructure compares two values for deep structural equality and
// reports a readable diff on mismatch. It is used to express the round-trip
// and unification testable properties that require comparing recursively
// reachable structure (same multiset of slots, same recursive shape) rather
// than handle identity, which is meaningless across stores or after a GC.
// Callers pass a canonical dump (see store.Store.Dump) rather than raw
// handles, since handles are only comparable within the store that produced
// them.
func AssertSameStructure(t *testing.T, got, want interface{}) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("structure mismatch (-want +got):\n%s", diff)
	}
}
