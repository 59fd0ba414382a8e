package store

import (
	"fmt"
	"testing"

	"github.com/sling-kb/sling/internal/handle"
	"github.com/sling-kb/sling/internal/test"
)

func TestSymbolTableGrowsAndKeepsLookupCorrect(t *testing.T) {
	s := NewGlobalStore(Options{InitialHeapWords: 64, InitialSymbols: 2, GCThresholdWords: 1 << 20})

	names := make([]string, 200)
	handles := make([]handle.Handle, 200)
	for i := range names {
		names[i] = fmt.Sprintf("sym-%d", i)
		handles[i] = s.Lookup(names[i])
	}
	for i := range names {
		test.AssertEqual(t, s.Lookup(names[i]), handles[i])
		test.AssertEqual(t, s.LookupExisting(names[i]), handles[i])
	}
}

func TestSymbolTableDistinctNamesDistinctHandles(t *testing.T) {
	s := newTestStore()
	a := s.Lookup("alpha")
	b := s.Lookup("beta")
	if a == b {
		t.Fatalf("distinct names must not collide")
	}
}
