// Package test provides assertion helpers shared by the handle, store,
// wire, unify, and schema test suites: AssertEqual / AssertEqualWithDiff
// plus a line-by-line diff for multi-line mismatches such as printed frame
// graphs.
package test

import (
	"fmt"
	"strings"
	"testing"
)

func AssertEqual(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		t.Fatalf("%v != %v", a, b)
	}
}

func AssertEqualWithDiff(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		stringA := fmt.Sprintf("%v", a)
		stringB := fmt.Sprintf("%v", b)
		if strings.Contains(stringA, "\n") {
			t.Fatal(Diff(stringB, stringA))
		} else {
			t.Fatalf("%v != %v", a, b)
		}
	}
}
