package caps

import (
	"strings"
	"testing"
)

func TestLookupCaseInsensitive(t *testing.T) {
	c, ok := Lookup("euid")
	if !ok || c != EUID {
		t.Fatalf("Lookup(euid) = %v, %v; want EUID, true", c, ok)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("BOGUSCAP"); ok {
		t.Fatal("Lookup of an unknown token should fail")
	}
}

func TestParseIgnoresUnknownTokens(t *testing.T) {
	s := Parse([]string{"QS", "TB", "NOTREAL", "EUID"})
	if !s.Has(QS) || !s.Has(TB) || !s.Has(EUID) {
		t.Fatalf("Parse missed a known token: %v", s)
	}
	if s.Has(CLUSTER) {
		t.Fatal("Parse set a capability that was never listed")
	}
}

func TestIntersect(t *testing.T) {
	mine := Parse([]string{"QS", "TB", "EUID", "BAN"})
	theirs := Parse([]string{"QS", "EUID", "MLOCK"})
	got := Intersect(mine, theirs)
	if !got.Has(QS) || !got.Has(EUID) {
		t.Fatalf("Intersect dropped a shared cap: %v", got)
	}
	if got.Has(TB) || got.Has(BAN) || got.Has(MLOCK) {
		t.Fatalf("Intersect kept a one-sided cap: %v", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	want := Parse([]string{"QS", "EUID", "MLOCK"})
	reparsed := Parse(strings.Fields(want.String()))
	if reparsed != want {
		t.Fatalf("round trip mismatch: %v != %v", reparsed, want)
	}
}

func TestAllContainsEveryName(t *testing.T) {
	for name := range byName {
		c, _ := Lookup(name)
		if !All.Has(c) {
			t.Fatalf("All is missing capability %s", name)
		}
	}
}
