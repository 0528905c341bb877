package matcher

import (
	"net"
	"sort"
	"testing"

	"github.com/go-test/deep"
)

type fakeRecord struct {
	username string
	saslUser string
	temp     bool
}

func (r *fakeRecord) Username() string  { return r.username }
func (r *fakeRecord) SASLUser() string  { return r.saslUser }
func (r *fakeRecord) IsTemporary() bool { return r.temp }

func TestLookupHostMask(t *testing.T) {
	tbl := NewTable()
	rec := &fakeRecord{}
	tbl.Add("*.evil.example.net", TypeDLine, rec)

	got := tbl.Lookup(Query{Name: "host.evil.example.net"}, TypeDLine)
	if got != Record(rec) {
		t.Fatalf("Lookup should have matched the wildcard host mask, got %v", got)
	}

	if got := tbl.Lookup(Query{Name: "host.good.example.net"}, TypeDLine); got != nil {
		t.Fatalf("Lookup should not match an unrelated host, got %v", got)
	}
}

func TestLookupIPv4CIDR(t *testing.T) {
	tbl := NewTable()
	rec := &fakeRecord{}
	tbl.Add("10.0.0.0/24", TypeDLine, rec)

	hit := tbl.Lookup(Query{Addr: net.ParseIP("10.0.0.42")}, TypeDLine)
	if hit != Record(rec) {
		t.Fatalf("Lookup should match an address inside the /24, got %v", hit)
	}
	miss := tbl.Lookup(Query{Addr: net.ParseIP("10.0.1.42")}, TypeDLine)
	if miss != nil {
		t.Fatalf("Lookup should not match an address outside the /24, got %v", miss)
	}
}

func TestLookupNewerEntryLosesTies(t *testing.T) {
	tbl := NewTable()
	older := &fakeRecord{}
	newer := &fakeRecord{}
	tbl.Add("*.example.net", TypeAuth, older)
	tbl.Add("*.example.net", TypeAuth, newer)

	got := tbl.Lookup(Query{Name: "host.example.net"}, TypeAuth)
	if got != Record(older) {
		t.Fatalf("older entry should win on a tie, got %v", got)
	}
}

func TestLookupRespectsUsernameConstraint(t *testing.T) {
	tbl := NewTable()
	rec := &fakeRecord{username: "baduser"}
	tbl.Add("*.example.net", TypeKill, rec)

	if got := tbl.Lookup(Query{Name: "host.example.net", Username: "baduser"}, TypeKill); got == nil {
		t.Fatal("expected a match when username constraint is satisfied")
	}
	if got := tbl.Lookup(Query{Name: "host.example.net", Username: "gooduser"}, TypeKill); got != nil {
		t.Fatalf("expected no match when username constraint fails, got %v", got)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tbl := NewTable()
	rec := &fakeRecord{}
	tbl.Add("*.example.net", TypeDLine, rec)
	tbl.Delete(rec)

	if got := tbl.Lookup(Query{Name: "host.example.net"}, TypeDLine); got != nil {
		t.Fatalf("Lookup should find nothing after Delete, got %v", got)
	}
}

func TestClearKeepsTempDropsPermanent(t *testing.T) {
	tbl := NewTable()
	temp := &fakeRecord{temp: true}
	perm := &fakeRecord{temp: false}
	tbl.Add("*.temp.example.net", TypeDLine, temp)
	tbl.Add("*.perm.example.net", TypeDLine, perm)

	dropped := tbl.Clear(ClearKeepTempDropPermanent)
	if len(dropped) != 1 || dropped[0] != Record(perm) {
		t.Fatalf("Clear(KeepTemp) should drop only the permanent record, dropped=%v", dropped)
	}
	if got := tbl.Lookup(Query{Name: "host.temp.example.net"}, TypeDLine); got == nil {
		t.Fatal("temp record should survive ClearKeepTempDropPermanent")
	}
}

func TestClearDroppedRecordsMatchExactSet(t *testing.T) {
	tbl := NewTable()
	permA := &fakeRecord{username: "a"}
	permB := &fakeRecord{username: "b"}
	temp := &fakeRecord{temp: true}
	tbl.Add("*.a.example.net", TypeDLine, permA)
	tbl.Add("*.b.example.net", TypeDLine, permB)
	tbl.Add("*.temp.example.net", TypeDLine, temp)

	dropped := tbl.Clear(ClearKeepTempDropPermanent)
	want := []Record{Record(permA), Record(permB)}
	byUsername := func(recs []Record) func(i, j int) bool {
		return func(i, j int) bool {
			return recs[i].(*fakeRecord).username < recs[j].(*fakeRecord).username
		}
	}
	sort.Slice(dropped, byUsername(dropped))
	sort.Slice(want, byUsername(want))
	if diff := deep.Equal(dropped, want); diff != nil {
		t.Fatalf("dropped records differ from expected set: %v", diff)
	}
}

func TestIsWildSufficient(t *testing.T) {
	if IsWildSufficient("*", "*", 4) {
		t.Fatal("a fully-wildcarded user and host should fail wildcard sufficiency")
	}
	if !IsWildSufficient("*", "host.example.net", 4) {
		t.Fatal("a fully-literal host should pass wildcard sufficiency")
	}
	if !IsWildSufficient("alice", "*", 4) {
		t.Fatal("a user pattern with no wildcard characters at all should always be sufficient")
	}
}

func TestIsWildSufficientCIDRUsesPrefixLengthNotLiteralChars(t *testing.T) {
	// v4: needed = 6 - 2*userNonWild; with a fully-wildcarded user, needed=6.
	if IsWildSufficient("*", "10.0.0.0/4", 4) {
		t.Fatal("a /4 v4 CIDR mask with a fully-wildcarded user should fail wildcard sufficiency")
	}
	if !IsWildSufficient("*", "10.0.0.0/16", 4) {
		t.Fatal("a /16 v4 CIDR mask with a fully-wildcarded user should pass wildcard sufficiency")
	}
	// v6: needed = 4*(minNonWild-userNonWild); with minNonWild=4 and a
	// fully-wildcarded user, needed=16.
	if IsWildSufficient("*", "::1/8", 4) {
		t.Fatal("a /8 v6 CIDR mask with a fully-wildcarded user should fail wildcard sufficiency")
	}
	if !IsWildSufficient("*", "::1/32", 4) {
		t.Fatal("a /32 v6 CIDR mask with a fully-wildcarded user should pass wildcard sufficiency")
	}
}

func TestParseMaskGlobIsAlwaysHost(t *testing.T) {
	kind, _, _, host := ParseMask("10.0.0.*")
	if kind != kindHost || host != "10.0.0.*" {
		t.Fatalf("a mask with glob metacharacters must classify as a hostname mask, got kind=%v host=%q", kind, host)
	}
}
