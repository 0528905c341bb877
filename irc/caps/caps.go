// Package caps implements the fixed table of server-to-server capability
// names and the bitset used to track what a given peer link has negotiated
// (spec 4.F "Capability negotiation"). The table mirrors the CAPAB tokens
// listed in spec 6.
package caps

import "strings"

// Cap is a single bit in a link's capability set.
type Cap uint

const (
	QS Cap = iota
	EX
	CHW
	IE
	KLN
	KNOCK
	ZIP
	TB
	UNKLN
	CLUSTER
	ENCAP
	SERVICES
	RSFNC
	SAVE
	EUID
	EOPMOD
	BAN
	MLOCK
	numCaps
)

var names = [numCaps]string{
	QS: "QS", EX: "EX", CHW: "CHW", IE: "IE", KLN: "KLN", KNOCK: "KNOCK",
	ZIP: "ZIP", TB: "TB", UNKLN: "UNKLN", CLUSTER: "CLUSTER", ENCAP: "ENCAP",
	SERVICES: "SERVICES", RSFNC: "RSFNC", SAVE: "SAVE", EUID: "EUID",
	EOPMOD: "EOPMOD", BAN: "BAN", MLOCK: "MLOCK",
}

var byName map[string]Cap

func init() {
	byName = make(map[string]Cap, numCaps)
	for i, n := range names {
		byName[n] = Cap(i)
	}
}

// Lookup returns the Cap for a CAPAB token, or (0, false) if unrecognized;
// unrecognized tokens are not an error, they are simply ignored during
// negotiation (spec 4.F).
func Lookup(name string) (Cap, bool) {
	c, ok := byName[strings.ToUpper(name)]
	return c, ok
}

// Set is a bitset of negotiated capabilities for one server link.
type Set uint64

func (s Set) Has(c Cap) bool { return s&(1<<c) != 0 }
func (s Set) With(c Cap) Set { return s | (1 << c) }
func (s *Set) Add(c Cap)     { *s |= 1 << c }

// Intersect computes the effective capability set of a link: the bitwise AND
// of what each side advertised (spec 4.F).
func Intersect(mine, theirs Set) Set { return mine & theirs }

// Parse turns a CAPAB token list into a Set, ignoring unknown tokens.
func Parse(tokens []string) Set {
	var s Set
	for _, t := range tokens {
		if c, ok := Lookup(t); ok {
			s.Add(c)
		}
	}
	return s
}

// String renders the set back into a space-separated CAPAB token list.
func (s Set) String() string {
	var parts []string
	for i := Cap(0); i < numCaps; i++ {
		if s.Has(i) {
			parts = append(parts, names[i])
		}
	}
	return strings.Join(parts, " ")
}

// All is the full capability set this daemon can perform; it is what gets
// advertised on outbound CAPAB (spec 4.F, 6).
var All Set = func() Set {
	var s Set
	for i := Cap(0); i < numCaps; i++ {
		s.Add(i)
	}
	return s
}()
