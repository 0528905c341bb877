// Package registry implements the client registry (spec 4.C): the global
// nickname/UID/hostname hashes, the UID generator, and the connection-id
// allocator. Grounded on charybdis's id generation in ircd/client.c (the
// base36 odometer scheme) and ircd/ircd.c's connid bookkeeping.
package registry

import (
	"fmt"
	"sync"
)

const odometerLen = 6
const odometerAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// UIDGenerator allocates 9-character UIDs: a 3-character SID followed by a
// 6-character odometer over [A-Z][A-Z0-9] that increments right-to-left
// (spec 4.C).
type UIDGenerator struct {
	mu      sync.Mutex
	sid     string
	counter [odometerLen]byte
	flipped bool

	// collides is consulted only once Flipped; it should report whether a
	// candidate UID is already live.
	collides func(uid string) bool
}

// NewUIDGenerator validates sid (digit, then two id-chars: letter or digit)
// and returns a generator seeded at the start of its odometer.
func NewUIDGenerator(sid string, collides func(string) bool) (*UIDGenerator, error) {
	if err := ValidateSID(sid); err != nil {
		return nil, err
	}
	g := &UIDGenerator{sid: sid, collides: collides}
	for i := range g.counter {
		g.counter[i] = 'A'
	}
	return g, nil
}

// ValidateSID checks the 3-character [digit][idchar][idchar] grammar (spec
// 4.C).
func ValidateSID(sid string) error {
	if len(sid) != 3 {
		return fmt.Errorf("registry: SID %q must be 3 characters", sid)
	}
	if sid[0] < '0' || sid[0] > '9' {
		return fmt.Errorf("registry: SID %q must start with a digit", sid)
	}
	for _, c := range sid[1:] {
		if !isIDChar(byte(c)) {
			return fmt.Errorf("registry: SID %q has illegal id-char %q", sid, c)
		}
	}
	return nil
}

func isIDChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// advance increments the odometer right-to-left: Z rolls to 0, 9 rolls to A
// and carries (spec 4.C). It returns true if the odometer wrapped fully
// (every digit rolled over), at which point the "flipped" bit is latched.
func (g *UIDGenerator) advance() (wrapped bool) {
	for i := odometerLen - 1; i >= 0; i-- {
		c := g.counter[i]
		switch {
		case c == 'Z':
			g.counter[i] = '0'
			continue // carry
		case c == '9':
			g.counter[i] = 'A'
			continue // carry
		default:
			g.counter[i] = c + 1
			return false
		}
	}
	return true
}

// Next allocates the next UID. Before the odometer has wrapped, allocation
// is O(1): the odometer is assumed collision-free because UIDs are retired
// when their owning client exits. After wrapping ("flipped"), every
// candidate is checked against the live UID hash and skipped on collision,
// guaranteeing correctness past ~2.1 billion allocations (spec 4.C,
// spec 8 "26^6*36^5 allocations" boundary).
func (g *UIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		uid := g.sid + string(g.counter[:])
		if g.advance() {
			g.flipped = true
		}
		if !g.flipped || g.collides == nil || !g.collides(uid) {
			return uid
		}
		// collision on the flipped path: the odometer has already been
		// advanced past this value, so just loop for the next candidate.
	}
}

// Flipped reports whether the odometer has wrapped at least once.
func (g *UIDGenerator) Flipped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flipped
}
