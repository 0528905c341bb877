// Package matcher implements the address-indexed ban/auth matcher described
// in spec 4.A: a fixed-size hash over CIDR- and hostname-masked rules that
// returns the highest-precedence match for a client lookup. It is grounded
// on charybdis's src/hostmask.c (see original_source/_INDEX.md) translated
// into an idiomatic Go table.
package matcher

import (
	"net"
	"strconv"
	"strings"
	"sync"
)

// NumBuckets is the default bucket count (spec 4.A: "power-of-two buckets,
// default 4096").
const NumBuckets = 4096

// RecordType enumerates the ConfItem kinds the matcher can hold; irc/confstore
// assigns these when installing a record.
type RecordType int

const (
	TypeAuth RecordType = iota
	TypeAuthNoIdent       // type^1 variant: username check skipped
	TypeKill
	TypeKillNoIdent
	TypeDLine
	TypeExemptDLine
	TypeXLine
	TypeResvNick
	TypeResvChannel
)

// SkipIdent returns the paired "username check skipped" type used by
// Lookup's `type ⊕ 1` rule (spec 4.A).
func (t RecordType) SkipIdent() RecordType {
	switch t {
	case TypeAuth:
		return TypeAuthNoIdent
	case TypeKill:
		return TypeKillNoIdent
	default:
		return t
	}
}

// Record is the back-pointer payload the matcher stores per entry. Callers
// (irc/confstore) own the concrete ConfItem and merely implement this
// interface so the matcher stays decoupled from ban-store internals.
type Record interface {
	// Username returns the username constraint, or "" for none.
	Username() string
	// SASLUser returns the SASL-user constraint, or "" for none.
	SASLUser() string
}

type maskKind int

const (
	kindHost maskKind = iota
	kindIPv4
	kindIPv6
)

type entry struct {
	kind     maskKind
	hostMask string // for kindHost, lowercased glob
	ip       net.IP // for kindIPv4/6, network address
	bits     int    // prefix length
	typ      RecordType
	prec     int64
	record   Record
	next     *entry
}

// Table is the fixed hash table of mask entries. It is safe for concurrent
// use; the daemon's single event loop rarely contends it but rehash-time
// bulk Clear races with ongoing lookups from accept handlers running on
// separate listener goroutines.
type Table struct {
	mu      sync.RWMutex
	buckets []*entry
	nextPrec int64 // counts down: spec 4.A "strictly-decreasing counter"
}

// NewTable allocates a matcher table with the default bucket count.
func NewTable() *Table {
	return &Table{buckets: make([]*entry, NumBuckets), nextPrec: 1 << 62}
}

// ParseMask classifies a mask string as hostname, IPv4/prefix, or IPv6/prefix,
// mirroring parse_netmask in charybdis's hostmask.c: a mask containing glob
// metacharacters is always a hostname, regardless of whether it also parses
// as an address.
func ParseMask(mask string) (kind maskKind, ip net.IP, bits int, host string) {
	if strings.ContainsAny(mask, "*?") {
		return kindHost, nil, 0, strings.ToLower(mask)
	}

	addrPart, bitsPart, hasSlash := strings.Cut(mask, "/")
	addr := net.ParseIP(addrPart)
	if addr == nil {
		return kindHost, nil, 0, strings.ToLower(mask)
	}

	isV6 := strings.Contains(addrPart, ":")
	maxBits := 32
	if isV6 {
		maxBits = 128
	}
	b := maxBits
	if hasSlash {
		parsed, err := strconv.Atoi(bitsPart)
		if err == nil {
			b = parsed
		}
	}
	if b > maxBits {
		b = maxBits
	}
	if b < 0 {
		b = 0
	}

	if isV6 {
		return kindIPv6, addr.To16(), b, ""
	}
	return kindIPv4, addr.To4(), b, ""
}

// hostBucket computes the coarse bucket key for a hostname mask: a rolling
// case-insensitive hash of the suffix from the last wildcard (spec 4.A). A
// mask with no wildcard hashes its entire (already-lowercased) value; a mask
// that is pure wildcard falls into the universal bucket 0, matching the
// "wildcard bucket" probed by every name lookup.
func hostBucket(lowered string) int {
	idx := strings.LastIndexAny(lowered, "*?")
	suffix := lowered[idx+1:]
	if suffix == "" {
		return 0
	}
	return int(rollingHash(suffix) % NumBuckets)
}

func rollingHash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h = (h ^ uint32(s[i])) * 16777619
	}
	return h
}

// ipBucket computes the coarse bucket for an address masked down to the
// nearest multiple-of-8 (v4) or multiple-of-16 (v6) prefix length not
// exceeding bits (spec 4.A).
func ipBucket(ip net.IP, bits int, granularity int) int {
	coarse := (bits / granularity) * granularity
	masked := maskedAddr(ip, coarse)
	return int(rollingHash(masked.String()) % NumBuckets)
}

func maskedAddr(ip net.IP, bits int) net.IP {
	mask := net.CIDRMask(bits, len(ip)*8)
	return ip.Mask(mask)
}

// Add installs a new entry and returns its assigned precedence. Precedence
// is strictly decreasing, so entries added later lose ties to entries added
// earlier (spec 4.A: "new entries lose to old").
func (t *Table) Add(mask string, typ RecordType, rec Record) (precedence int64) {
	kind, ip, bits, host := ParseMask(mask)

	t.mu.Lock()
	defer t.mu.Unlock()

	prec := t.nextPrec
	t.nextPrec--

	e := &entry{kind: kind, ip: ip, bits: bits, hostMask: host, typ: typ, prec: prec, record: rec}

	var bucket int
	switch kind {
	case kindHost:
		bucket = hostBucket(host)
	case kindIPv4:
		bucket = ipBucket(ip, bits, 8)
	case kindIPv6:
		bucket = ipBucket(ip, bits, 16)
	}

	e.next = t.buckets[bucket]
	t.buckets[bucket] = e
	return prec
}

// Delete removes the first entry matching rec from the table (unlinks the
// matcher entry; irc/confstore is responsible for the ConfItem refcount and
// illegal-marking side of deletion, spec 4.B).
func (t *Table) Delete(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for b := range t.buckets {
		prev := (*entry)(nil)
		cur := t.buckets[b]
		for cur != nil {
			if cur.record == rec {
				if prev == nil {
					t.buckets[b] = cur.next
				} else {
					prev.next = cur.next
				}
				return
			}
			prev = cur
			cur = cur.next
		}
	}
}

// ClearMode selects which bulk-flush behavior Clear performs (spec 4.A).
type ClearMode int

const (
	// ClearKeepTempDropPermanent retains temporary K-lines and drops
	// permanent ones, used when rereading the on-disk ban file.
	ClearKeepTempDropPermanent ClearMode = iota
	// ClearKeepAuthDropRest retains auth/exempt entries and drops
	// everything else, used when rereading the general config.
	ClearKeepAuthDropRest
)

// IsTemp reports whether a record is a temporary ban; confstore.ConfItem
// implements this so Table.Clear can apply ClearKeepTempDropPermanent
// without depending on confstore's concrete type.
type TempRecord interface {
	Record
	IsTemporary() bool
}

// Clear performs the bulk flush described in spec 4.A. It returns the
// records that were dropped so the caller (irc/confstore) can release them.
func (t *Table) Clear(mode ClearMode) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []Record
	for b := range t.buckets {
		var kept *entry
		cur := t.buckets[b]
		for cur != nil {
			next := cur.next
			keep := false
			switch mode {
			case ClearKeepTempDropPermanent:
				if tr, ok := cur.record.(TempRecord); ok && tr.IsTemporary() {
					keep = true
				}
			case ClearKeepAuthDropRest:
				keep = cur.typ == TypeAuth || cur.typ == TypeAuthNoIdent || cur.typ == TypeExemptDLine
			}
			if keep {
				cur.next = kept
				kept = cur
			} else {
				dropped = append(dropped, cur.record)
			}
			cur = next
		}
		t.buckets[b] = kept
	}
	return dropped
}

// Query bundles the inputs to Lookup (spec 4.A).
type Query struct {
	Name     string // hostname, if resolved
	SockHost string // numeric fallback host
	OrigHost string // pre-spoof original host
	Addr     net.IP
	Username string
	SASLUser string
}

func globMatch(pattern, s string) bool {
	return glob(pattern, s)
}

// glob implements the hostname mask grammar from spec 4.A: '*' and '?'
// wildcards, with '\' escaping either metacharacter.
func glob(pattern, s string) bool {
	return globAt(pattern, s, 0, 0)
}

func globAt(pattern, s string, pi, si int) bool {
	for pi < len(pattern) {
		switch pattern[pi] {
		case '\\':
			if pi+1 >= len(pattern) || si >= len(s) || pattern[pi+1] != s[si] {
				return false
			}
			pi += 2
			si++
		case '?':
			if si >= len(s) {
				return false
			}
			pi++
			si++
		case '*':
			// collapse consecutive stars
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := si; k <= len(s); k++ {
				if globAt(pattern, s, pi, k) {
					return true
				}
			}
			return false
		default:
			if si >= len(s) || pattern[pi] != s[si] {
				return false
			}
			pi++
			si++
		}
	}
	return si == len(s)
}

func (e *entry) matchesHost(q Query) bool {
	candidates := []string{}
	if q.Name != "" {
		candidates = append(candidates, strings.ToLower(q.Name))
	}
	if q.SockHost != "" {
		candidates = append(candidates, strings.ToLower(q.SockHost))
	}
	if q.OrigHost != "" {
		candidates = append(candidates, strings.ToLower(q.OrigHost))
	}
	for _, c := range candidates {
		if globMatch(e.hostMask, c) {
			return true
		}
	}
	return false
}

func (e *entry) matchesIP(q Query) bool {
	if q.Addr == nil {
		return false
	}
	addr := q.Addr.To4()
	if e.kind == kindIPv6 {
		addr = q.Addr.To16()
	}
	if addr == nil {
		return false
	}
	return maskedAddr(addr, e.bits).Equal(maskedAddr(e.ip, e.bits))
}

func (e *entry) constraintsPass(q Query, typ RecordType) bool {
	un := e.record.Username()
	skipIdent := typ == e.typ.SkipIdent() && typ != e.typ
	if un != "" && !skipIdent {
		if !globMatch(strings.ToLower(un), strings.ToLower(q.Username)) {
			return false
		}
	}
	if su := e.record.SASLUser(); su != "" {
		if !globMatch(strings.ToLower(su), strings.ToLower(q.SASLUser)) {
			return false
		}
	}
	return true
}

// Lookup returns the highest-precedence entry of the requested type (or its
// SkipIdent() pair) whose mask matches q, and whose username/sasl-user
// constraints pass (spec 4.A).
func (t *Table) Lookup(q Query, typ RecordType) Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *entry
	consider := func(e *entry) {
		if e.typ != typ && e.typ != typ.SkipIdent() {
			return
		}
		if !e.constraintsPass(q, typ) {
			return
		}
		if best == nil || e.prec > best.prec {
			best = e
		}
	}

	if q.Addr != nil {
		t.probeIPBuckets(q, consider, false)
	}
	t.probeNameBuckets(q, consider)

	if best == nil {
		return nil
	}
	return best.record
}

// LookupExact behaves like Lookup but requires mask equality rather than
// containment (spec 4.A, "used by unban operations").
func (t *Table) LookupExact(maskStr string, typ RecordType) Record {
	kind, ip, bits, host := ParseMask(maskStr)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var bucket int
	switch kind {
	case kindHost:
		bucket = hostBucket(host)
	case kindIPv4:
		bucket = ipBucket(ip, bits, 8)
	case kindIPv6:
		bucket = ipBucket(ip, bits, 16)
	}

	var best *entry
	for e := t.buckets[bucket]; e != nil; e = e.next {
		if e.typ != typ && e.typ != typ.SkipIdent() {
			continue
		}
		switch kind {
		case kindHost:
			if e.kind != kindHost || e.hostMask != host {
				continue
			}
		default:
			if e.kind != kind || e.bits != bits || !e.ip.Equal(ip) {
				continue
			}
		}
		if best == nil || e.prec > best.prec {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.record
}

func (t *Table) probeIPBuckets(q Query, consider func(*entry), exactOnly bool) {
	// Add hashes IPv4 entries from their 4-byte form, so probe with it too.
	addr := q.Addr.To4()
	isV6 := addr == nil
	if isV6 {
		addr = q.Addr
	}
	var lengths []int
	if isV6 {
		for b := 128; b >= 0; b -= 16 {
			lengths = append(lengths, b)
		}
	} else {
		for _, b := range []int{32, 24, 16, 8, 0} {
			lengths = append(lengths, b)
		}
	}
	for _, prefixBits := range lengths {
		granularity := 8
		if isV6 {
			granularity = 16
		}
		bucket := ipBucket(addr, prefixBits, granularity)
		for e := t.buckets[bucket]; e != nil; e = e.next {
			if e.kind == kindHost {
				continue
			}
			if e.matchesIP(q) {
				consider(e)
			}
		}
	}
}

func (t *Table) probeNameBuckets(q Query, consider func(*entry)) {
	names := []string{}
	for _, n := range []string{q.Name, q.SockHost, q.OrigHost} {
		if n != "" {
			names = append(names, strings.ToLower(n))
		}
	}
	seen := map[int]bool{0: true}
	t.scanBucket(0, q, consider)
	for _, name := range names {
		for i := 0; i <= len(name); i++ {
			if i < len(name) && name[i] != '.' && i != 0 {
				continue
			}
			tail := name[i:]
			if tail == "" {
				continue
			}
			b := hostBucket(tail)
			if seen[b] {
				continue
			}
			seen[b] = true
			t.scanBucket(b, q, consider)
		}
	}
}

func (t *Table) scanBucket(b int, q Query, consider func(*entry)) {
	for e := t.buckets[b]; e != nil; e = e.next {
		if e.kind != kindHost {
			continue
		}
		if e.matchesHost(q) {
			consider(e)
		}
	}
}

// IsWildSufficient enforces the "wildcard sufficiency" rule from spec 4.A:
// a user pattern with no wildcard characters at all is always sufficient;
// otherwise the user pattern alone, or the user plus host pattern together,
// must contain at least minNonWild non-wildcard characters, with a CIDR
// host mask's prefix length contributing in its place (6-2*nonwild for v4,
// 4*(min-nonwild) for v6) rather than its literal character count.
func IsWildSufficient(userPattern, hostPattern string, minNonWild int) bool {
	if !strings.ContainsAny(userPattern, "*?") {
		return true
	}

	userNonWild := countNonWild(userPattern)
	if userNonWild >= minNonWild {
		return true
	}

	if idx := strings.LastIndexByte(hostPattern, '/'); idx != -1 && idx+1 < len(hostPattern) && isDigitByte(hostPattern[idx+1]) {
		kind, _, bits, _ := ParseMask(hostPattern)
		switch kind {
		case kindIPv4:
			return bits > 0 && bits >= 6-2*userNonWild
		case kindIPv6:
			return bits > 0 && bits >= 4*(minNonWild-userNonWild)
		}
		return false
	}

	return userNonWild+countNonWild(hostPattern) >= minNonWild
}

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }

func countNonWild(s string) int {
	n := 0
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			n++
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '*', '?':
		default:
			n++
		}
	}
	return n
}
