// Package confstore owns the lifecycle of ConfItem access-control records:
// auth lines, K/D/X-lines, RESVs, oper blocks, and hub/leaf masks (spec 3,
// 4.B). It is grounded on charybdis's src/s_conf.c and src/s_newconf.c
// (propagated-ban lists, temp-ban tiers) and modules/core/m_ban.c (the
// replace-old rule for propagated bans).
package confstore

import (
	"fmt"
	"sync"
	"time"
)

// Kind is the ConfItem variant (spec 3).
type Kind int

const (
	KindAuth Kind = iota
	KindKill
	KindDLine
	KindExemptDLine
	KindXLine
	KindResvNick
	KindResvChannel
	KindOper
	KindHubMask
	KindLeafMask
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindKill:
		return "kill"
	case KindDLine:
		return "dline"
	case KindExemptDLine:
		return "exempt-dline"
	case KindXLine:
		return "xline"
	case KindResvNick:
		return "resv-nick"
	case KindResvChannel:
		return "resv-channel"
	case KindOper:
		return "oper"
	case KindHubMask:
		return "hub-mask"
	case KindLeafMask:
		return "leaf-mask"
	default:
		return "unknown"
	}
}

// Flags are per-record behavior bits (spec 4.D verifier steps reference
// several of these: redirect, encrypted password, TLS/SASL/ident requirement,
// no-tilde, exempt-limits, kline-exempt).
type Flags uint32

const (
	FlagRedirect Flags = 1 << iota
	FlagEncrypted
	FlagRequireTLS
	FlagRequireSASL
	FlagRequireIdent
	FlagNoTilde
	FlagExemptLimits
	FlagKlineExempt
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Status tracks whether a record is live or has been marked illegal but is
// still referenced (spec 3 invariant: "when marked illegal with refcount > 0
// it survives until drained").
type Status int

const (
	StatusActive Status = iota
	StatusIllegal
)

// ConfItem is an access-control record (spec 3).
type ConfItem struct {
	mu sync.Mutex

	Kind Kind

	UserPattern string
	HostPattern string
	IP          string // optional literal IP, informational
	CIDRBits    int

	ClassName string

	Passwd   string // "passwd"
	SPasswd  string // "spasswd", operator-only reason
	Oper     string // originating-oper reference (name)

	Flags  Flags
	status Status

	Created  time.Time
	Hold     time.Time // activation deadline / temp-ban expiry
	Lifetime time.Time // propagated-ban lifetime; zero means "not propagated"

	refcount int
	Port     int

	// RedirectServer/RedirectPort are used when Flags.FlagRedirect is set.
	RedirectServer string
	RedirectPort   int
}

// Username implements matcher.Record.
func (c *ConfItem) Username() string { return c.UserPattern }

// SASLUser implements matcher.Record. It always returns "", so no ConfItem
// constrains a match on the SASL external identity.
func (c *ConfItem) SASLUser() string { return "" }

// IsTemporary implements matcher.TempRecord: a record is "temporary" if it
// carries a Hold deadline without being part of the separately-swept
// propagated-ban list.
func (c *ConfItem) IsTemporary() bool {
	return !c.Hold.IsZero() && c.Lifetime.IsZero()
}

// IsPropagated reports whether this record came from (or will be sent as) a
// network-wide BAN message (spec 4.B, 6).
func (c *ConfItem) IsPropagated() bool { return !c.Lifetime.IsZero() }

func (c *ConfItem) Mask() string {
	return fmt.Sprintf("%s@%s", orStar(c.UserPattern), c.HostPattern)
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// Attach increments the refcount (spec 5 "per-ConfItem clients refcount").
func (c *ConfItem) Attach() {
	c.mu.Lock()
	c.refcount++
	c.mu.Unlock()
}

// Detach decrements the refcount. It returns true if the record is now
// illegal and unreferenced, so the caller (Store) can free it (spec 3, 5).
func (c *ConfItem) Detach() (shouldFree bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refcount--
	if c.refcount < 0 {
		c.refcount = 0
	}
	return c.status == StatusIllegal && c.refcount == 0
}

func (c *ConfItem) Refcount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refcount
}

func (c *ConfItem) MarkIllegal() {
	c.mu.Lock()
	c.status = StatusIllegal
	c.mu.Unlock()
}

func (c *ConfItem) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// BanMessage fills in a ban-refusal format string with the record's reason,
// mirroring oragono's DLineManager/KLineManager BanMessage helper used in
// Server.checkBans and tryRegister.
func (c *ConfItem) BanMessage(format string) string {
	reason := c.Passwd
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf(format, reason)
}
