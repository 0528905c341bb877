// Package serverlink implements the outbound connect loop and the
// PASS/CAPAB/SERVER/SVINFO handshake described in spec 4.F.
package serverlink

import (
	"fmt"
	"sync"
	"time"

	"github.com/embercd/embercd/irc/caps"
	"github.com/embercd/embercd/irc/confstore"
)

// Candidate is one configured outbound connect target (spec 4.F "Outbound
// connect candidates live in an ordered list").
type Candidate struct {
	Name      string
	Host      string
	Port      int
	VHost     string
	ClassName string
	Hold      time.Duration

	lastAttempt time.Time
}

// Queue holds the ordered candidate list and rotates through it on each
// scheduler tick (spec 4.I "a periodic event selects the next candidate").
type Queue struct {
	mu         sync.Mutex
	candidates []*Candidate
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Add(c *Candidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.candidates = append(q.candidates, c)
}

// Next returns the first candidate whose hold has elapsed and whose class
// is not full (classFull is supplied by the caller, which owns the class
// manager), moving it to the tail of the list as spec 4.F requires.
func (q *Queue) Next(now time.Time, classFull func(className string) bool) *Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.candidates {
		if now.Sub(c.lastAttempt) < c.Hold {
			continue
		}
		if classFull != nil && classFull(c.ClassName) {
			continue
		}
		c.lastAttempt = now
		q.candidates = append(append(q.candidates[:i:i], q.candidates[i+1:]...), c)
		return c
	}
	return nil
}

// Handshake is the per-side link state machine. It does not own the
// socket; the caller drives it by feeding parsed lines in and reading
// emitted lines out, following the suspension-point rule of spec 5 (no
// blocking I/O inside this package).
type Handshake struct {
	MySID  string
	MyName string
	MyInfo string

	sawPass   bool
	sawCapab  bool
	sawServer bool
	sawSVInfo bool

	PeerName    string
	PeerSID     string
	PeerCaps    caps.Set
	PeerTS      int
	SendPass    string
	ReceivePass string

	Conf *confstore.ConfItem

	EffectiveCaps caps.Set
}

// OutboundLines returns the three lines an outbound connector sends
// immediately after a successful TCP connect (spec 4.F).
func (h *Handshake) OutboundLines(sendPass string, myCaps caps.Set) []string {
	return []string{
		fmt.Sprintf("PASS %s TS 6 :%s", sendPass, h.MySID),
		fmt.Sprintf("CAPAB :%s", myCaps.String()),
		fmt.Sprintf("SERVER %s 1 :%s", h.MyName, h.MyInfo),
	}
}

// ApplyPass records an inbound PASS line; it must arrive before CAPAB and
// SERVER (spec 4.F "On receipt of PASS/CAPAB/SERVER in the correct
// order").
func (h *Handshake) ApplyPass(password string, ts int, sid string) error {
	if h.sawCapab || h.sawServer {
		return errOutOfOrder("PASS")
	}
	h.ReceivePass = password
	h.PeerTS = ts
	h.PeerSID = sid
	h.sawPass = true
	return nil
}

func (h *Handshake) ApplyCapab(tokens []string) error {
	if !h.sawPass || h.sawServer {
		return errOutOfOrder("CAPAB")
	}
	h.PeerCaps = caps.Parse(tokens)
	h.sawCapab = true
	return nil
}

func (h *Handshake) ApplyServer(name string, info string) error {
	if !h.sawPass || !h.sawCapab {
		return errOutOfOrder("SERVER")
	}
	h.PeerName = name
	h.sawServer = true
	return nil
}

func (h *Handshake) ApplySVInfo() error {
	if !h.sawServer {
		return errOutOfOrder("SVINFO")
	}
	h.sawSVInfo = true
	h.EffectiveCaps = caps.Intersect(caps.All, h.PeerCaps)
	return nil
}

// VerifyPassword checks the received PASS against the attached server
// conf, optionally via a crypt comparison (spec 4.F "verify passwords
// (with optional crypt path)").
func (h *Handshake) VerifyPassword(compare func(supplied, hash string) bool, encrypted bool) bool {
	if h.Conf == nil {
		return false
	}
	if !encrypted {
		return h.ReceivePass == h.Conf.Passwd
	}
	return compare(h.ReceivePass, h.Conf.Passwd)
}

// Ready reports whether PASS, CAPAB, SERVER, and SVINFO have all been
// seen from the peer, i.e. the handshake can move to server_estab.
func (h *Handshake) Ready() bool {
	return h.sawPass && h.sawCapab && h.sawServer && h.sawSVInfo
}

// SVInfoLine is the reply line sent once both sides' SERVER info has been
// exchanged (spec 4.F, spec "S4" example: "SVINFO 6 6 0 :<now>").
func SVInfoLine(now time.Time) string {
	return fmt.Sprintf("SVINFO 6 6 0 :%d", now.Unix())
}

type handshakeOrderError struct{ cmd string }

func (e *handshakeOrderError) Error() string {
	return fmt.Sprintf("%s received out of order during server handshake", e.cmd)
}

func errOutOfOrder(cmd string) error { return &handshakeOrderError{cmd} }

// AnnounceLine formats the line used to introduce a newly-established
// server to the rest of the mesh (spec 4.F "announce the new server to
// all other peers"). tsCapable selects SID form over name form.
func AnnounceLine(fromSID, sid, name string, hopCount int, info string, tsCapable bool) string {
	if tsCapable {
		return fmt.Sprintf(":%s SID %s %d %s :%s", fromSID, name, hopCount, sid, info)
	}
	return fmt.Sprintf("SERVER %s %d :%s", name, hopCount, info)
}

// GCapForwardLine is the ENCAP wrapper forwarded alongside a new-server
// announcement (spec 4.F "forwarding ENCAP * GCAP <full-caps>").
func GCapForwardLine(fullCaps string) string {
	return fmt.Sprintf("ENCAP * GCAP %s", fullCaps)
}
