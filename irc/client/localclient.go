package client

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/embercd/embercd/irc/class"
	"github.com/embercd/embercd/irc/confstore"
	"github.com/embercd/embercd/irc/registry"
)

// RefCounted is a trivial refcounted handle, used for the listener,
// TLS/zip/websocket helper-process control-channel references held by
// LocalClient (spec 3, spec 5 "Shared-resource policy").
type RefCounted struct {
	mu  sync.Mutex
	ref int
	Tag string
}

func NewRefCounted(tag string) *RefCounted { return &RefCounted{Tag: tag, ref: 1} }
func (r *RefCounted) Retain()               { r.mu.Lock(); r.ref++; r.mu.Unlock() }
func (r *RefCounted) Release() (zero bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ref--
	return r.ref <= 0
}

// LocalClient is the side-table owned by Client when locally connected
// (spec 3).
type LocalClient struct {
	mu sync.Mutex

	Conn   net.Conn
	Reader *bufio.Reader

	sendQueue [][]byte // FIFO outbound line buffer (spec 5 ordering guarantee 2)
	partial   []byte   // partially-sent line retained across a would-block write

	FirstConnect time.Time
	LastActivity time.Time
	BytesIn      uint64
	BytesOut     uint64
	MessagesIn   uint64
	MessagesOut  uint64

	AuthConf   *confstore.ConfItem
	ServerConf *confstore.ConfItem
	Class      *class.Class

	Listener  *RefCounted
	TLSProxy  *RefCounted
	ZipProxy  *RefCounted
	WebSocket *RefCounted

	CallerIDAllow map[string]bool

	TargetRing *TargetChangeRing

	PrivSet  *OperPrivileges
	OperName string

	SASLExternal string

	ConnIDs []registry.ConnID

	// Pre-registration substates, cleared as each async subtask completes
	// (spec 4.D "Concurrent per-client substates").
	DNSPending        bool
	AuthPending       bool
	DNSBLPending      int // count of outstanding DNSBL queries
	PingCookiePending bool
	CapNegotiating    bool

	PingSent bool

	IsTgch uint64 // target-change-blocked counter, mirrored into stats
}

func NewLocalClient(conn net.Conn) *LocalClient {
	now := time.Now()
	return &LocalClient{
		Conn:          conn,
		Reader:        bufio.NewReader(conn),
		FirstConnect:  now,
		LastActivity:  now,
		CallerIDAllow: make(map[string]bool),
		TargetRing:    NewTargetChangeRing(20, 4),
	}
}

// ReadyForRegistration reports whether every pre-registration substate has
// cleared (spec 4.D: "Release to READY runs the registration verifier
// exactly once").
func (lc *LocalClient) ReadyForRegistration() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return !lc.DNSPending && !lc.AuthPending && lc.DNSBLPending == 0 &&
		!lc.PingCookiePending && !lc.CapNegotiating
}

// Enqueue appends a line to the FIFO send queue (spec 5 ordering guarantee 2).
func (lc *LocalClient) Enqueue(line []byte) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.sendQueue = append(lc.sendQueue, line)
}

// QueueLen reports the number of lines awaiting send, used by sendq limit
// enforcement against Class.MaxSendQ.
func (lc *LocalClient) QueueLen() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.sendQueue)
}

// QueuedBytes estimates total bytes pending, compared against
// Class.MaxSendQ.
func (lc *LocalClient) QueuedBytes() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	n := len(lc.partial)
	for _, l := range lc.sendQueue {
		n += len(l)
	}
	return n
}

// Flush writes as much of the queue as the socket will currently accept. On
// an EWOULDBLOCK-equivalent error (net.Error.Timeout), the unsent remainder
// is retained in partial and Flush returns nil so the caller re-registers for
// writable and retries (spec 5 "Suspension points"); any other write error
// is returned. With no Conn attached, the queue is left as it is.
func (lc *LocalClient) Flush() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.Conn == nil {
		return nil
	}
	for len(lc.partial) > 0 || len(lc.sendQueue) > 0 {
		if len(lc.partial) == 0 {
			lc.partial = lc.sendQueue[0]
			lc.sendQueue = lc.sendQueue[1:]
		}
		n, err := lc.Conn.Write(lc.partial)
		lc.BytesOut += uint64(n)
		lc.partial = lc.partial[n:]
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return err
		}
	}
	return nil
}

// RecordActivity backdates LastActivity; used both on genuine traffic and
// by the ping sweep's "ping-sent" bookkeeping (spec 4.I).
func (lc *LocalClient) RecordActivity(now time.Time) {
	lc.mu.Lock()
	lc.LastActivity = now
	lc.mu.Unlock()
}

func (lc *LocalClient) Idle(now time.Time) time.Duration {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return now.Sub(lc.LastActivity)
}

// PreClient is the side-table owned by Client only during pre-registration
// (spec 3).
type PreClient struct {
	IdentBuffer string
	IdentFailed bool

	DNSBLMatched  bool
	DNSBLReason   string
	DNSBLExempt   bool

	SpoofHost string
	SpoofUser string

	PreregNick string
	SASLUser   string
	SASLDone   bool

	PasswordSupplied string
}
