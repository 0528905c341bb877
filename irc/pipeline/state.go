package pipeline

import (
	"time"

	"github.com/embercd/embercd/irc/client"
)

// Phase is the coarse pre-registration state from spec 4.D's diagram.
type Phase int

const (
	PhaseAccepted Phase = iota
	PhaseAuthStarted
	PhaseAuthResolving
	PhaseAuthDone
	PhaseReady
	PhaseRejected
)

// Driver runs one connection through the pre-registration pipeline. Every
// step is non-blocking: DNS/ident/DNSBL are kicked off as goroutines that
// report back through the callbacks below rather than the Driver ever
// calling a blocking function directly (spec 5 "Suspension points").
type Driver struct {
	Client   *client.Client
	Resolver Resolver

	IdentEnabled   bool
	IdentTimeout   time.Duration
	DNSTimeout     time.Duration
	DNSBLTimeout   time.Duration
	DNSBLConfigs   []DNSBLConfig
	PingCookies    bool

	// OnAuthDone runs the registration verifier exactly once, the moment
	// every pending substate has cleared (spec 4.D "Release to READY runs
	// the registration verifier exactly once").
	OnAuthDone func(*Driver)

	phase        Phase
	authDoneFired bool
}

func NewDriver(c *client.Client, resolver Resolver) *Driver {
	return &Driver{Client: c, Resolver: resolver, phase: PhaseAccepted,
		IdentTimeout: 30 * time.Second, DNSTimeout: 30 * time.Second, DNSBLTimeout: 30 * time.Second}
}

func (d *Driver) Phase() Phase { return d.phase }

// Start kicks off every pre-registration subtask that applies, marking the
// corresponding LocalClient substate bits (spec 4.D "Concurrent per-client
// substates").
func (d *Driver) Start(onDNS func(DNSResult), onIdent func(IdentResult), onDNSBL func(bool, DNSBLMatch)) {
	lc := d.Client.Local
	d.phase = PhaseAuthStarted

	lc.DNSPending = true
	go func() {
		res := ResolveWithTimeout(d.Resolver, d.Client.IP(), d.DNSTimeout)
		onDNS(res)
	}()

	if d.IdentEnabled {
		lc.AuthPending = true
		go func() {
			local := d.Client.IP() // LocalClient conn local addr would be used in production
			res := QueryIdent(local, d.Client.IP(), 113, d.IdentTimeout)
			onIdent(res)
		}()
	}

	if len(d.DNSBLConfigs) > 0 {
		lc.DNSBLPending = len(d.DNSBLConfigs)
		go func() {
			match, ok := RunDNSBLQueries(d.Client.IP(), d.DNSBLConfigs, d.DNSBLTimeout)
			onDNSBL(ok, match)
		}()
	}

	if d.PingCookies {
		lc.PingCookiePending = true
	}

	d.phase = PhaseAuthResolving
}

// ApplyDNSResult clears the DNS-pending substate and applies the fallback
// policy from spec 4.D.
func (d *Driver) ApplyDNSResult(res DNSResult) {
	lc := d.Client.Local
	lc.DNSPending = false
	if res.Fallback {
		d.Client.SetOrigHost(d.Client.IP().String())
	} else {
		d.Client.SetOrigHost(res.Hostname)
	}
	d.maybeReady()
}

func (d *Driver) ApplyIdentResult(res IdentResult) {
	lc := d.Client.Local
	lc.AuthPending = false
	if d.Client.Pre != nil {
		d.Client.Pre.IdentFailed = res.Failed
		if !res.Failed {
			d.Client.Pre.IdentBuffer = res.Username
		}
	}
	d.maybeReady()
}

func (d *Driver) ApplyDNSBLResult(matched bool, m DNSBLMatch) {
	lc := d.Client.Local
	// Start reports every configured list through one RunDNSBLQueries result.
	lc.DNSBLPending = 0
	if matched && d.Client.Pre != nil {
		d.Client.Pre.DNSBLMatched = true
		d.Client.Pre.DNSBLExempt = m.Config.Exempt
	}
	d.maybeReady()
}

// ClearPingCookie is called once the client's PONG response to a ping
// cookie has been verified.
func (d *Driver) ClearPingCookie() {
	d.Client.Local.PingCookiePending = false
	d.maybeReady()
}

// ClearCapNegotiation is called when CAP END (or equivalent) closes
// capability negotiation.
func (d *Driver) ClearCapNegotiation() {
	d.Client.Local.CapNegotiating = false
	d.maybeReady()
}

func (d *Driver) maybeReady() {
	if !d.Client.Local.ReadyForRegistration() {
		return
	}
	d.phase = PhaseAuthDone
	if d.authDoneFired {
		return
	}
	d.authDoneFired = true
	if d.OnAuthDone != nil {
		d.OnAuthDone(d)
	}
}

// Reject transitions the driver to PhaseRejected; the caller is responsible
// for queuing the delayed exit (spec 4.D diagram: REJECTED -> delayed
// close).
func (d *Driver) Reject() { d.phase = PhaseRejected }

// Promote transitions to PhaseReady once the registration verifier has
// succeeded exactly once (spec 4.D "Release to READY runs the registration
// verifier exactly once").
func (d *Driver) Promote() { d.phase = PhaseReady }
