package scheduler

import (
	"strconv"
	"time"
)

// PingTarget is the subset of a client the ping sweep needs.
type PingTarget interface {
	LastActivity() time.Time
	PingSent() bool
	SetPingSent(bool)
	BackdateLastActivity(time.Time)
	PingFrequency() time.Duration
	Name() string
}

// RunPingSweep implements spec 4.I's "Ping sweep": for each eligible
// client, send a PING and backdate its activity clock once, then exit it
// on the next miss.
func RunPingSweep(now time.Time, targets []PingTarget, sendPing func(PingTarget), exitTimeout func(PingTarget, string)) {
	for _, t := range targets {
		freq := t.PingFrequency()
		if freq <= 0 {
			continue
		}
		idle := now.Sub(t.LastActivity())
		if idle < freq {
			continue
		}
		if !t.PingSent() {
			sendPing(t)
			t.SetPingSent(true)
			t.BackdateLastActivity(now)
			continue
		}
		if idle >= 2*freq {
			secs := int(idle.Seconds())
			exitTimeout(t, pingTimeoutMessage(secs))
		}
	}
}

func pingTimeoutMessage(seconds int) string {
	return "Ping timeout: " + strconv.Itoa(seconds) + " seconds"
}

// UnknownTarget is the subset of a not-yet-registered client the unknown
// sweep needs.
type UnknownTarget interface {
	ConnectedAt() time.Time
	IsCandidateServer() bool
}

// RunUnknownSweep implements spec 4.I's "Unknown sweep": anything still
// unregistered past its timeout gets exited.
func RunUnknownSweep(now time.Time, targets []UnknownTarget, connectTimeout time.Duration, exitTimedOut func(UnknownTarget)) {
	const defaultTimeout = 30 * time.Second
	for _, t := range targets {
		timeout := defaultTimeout
		if t.IsCandidateServer() && connectTimeout > 0 {
			timeout = connectTimeout
		}
		if now.Sub(t.ConnectedAt()) >= timeout {
			exitTimedOut(t)
		}
	}
}
