package scheduler

import (
	"testing"
	"time"
)

type fakePingTarget struct {
	name         string
	lastActivity time.Time
	pingSent     bool
	freq         time.Duration
}

func (f *fakePingTarget) LastActivity() time.Time          { return f.lastActivity }
func (f *fakePingTarget) PingSent() bool                   { return f.pingSent }
func (f *fakePingTarget) SetPingSent(sent bool)             { f.pingSent = sent }
func (f *fakePingTarget) BackdateLastActivity(t time.Time)  { f.lastActivity = t }
func (f *fakePingTarget) PingFrequency() time.Duration      { return f.freq }
func (f *fakePingTarget) Name() string                      { return f.name }

func TestRunPingSweepSendsPingOnceIdleExceedsFrequency(t *testing.T) {
	now := time.Now()
	target := &fakePingTarget{name: "alice", lastActivity: now.Add(-2 * time.Minute), freq: time.Minute}

	var pinged bool
	RunPingSweep(now, []PingTarget{target}, func(PingTarget) { pinged = true }, func(PingTarget, string) {
		t.Fatal("should not exit a client on the first missed interval")
	})

	if !pinged {
		t.Fatal("expected a PING to be sent")
	}
	if !target.PingSent() {
		t.Fatal("expected PingSent to be set true")
	}
}

func TestRunPingSweepExitsOnSecondMiss(t *testing.T) {
	now := time.Now()
	target := &fakePingTarget{
		name:         "alice",
		lastActivity: now.Add(-3 * time.Minute),
		freq:         time.Minute,
		pingSent:     true,
	}

	var exited bool
	RunPingSweep(now, []PingTarget{target},
		func(PingTarget) { t.Fatal("should not send a second PING before exiting") },
		func(PingTarget, string) { exited = true },
	)

	if !exited {
		t.Fatal("expected the client to be exited after missing two intervals")
	}
}

func TestRunPingSweepSkipsStillActiveClient(t *testing.T) {
	now := time.Now()
	target := &fakePingTarget{name: "alice", lastActivity: now, freq: time.Minute}

	RunPingSweep(now, []PingTarget{target},
		func(PingTarget) { t.Fatal("should not ping an active client") },
		func(PingTarget, string) { t.Fatal("should not exit an active client") },
	)
}

type fakeUnknownTarget struct {
	connectedAt time.Time
	isServer    bool
}

func (f *fakeUnknownTarget) ConnectedAt() time.Time  { return f.connectedAt }
func (f *fakeUnknownTarget) IsCandidateServer() bool { return f.isServer }

func TestRunUnknownSweepExitsPastDefaultTimeout(t *testing.T) {
	now := time.Now()
	target := &fakeUnknownTarget{connectedAt: now.Add(-31 * time.Second)}

	var exited bool
	RunUnknownSweep(now, []UnknownTarget{target}, 0, func(UnknownTarget) { exited = true })
	if !exited {
		t.Fatal("expected an unregistered connection past 30s to be exited")
	}
}

func TestRunUnknownSweepUsesServerConnectTimeout(t *testing.T) {
	now := time.Now()
	target := &fakeUnknownTarget{connectedAt: now.Add(-20 * time.Second), isServer: true}

	var exited bool
	RunUnknownSweep(now, []UnknownTarget{target}, 10*time.Second, func(UnknownTarget) { exited = true })
	if !exited {
		t.Fatal("expected a candidate server past its class connect timeout to be exited")
	}
}

func TestRunUnknownSweepSkipsFreshConnection(t *testing.T) {
	now := time.Now()
	target := &fakeUnknownTarget{connectedAt: now}

	RunUnknownSweep(now, []UnknownTarget{target}, 0, func(UnknownTarget) {
		t.Fatal("should not exit a fresh connection")
	})
}
