package server

import (
	"net"
	"testing"
	"time"

	"github.com/embercd/embercd/irc/class"
	"github.com/embercd/embercd/irc/client"
	"github.com/embercd/embercd/irc/config"
	"github.com/embercd/embercd/irc/logger"
	"github.com/embercd/embercd/irc/pipeline"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Network: config.NetworkConfig{Name: "irc.test.org", SID: "42X", Info: "test network"},
	}
	log, err := logger.NewManager(logger.Config{})
	if err != nil {
		t.Fatalf("logger.NewManager: %v", err)
	}
	s, err := New(cfg, log)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return s
}

func registerLocalClient(s *Server, nick string, idle time.Duration, pingSent bool) *client.Client {
	c := client.New()
	c.SetNick(nick)
	c.SetUID(nick + "UID")
	c.SetStatus(client.StatusClient)
	c.Local = client.NewLocalClient(nil)
	c.Local.LastActivity = time.Now().Add(-idle)
	c.Local.PingSent = pingSent
	s.clients.AddClient(c)
	return c
}

func TestSweepPingsSendsPingToIdleClient(t *testing.T) {
	s := newTestServer(t)
	registerLocalClient(s, "alice", 3*time.Minute, false)

	s.sweepPings(time.Now())

	c := s.clients.ByUID("aliceUID")
	if c == nil {
		t.Fatal("expected alice to remain connected after only one missed ping interval")
	}
	cc := c.(*client.Client)
	if !cc.Local.PingSent {
		t.Fatal("expected PingSent to be set after sweepPings")
	}
}

func TestSweepPingsExitsUnresponsiveClient(t *testing.T) {
	s := newTestServer(t)
	registerLocalClient(s, "bob", 5*time.Minute, true)

	s.sweepPings(time.Now())

	if s.clients.ByUID("bobUID") != nil {
		t.Fatal("expected bob to be unlinked after missing two ping intervals")
	}
}

func TestSweepUnknownsExitsStaleConnection(t *testing.T) {
	s := newTestServer(t)
	c := client.New()
	c.SetNick("unk")
	c.SetUID("unkUID")
	c.SetStatus(client.StatusUnknown)
	c.Local = client.NewLocalClient(nil)
	c.Local.FirstConnect = time.Now().Add(-time.Minute)
	s.clients.AddClient(c)

	s.sweepUnknowns(time.Now())

	if s.clients.ByUID("unkUID") != nil {
		t.Fatal("expected the stale unregistered connection to be exited")
	}
}

func TestSweepUnknownsSkipsFreshConnection(t *testing.T) {
	s := newTestServer(t)
	c := client.New()
	c.SetNick("fresh")
	c.SetUID("freshUID")
	c.SetStatus(client.StatusUnknown)
	c.Local = client.NewLocalClient(nil)
	c.Local.FirstConnect = time.Now()
	s.clients.AddClient(c)

	s.sweepUnknowns(time.Now())

	if s.clients.ByUID("freshUID") == nil {
		t.Fatal("expected a fresh unregistered connection to survive the sweep")
	}
}

func TestAcceptConnectionRunsVerifierOnceSubstatesClear(t *testing.T) {
	cfg := &config.Config{
		Network: config.NetworkConfig{Name: "irc.test.org", SID: "42X", Info: "test network"},
		Auth:    []config.AuthBlockConfig{{User: "*", Host: "*", Class: "users"}},
	}
	log, err := logger.NewManager(logger.Config{})
	if err != nil {
		t.Fatalf("logger.NewManager: %v", err)
	}
	s, err := New(cfg, log)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	cls := class.New("users")
	cls.MaxTotal = 10
	s.classes.Put(cls)

	c := client.New()
	c.Pre = &client.PreClient{}
	c.Local = client.NewLocalClient(nil)
	c.SetIP(net.ParseIP("1.2.3.4"))
	c.SetOrigHost("1.2.3.4")
	c.SetUsername("alice")
	c.SetRealname("Alice")
	c.SetStatus(client.StatusUnknown)

	driver := pipeline.NewDriver(c, pipeline.NewNetResolver())
	calls := 0
	driver.OnAuthDone = func(d *pipeline.Driver) {
		calls++
		s.finishRegistration(d)
	}

	driver.ApplyDNSResult(pipeline.DNSResult{Fallback: true})
	driver.ApplyIdentResult(pipeline.IdentResult{Failed: true})

	if calls != 1 {
		t.Fatalf("expected OnAuthDone to fire exactly once, fired %d times", calls)
	}
	if driver.Phase() != pipeline.PhaseReady {
		t.Fatalf("Phase() = %v, want PhaseReady", driver.Phase())
	}
	if s.clients.ByUID(c.UID()) == nil {
		t.Fatal("expected the registered client to be added to the registry")
	}
}

func TestBurstToStreamsUsersThenFinishes(t *testing.T) {
	s := newTestServer(t)
	c := registerLocalClient(s, "alice", 0, false)
	c.SetIP(net.ParseIP("1.2.3.4"))
	c.SetUsername("alice")
	c.SetRealname("Alice")

	peer := &peerLink{client: &client.Client{}}
	lines := captureBurstLines(s, peer)

	if len(lines) < 2 {
		t.Fatalf("expected at least a UID line and a finishing PING, got %v", lines)
	}
	last := lines[len(lines)-1]
	if last[:4] != "PING" {
		t.Fatalf("last line = %q, want a PING completing the burst", last)
	}
}

// captureBurstLines runs BurstTo against a peer whose connection is a net.Pipe,
// draining every line written so the test can inspect them.
func captureBurstLines(s *Server, p *peerLink) []string {
	serverSide, clientSide := net.Pipe()
	p.client.Local = client.NewLocalClient(serverSide)

	var lines []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := clientSide.Read(buf)
			if n > 0 {
				lines = append(lines, splitCRLF(string(buf[:n]))...)
			}
			if err != nil {
				return
			}
		}
	}()

	s.BurstTo(p)
	clientSide.Close()
	serverSide.Close()
	<-done
	return lines
}

func splitCRLF(s string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '\r' && s[i+1] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 2
		}
	}
	return out
}
