package server

import (
	"fmt"
	"time"

	"github.com/embercd/embercd/irc/client"
)

// meshAdapter implements exit.Mesh against the real client/registry/peer
// state, keeping irc/exit decoupled from irc/server (spec 5's decoupling
// pattern: core packages take interfaces, irc/server supplies them).
type meshAdapter struct {
	s *Server
}

func (m *meshAdapter) QuitLocal(c *client.Client, message string) {
	// Channel membership is out of this core's scope (spec 1 Non-goals);
	// nothing to notify locally beyond the client's own connection.
}

func (m *meshAdapter) QuitToPeers(c *client.Client, message string, killed bool) {
	if killed {
		return
	}
	line := fmt.Sprintf(":%s QUIT :%s", c.UID(), message)
	for _, p := range m.s.Peers() {
		p.SendLine(line)
	}
}

func (m *meshAdapter) SquitToPeers(server *client.Client, exclude *client.Client, message string) {
	line := fmt.Sprintf(":%s SQUIT %s :%s", m.s.SID, server.Nick(), message)
	for _, p := range m.s.Peers() {
		if exclude != nil && p.client == exclude {
			continue
		}
		p.SendLine(line)
	}
}

func (m *meshAdapter) LeaveAllChannels(c *client.Client) {}

func (m *meshAdapter) ClearMonitors(c *client.Client) {}

func (m *meshAdapter) Unlink(c *client.Client) {
	m.s.clients.RemoveClient(c)
	m.s.mu.Lock()
	delete(m.s.peers, c.UID())
	m.s.mu.Unlock()
}

// pingAdapter implements scheduler.PingTarget against a locally-connected
// client (spec 4.I "30s: Ping sweep").
type pingAdapter struct {
	c *client.Client
}

func (p pingAdapter) LastActivity() time.Time { return p.c.Local.LastActivity }
func (p pingAdapter) PingSent() bool          { return p.c.Local.PingSent }
func (p pingAdapter) SetPingSent(sent bool)   { p.c.Local.PingSent = sent }
func (p pingAdapter) BackdateLastActivity(t time.Time) {
	p.c.Local.RecordActivity(t)
}
func (p pingAdapter) PingFrequency() time.Duration {
	if p.c.Local.Class != nil && p.c.Local.Class.PingFrequency > 0 {
		return p.c.Local.Class.PingFrequency
	}
	return 120 * time.Second
}
func (p pingAdapter) Name() string { return p.c.Nick() }

// unknownAdapter implements scheduler.UnknownTarget against a still-
// registering client (spec 4.I "10s: Unknown-connection timeout").
type unknownAdapter struct {
	c *client.Client
}

func (u unknownAdapter) ConnectedAt() time.Time    { return u.c.Local.FirstConnect }
func (u unknownAdapter) IsCandidateServer() bool   { return u.c.Local.ServerConf != nil }
