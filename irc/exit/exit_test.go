package exit

import (
	"testing"
	"time"

	"github.com/embercd/embercd/irc/client"
)

type fakeMesh struct {
	quitLocalCalls    []*client.Client
	quitPeersCalls    []*client.Client
	squitCalls        []*client.Client
	leaveCalls        []*client.Client
	monitorCalls      []*client.Client
	unlinkCalls       []*client.Client
}

func (m *fakeMesh) QuitLocal(c *client.Client, message string) { m.quitLocalCalls = append(m.quitLocalCalls, c) }
func (m *fakeMesh) QuitToPeers(c *client.Client, message string, killed bool) {
	if !killed {
		m.quitPeersCalls = append(m.quitPeersCalls, c)
	}
}
func (m *fakeMesh) SquitToPeers(server *client.Client, exclude *client.Client, message string) {
	m.squitCalls = append(m.squitCalls, server)
}
func (m *fakeMesh) LeaveAllChannels(c *client.Client) { m.leaveCalls = append(m.leaveCalls, c) }
func (m *fakeMesh) ClearMonitors(c *client.Client)    { m.monitorCalls = append(m.monitorCalls, c) }
func (m *fakeMesh) Unlink(c *client.Client)           { m.unlinkCalls = append(m.unlinkCalls, c) }

func TestExitLocalClientRunsAlwaysSteps(t *testing.T) {
	r := NewRegistry()
	mesh := &fakeMesh{}
	c := client.New()
	c.Local = client.NewLocalClient(nil)

	var released, closed bool
	r.ExitLocalClient(c, mesh, "bye", false,
		func(*client.Client) { released = true },
		func(*client.Client, string) { closed = true },
	)

	if !released || !closed {
		t.Fatal("ExitLocalClient should release connids and close the socket")
	}
	if len(mesh.unlinkCalls) != 1 {
		t.Fatalf("expected Unlink to be called once, got %d", len(mesh.unlinkCalls))
	}

	freed := r.DrainDeadList(func(*client.Client) {})
	if freed != 1 {
		t.Fatalf("expected the client to land on the dead list, freed=%d", freed)
	}
}

func TestExitRegisteredUserNotifiesPeersUnlessKilled(t *testing.T) {
	r := NewRegistry()
	mesh := &fakeMesh{}
	c := client.New()

	r.ExitRegisteredUser(c, mesh, "quit message", false)
	if len(mesh.quitPeersCalls) != 1 {
		t.Fatal("a non-killed quit should propagate to peers")
	}

	mesh2 := &fakeMesh{}
	r.ExitRegisteredUser(c, mesh2, "killed", true)
	if len(mesh2.quitPeersCalls) != 0 {
		t.Fatal("a killed exit should not re-propagate a QUIT")
	}
}

func TestExitServerRecursesIntoChildrenAndUsers(t *testing.T) {
	r := NewRegistry()
	mesh := &fakeMesh{}

	leaf := client.New()
	user := client.New()

	server := client.New()
	tbl := server.EnsureServerTable()
	tbl.AddChild(leaf)
	tbl.AddUser(user)

	r.ExitServer(server, mesh, "netsplit", nil, false, nil)

	if len(mesh.squitCalls) != 1 || mesh.squitCalls[0] != server {
		t.Fatalf("expected one SQUIT for the top-level server, got %v", mesh.squitCalls)
	}
	if len(mesh.unlinkCalls) != 3 { // user, child, server itself
		t.Fatalf("expected 3 Unlink calls (user, child, server), got %d", len(mesh.unlinkCalls))
	}
}

func TestExitServerUsesNickDelayInstead(t *testing.T) {
	r := NewRegistry()
	mesh := &fakeMesh{}
	user := client.New()
	server := client.New()
	server.EnsureServerTable().AddUser(user)

	var delayed []*client.Client
	r.ExitServer(server, mesh, "netsplit", nil, true, func(c *client.Client) {
		delayed = append(delayed, c)
	})

	if len(delayed) != 1 || delayed[0] != user {
		t.Fatal("expected the user to go through nickDelay instead of a direct QUIT")
	}
	if len(mesh.quitLocalCalls) != 0 {
		t.Fatal("QuitLocal should not be called when nick-delay is configured")
	}
}

func TestAppendAbortDedupes(t *testing.T) {
	r := NewRegistry()
	c := client.New()
	now := time.Now()

	r.AppendAbort(c, "first reason", now)
	r.AppendAbort(c, "second reason", now)

	var reasons []string
	drained := r.DrainAbortList(func(c *client.Client, reason string) {
		reasons = append(reasons, reason)
	})
	if drained != 1 {
		t.Fatalf("expected AppendAbort to dedupe, drained=%d reasons=%v", drained, reasons)
	}
}

func TestDrainAbortListClearsQueue(t *testing.T) {
	r := NewRegistry()
	r.AppendAbort(client.New(), "x", time.Now())
	r.DrainAbortList(func(*client.Client, string) {})

	drained := r.DrainAbortList(func(*client.Client, string) {
		t.Fatal("abort list should be empty on the second drain")
	})
	if drained != 0 {
		t.Fatalf("expected 0 on the second drain, got %d", drained)
	}
}
