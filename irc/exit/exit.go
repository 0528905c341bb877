// Package exit implements the five disjoint client-exit paths and the
// deferred dead-list free described in spec 4.H.
package exit

import (
	"sync"
	"time"

	"github.com/embercd/embercd/irc/client"
)

// Mesh is the subset of server bookkeeping the exit engine needs to reach
// every peer and every downstream client during a recursive SQUIT.
type Mesh interface {
	// QuitLocal emits a QUIT to every local member of c's common channels
	// (spec 4.H "emit QUIT to common-channels' local members").
	QuitLocal(c *client.Client, message string)
	// QuitToPeers propagates the QUIT (or, for a kill, relies on the kill
	// path having already notified peers and is a no-op).
	QuitToPeers(c *client.Client, message string, killed bool)
	// SquitToPeers sends one SQUIT per still-connected peer excluding the
	// originating side.
	SquitToPeers(server *client.Client, exclude *client.Client, message string)
	// LeaveAllChannels removes a user from every channel it is on,
	// destroying any that become empty.
	LeaveAllChannels(c *client.Client)
	// ClearMonitors drops the client's MONITOR subscriptions.
	ClearMonitors(c *client.Client)
	// Unlink removes c from the global client list, the UID hash, the
	// nick hash, and the hostname hash.
	Unlink(c *client.Client)
}

// Registry is the deferred-free side of the engine (spec 4.H "Always:
// ...place on dead_list").
type Registry struct {
	mu           sync.Mutex
	deadLocal    []*client.Client
	deadRemote   []*client.Client
	abortList    []abortEntry
	DebugRemote  bool
}

type abortEntry struct {
	client  *client.Client
	reason  string
	queued  time.Time
}

func NewRegistry() *Registry { return &Registry{} }

// ExitLocalClient runs the local-client path: flush, ERROR, close, release
// connids, then fall through to the always-applicable steps (spec 4.H,
// first bullet plus "Always").
func (r *Registry) ExitLocalClient(c *client.Client, mesh Mesh, message string, killed bool, releaseConnIDs func(*client.Client), closeSocket func(*client.Client, string)) {
	lc := c.Local
	if lc != nil {
		lc.Flush()
		closeSocket(c, message)
		releaseConnIDs(c)
	}
	r.exitCommon(c, mesh, message, killed)
}

// ExitRegisteredUser runs the registered-user path: leave channels, clear
// monitors, emit QUIT (spec 4.H second bullet).
func (r *Registry) ExitRegisteredUser(c *client.Client, mesh Mesh, message string, killed bool) {
	mesh.LeaveAllChannels(c)
	mesh.ClearMonitors(c)
	mesh.QuitLocal(c, message)
	mesh.QuitToPeers(c, message, killed)
}

// ExitServer runs recurse_remove_clients followed by per-peer SQUIT (spec
// 4.H third bullet). nickDelay is invoked instead of emitting QUIT for
// each dependent user when nick-delay is configured for that user.
func (r *Registry) ExitServer(server *client.Client, mesh Mesh, message string, originating *client.Client, nickDelayConfigured bool, nickDelay func(*client.Client)) {
	r.recurseRemoveClients(server, mesh, message, nickDelayConfigured, nickDelay)
	mesh.SquitToPeers(server, originating, message)
	r.exitCommon(server, mesh, message, false)
}

// recurseRemoveClients walks the server's user list and server list
// depth-first (spec 4.H "walk the server's user list and server list
// depth-first").
func (r *Registry) recurseRemoveClients(server *client.Client, mesh Mesh, message string, nickDelayConfigured bool, nickDelay func(*client.Client)) {
	tbl := server.Server
	if tbl == nil {
		return
	}
	for _, u := range tbl.UsersSnapshot() {
		if nickDelayConfigured && nickDelay != nil {
			nickDelay(u)
		} else {
			mesh.QuitLocal(u, message)
			mesh.QuitToPeers(u, message, false)
		}
		mesh.Unlink(u)
	}
	for _, child := range tbl.ChildrenSnapshot() {
		r.recurseRemoveClients(child, mesh, message, nickDelayConfigured, nickDelay)
		mesh.Unlink(child)
	}
}

// exitCommon runs the "Always" steps shared by every exit path: unlink and
// queue onto the dead list (spec 4.H "Always: unlink ... place on
// dead_list").
func (r *Registry) exitCommon(c *client.Client, mesh Mesh, message string, killed bool) {
	mesh.Unlink(c)
	r.mu.Lock()
	if r.DebugRemote && !c.IsLocal() {
		r.deadRemote = append(r.deadRemote, c)
	} else {
		r.deadLocal = append(r.deadLocal, c)
	}
	r.mu.Unlock()
}

// DrainDeadList frees everything queued by exitCommon; it is meant to be
// invoked by the 4-second scheduler tick (spec 4.I).
func (r *Registry) DrainDeadList(free func(*client.Client)) (freed int) {
	r.mu.Lock()
	local := r.deadLocal
	remote := r.deadRemote
	r.deadLocal = nil
	r.deadRemote = nil
	r.mu.Unlock()

	for _, c := range local {
		free(c)
		freed++
	}
	for _, c := range remote {
		free(c)
		freed++
	}
	return freed
}

// AppendAbort queues a client for exit because of a write error during
// arbitrary processing, rather than exiting it re-entrantly (spec 4.H
// "Split-from-write").
func (r *Registry) AppendAbort(c *client.Client, reason string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.abortList {
		if e.client == c {
			return
		}
	}
	r.abortList = append(r.abortList, abortEntry{client: c, reason: reason, queued: now})
}

// DrainAbortList is the 1-second sweep that actually issues the exit for
// everything AppendAbort queued (spec 4.H, 4.I "1s: Drain abort-list").
func (r *Registry) DrainAbortList(issueExit func(c *client.Client, reason string)) (drained int) {
	r.mu.Lock()
	pending := r.abortList
	r.abortList = nil
	r.mu.Unlock()

	for _, e := range pending {
		issueExit(e.client, e.reason)
		drained++
	}
	return drained
}
