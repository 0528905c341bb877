// Package stats implements the process-wide counters described in spec
// 4.J: accepts, refusals, commands, bytes, auth/SASL outcomes, and so on.
// irc/server owns the single Counters value; of its counters, only Accepts
// is incremented there (in AcceptConnection).
package stats

import "sync/atomic"

// Counters is a single process-wide struct of counters (spec 4.J). Every
// field is accessed via atomic add/load so it can be touched from the DNS/
// ident/DNSBL callback goroutines without a separate lock.
type Counters struct {
	Accepts          uint64
	RefusedAccepts   uint64
	UnknownCommands  uint64
	EmptyMessages    uint64
	Collisions       uint64
	Kills            uint64

	BytesSentLocal      uint64
	BytesSentServer     uint64
	BytesReceivedLocal  uint64
	BytesReceivedServer uint64

	ConnectionSecondsLocal  uint64
	ConnectionSecondsServer uint64

	AuthSuccesses uint64
	AuthFailures  uint64
	SASLSuccesses uint64
	SASLFailures  uint64

	TargetChangeBlocks uint64
}

func (c *Counters) IncAccepts()          { atomic.AddUint64(&c.Accepts, 1) }
func (c *Counters) IncRefusedAccepts()   { atomic.AddUint64(&c.RefusedAccepts, 1) }
func (c *Counters) IncUnknownCommands()  { atomic.AddUint64(&c.UnknownCommands, 1) }
func (c *Counters) IncEmptyMessages()    { atomic.AddUint64(&c.EmptyMessages, 1) }
func (c *Counters) IncCollisions()       { atomic.AddUint64(&c.Collisions, 1) }
func (c *Counters) IncKills()            { atomic.AddUint64(&c.Kills, 1) }
func (c *Counters) AddBytesSentLocal(n uint64)      { atomic.AddUint64(&c.BytesSentLocal, n) }
func (c *Counters) AddBytesSentServer(n uint64)     { atomic.AddUint64(&c.BytesSentServer, n) }
func (c *Counters) AddBytesReceivedLocal(n uint64)  { atomic.AddUint64(&c.BytesReceivedLocal, n) }
func (c *Counters) AddBytesReceivedServer(n uint64) { atomic.AddUint64(&c.BytesReceivedServer, n) }
func (c *Counters) AddConnSecondsLocal(n uint64)    { atomic.AddUint64(&c.ConnectionSecondsLocal, n) }
func (c *Counters) AddConnSecondsServer(n uint64)   { atomic.AddUint64(&c.ConnectionSecondsServer, n) }
func (c *Counters) IncAuthSuccesses() { atomic.AddUint64(&c.AuthSuccesses, 1) }
func (c *Counters) IncAuthFailures()  { atomic.AddUint64(&c.AuthFailures, 1) }
func (c *Counters) IncSASLSuccesses() { atomic.AddUint64(&c.SASLSuccesses, 1) }
func (c *Counters) IncSASLFailures()  { atomic.AddUint64(&c.SASLFailures, 1) }
func (c *Counters) IncTargetChangeBlocks() { atomic.AddUint64(&c.TargetChangeBlocks, 1) }

// Snapshot is a point-in-time read, used by the observability surface
// (spec 2 "Server stats counters ... Share 5%, read by observability
// surface") and the optional MySQL audit sink (irc/stats/audit.go).
type Snapshot struct {
	Accepts, RefusedAccepts, UnknownCommands, EmptyMessages, Collisions, Kills uint64
	BytesSentLocal, BytesSentServer, BytesReceivedLocal, BytesReceivedServer   uint64
	ConnectionSecondsLocal, ConnectionSecondsServer                           uint64
	AuthSuccesses, AuthFailures, SASLSuccesses, SASLFailures                   uint64
	TargetChangeBlocks                                                       uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Accepts:                 atomic.LoadUint64(&c.Accepts),
		RefusedAccepts:          atomic.LoadUint64(&c.RefusedAccepts),
		UnknownCommands:         atomic.LoadUint64(&c.UnknownCommands),
		EmptyMessages:           atomic.LoadUint64(&c.EmptyMessages),
		Collisions:              atomic.LoadUint64(&c.Collisions),
		Kills:                   atomic.LoadUint64(&c.Kills),
		BytesSentLocal:          atomic.LoadUint64(&c.BytesSentLocal),
		BytesSentServer:         atomic.LoadUint64(&c.BytesSentServer),
		BytesReceivedLocal:      atomic.LoadUint64(&c.BytesReceivedLocal),
		BytesReceivedServer:     atomic.LoadUint64(&c.BytesReceivedServer),
		ConnectionSecondsLocal:  atomic.LoadUint64(&c.ConnectionSecondsLocal),
		ConnectionSecondsServer: atomic.LoadUint64(&c.ConnectionSecondsServer),
		AuthSuccesses:           atomic.LoadUint64(&c.AuthSuccesses),
		AuthFailures:            atomic.LoadUint64(&c.AuthFailures),
		SASLSuccesses:           atomic.LoadUint64(&c.SASLSuccesses),
		SASLFailures:            atomic.LoadUint64(&c.SASLFailures),
		TargetChangeBlocks:      atomic.LoadUint64(&c.TargetChangeBlocks),
	}
}
