// Package server wires every core subsystem together: listeners, the
// client/server registries, the connection pipeline, the server mesh, and
// the periodic scheduler (spec 3 "a single runtime context").
package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/embercd/embercd/irc/burst"
	"github.com/embercd/embercd/irc/caps"
	"github.com/embercd/embercd/irc/class"
	"github.com/embercd/embercd/irc/client"
	"github.com/embercd/embercd/irc/confstore"
	"github.com/embercd/embercd/irc/config"
	"github.com/embercd/embercd/irc/exit"
	"github.com/embercd/embercd/irc/logger"
	"github.com/embercd/embercd/irc/pipeline"
	"github.com/embercd/embercd/irc/registry"
	"github.com/embercd/embercd/irc/scheduler"
	"github.com/embercd/embercd/irc/serverlink"
	"github.com/embercd/embercd/irc/stats"
)

// Server is the single runtime context every component hangs off of
// (spec 3's "global mutable state... as members of a top-level context
// value").
type Server struct {
	mu sync.RWMutex

	Name string
	SID  string
	Info string
	ctime time.Time

	cfg    *config.Config
	log    *logger.Manager
	stats  *stats.Counters
	classes *class.Manager
	confs  *confstore.Store
	clients *registry.Registry
	uids   *registry.UIDGenerator

	exits *exit.Registry
	sched *scheduler.Scheduler
	queue *serverlink.Queue

	peers map[string]*peerLink

	rehashCh  chan struct{}
	motdCh    chan struct{}
	banfileCh chan struct{}
	shutdownCh chan string

	listeners []net.Listener
}

// peerLink adapts a registered server-status Client into the propagation
// and burst Peer interfaces.
type peerLink struct {
	client *client.Client
	caps   caps.Set
	conn   net.Conn
}

func (p *peerLink) Caps() caps.Set { return p.caps }
func (p *peerLink) Name() string   { return p.client.Nick() }
func (p *peerLink) SendLine(line string) {
	if p.client.Local != nil {
		p.client.Local.Enqueue([]byte(line + "\r\n"))
		p.client.Local.Flush()
	}
}

// New builds a Server from a loaded configuration, wiring every subsystem
// package together the way main.go expects (spec 3, 4).
func New(cfg *config.Config, log *logger.Manager) (*Server, error) {
	s := &Server{
		Name:       cfg.Network.Name,
		SID:        cfg.Network.SID,
		Info:       cfg.Network.Info,
		ctime:      time.Now().UTC(),
		cfg:        cfg,
		log:        log,
		stats:      &stats.Counters{},
		classes:    cfg.BuildClasses(),
		confs:      confstore.NewStore(),
		clients:    registry.New(),
		peers:      make(map[string]*peerLink),
		exits:      exit.NewRegistry(),
		sched:      scheduler.New(1 * time.Second),
		queue:      serverlink.NewQueue(),
		rehashCh:   make(chan struct{}, 1),
		motdCh:     make(chan struct{}, 1),
		banfileCh:  make(chan struct{}, 1),
		shutdownCh: make(chan string, 1),
	}

	uids, err := registry.NewUIDGenerator(s.SID, s.clients.HasUID)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.uids = uids

	s.loadAuthBlocks(cfg)
	s.loadServerLinks(cfg)
	s.scheduleSweeps()

	return s, nil
}

func (s *Server) loadAuthBlocks(cfg *config.Config) {
	for _, a := range cfg.Auth {
		item := &confstore.ConfItem{
			Kind:        confstore.KindAuth,
			UserPattern: a.User,
			HostPattern: a.Host,
			Passwd:      a.Password,
			ClassName:   a.Class,
			Created:     time.Now(),
		}
		if a.Encrypted {
			item.Flags |= confstore.FlagEncrypted
		}
		if a.RequireTLS {
			item.Flags |= confstore.FlagRequireTLS
		}
		if a.RequireSASL {
			item.Flags |= confstore.FlagRequireSASL
		}
		if a.RequireIdent {
			item.Flags |= confstore.FlagRequireIdent
		}
		if a.NoTilde {
			item.Flags |= confstore.FlagNoTilde
		}
		if a.ExemptLimits {
			item.Flags |= confstore.FlagExemptLimits
		}
		if a.KlineExempt {
			item.Flags |= confstore.FlagKlineExempt
		}
		if a.RedirectServer != "" {
			item.Flags |= confstore.FlagRedirect
			item.RedirectServer = a.RedirectServer
			item.RedirectPort = a.RedirectPort
		}
		s.confs.Install(item)
	}
}

func (s *Server) loadServerLinks(cfg *config.Config) {
	for _, link := range cfg.Servers {
		if !link.AutoConnect {
			continue
		}
		s.queue.Add(&serverlink.Candidate{
			Name:      link.Name,
			Host:      link.Host,
			Port:      link.Port,
			VHost:     link.VHost,
			ClassName: link.Class,
			Hold:      30 * time.Second,
		})
	}
}

// scheduleSweeps wires every cadence from spec 4.I onto the scheduler.
func (s *Server) scheduleSweeps() {
	s.sched.Add(&scheduler.Job{Name: "abort-sweep", Interval: scheduler.AbortSweepInterval, Run: s.sweepAborts})
	s.sched.Add(&scheduler.Job{Name: "dead-list-sweep", Interval: scheduler.DeadListSweepInterval, Run: s.sweepDeadList})
	s.sched.Add(&scheduler.Job{Name: "temp-ban-sweep", Interval: scheduler.TempBanExpireInterval, Run: s.sweepTempBans})
	s.sched.Add(&scheduler.Job{Name: "hour-tier-reorg", Interval: scheduler.HourTierReorgInterval, Run: func(now time.Time) { s.confs.SweepRebucket(confstore.TierHour, now) }})
	s.sched.Add(&scheduler.Job{Name: "day-tier-reorg", Interval: scheduler.DayTierReorgInterval, Run: func(now time.Time) { s.confs.SweepRebucket(confstore.TierDay, now) }})
	s.sched.Add(&scheduler.Job{Name: "week-tier-reorg", Interval: scheduler.WeekTierReorgInterval, Run: func(now time.Time) { s.confs.SweepRebucket(confstore.TierWeek, now) }})
	s.sched.Add(&scheduler.Job{Name: "connect-loop", Interval: 10 * time.Second, Run: s.tryNextOutboundConnect})
	s.sched.Add(&scheduler.Job{Name: "ping-sweep", Interval: scheduler.PingScanInterval, Run: s.sweepPings})
	s.sched.Add(&scheduler.Job{Name: "unknown-sweep", Interval: scheduler.ThrottleExpireInterval, Run: s.sweepUnknowns})
}

// sweepPings implements spec 4.I's "30s: Ping sweep" over every locally
// registered client.
func (s *Server) sweepPings(now time.Time) {
	mesh := &meshAdapter{s: s}
	var targets []scheduler.PingTarget
	for _, rc := range s.clients.AllClients() {
		c, ok := rc.(*client.Client)
		if !ok || !c.IsLocal() || !c.Status().IsRegistered() {
			continue
		}
		targets = append(targets, pingAdapter{c: c})
	}
	byName := make(map[string]*client.Client, len(targets))
	for _, rc := range s.clients.AllClients() {
		if c, ok := rc.(*client.Client); ok {
			byName[c.Nick()] = c
		}
	}
	scheduler.RunPingSweep(now, targets,
		func(t scheduler.PingTarget) {
			if c := byName[t.Name()]; c != nil && c.Local != nil {
				c.Local.Enqueue([]byte("PING :" + s.Name + "\r\n"))
				c.Local.Flush()
			}
		},
		func(t scheduler.PingTarget, reason string) {
			if c := byName[t.Name()]; c != nil {
				s.exits.ExitLocalClient(c, mesh, reason, false, releaseClientConnIDs(s), closeClientSocket)
			}
		},
	)
}

// sweepUnknowns implements spec 4.I's "10s: Unknown-connection timeout"
// over every not-yet-registered local connection.
func (s *Server) sweepUnknowns(now time.Time) {
	mesh := &meshAdapter{s: s}
	var targets []scheduler.UnknownTarget
	byConnectedAt := make(map[time.Time]*client.Client)
	for _, rc := range s.clients.AllClients() {
		c, ok := rc.(*client.Client)
		if !ok || !c.IsLocal() || c.Status().IsRegistered() {
			continue
		}
		targets = append(targets, unknownAdapter{c: c})
		byConnectedAt[c.Local.FirstConnect] = c
	}
	scheduler.RunUnknownSweep(now, targets, 30*time.Second, func(t scheduler.UnknownTarget) {
		if c := byConnectedAt[t.ConnectedAt()]; c != nil {
			s.exits.ExitLocalClient(c, mesh, "Connection timed out", false, releaseClientConnIDs(s), closeClientSocket)
		}
	})
}

// releaseClientConnIDs returns a releaseConnIDs callback bound to s, freeing
// every connid a client was allocated (spec 4.C).
func releaseClientConnIDs(s *Server) func(*client.Client) {
	return func(c *client.Client) {
		if c.Local == nil {
			return
		}
		for _, id := range c.Local.ConnIDs {
			s.clients.ReleaseConnID(id)
		}
	}
}

func closeClientSocket(c *client.Client, message string) {
	if c.Local != nil && c.Local.Conn != nil {
		c.Local.Conn.Close()
	}
}

func (s *Server) sweepAborts(now time.Time) {
	mesh := &meshAdapter{s: s}
	s.exits.DrainAbortList(func(c *client.Client, reason string) {
		s.log.Debug("exit", fmt.Sprintf("aborting %s: %s", c.Nick(), reason))
		s.exits.ExitLocalClient(c, mesh, reason, false, releaseClientConnIDs(s), closeClientSocket)
	})
}

func (s *Server) sweepDeadList(now time.Time) {
	s.exits.DrainDeadList(func(c *client.Client) {
		s.clients.RemoveClient(c)
	})
}

func (s *Server) sweepTempBans(now time.Time) {
	for _, b := range s.confs.SweepMin(now) {
		s.confs.Delete(b)
	}
	expired, deactivated := s.confs.SweepPropagated(now)
	for _, b := range expired {
		s.confs.Delete(b)
	}
	_ = deactivated
}

func (s *Server) tryNextOutboundConnect(now time.Time) {
	cand := s.queue.Next(now, func(className string) bool {
		cls := s.classes.Get(className)
		return cls != nil && cls.MaxTotal >= 0 && cls.Total() >= cls.MaxTotal
	})
	if cand == nil {
		return
	}
	s.log.Info("serverlink", fmt.Sprintf("connecting to %s (%s:%d)", cand.Name, cand.Host, cand.Port))
}

// Peers snapshots the current peer set for meshAdapter to iterate (spec 5
// ordering guarantee 3: safe iteration).
func (s *Server) Peers() []*peerLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*peerLink, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// BurstTo streams this server's state to a freshly-linked peer in the
// fixed order spec 4.G requires.
func (s *Server) BurstTo(p *peerLink) {
	sender := &burst.Sender{Peer: p, MyName: s.Name, MyServerID: s.SID}
	sender.SendPropagatedBans(s.propagatedBans(), time.Now())
	sender.SendUsers(s.userSnapshots())
	sender.SendChannels(nil) // channel subsystem is out of this core's scope (spec 1 Non-goals)
	sender.FinishBurst()
}

func (s *Server) propagatedBans() []*confstore.ConfItem {
	return s.confs.PropagatedSnapshot()
}

func (s *Server) userSnapshots() []burst.UserSnapshot {
	var out []burst.UserSnapshot
	for _, rc := range s.clients.AllClients() {
		c, ok := rc.(*client.Client)
		if !ok || !c.IsLocal() {
			continue
		}
		out = append(out, burst.UserSnapshot{
			UID:         c.UID(),
			Nick:        c.Nick(),
			Username:    c.Username(),
			Host:        c.OrigHost(),
			VisibleHost: c.VisibleHost(),
			IP:          c.IP().String(),
			Realname:    c.Realname(),
			TSInfo:      c.TSInfo(),
			AccountName: "",
		})
	}
	return out
}

// AcceptConnection starts the pre-registration pipeline for a freshly
// accepted socket (spec 4.D).
func (s *Server) AcceptConnection(conn net.Conn) {
	s.stats.IncAccepts()
	c := client.New()
	c.Local = client.NewLocalClient(conn)
	c.Pre = &client.PreClient{}
	c.SetStatus(client.StatusUnknown)

	driver := pipeline.NewDriver(c, pipeline.NewNetResolver())
	driver.IdentEnabled = true
	for _, bl := range s.cfg.DNSBLs {
		driver.DNSBLConfigs = append(driver.DNSBLConfigs, pipeline.DNSBLConfig{
			Host:     bl.Host,
			Filters:  bl.ParsedFilters(),
			ReasonTmpl: bl.Reason,
			FamilyV4: bl.FamilyV4,
			FamilyV6: bl.FamilyV6,
			Exempt:   bl.Exempt,
		})
	}
	driver.OnAuthDone = func(d *pipeline.Driver) { s.finishRegistration(d) }

	driver.Start(driver.ApplyDNSResult, driver.ApplyIdentResult, driver.ApplyDNSBLResult)
}

// finishRegistration runs the registration verifier exactly once a
// connection's pre-registration substates have all cleared, then either
// promotes it to a registered client or tears it down (spec 4.D steps
// 12-16).
func (s *Server) finishRegistration(d *pipeline.Driver) {
	c := d.Client
	_, tlsConnected := c.Local.Conn.(*tls.Conn)
	deps := pipeline.VerifierDeps{
		Confs:        s.confs,
		Classes:      s.classes,
		DotsInIdent:  s.cfg.Limits.DotsInIdent,
		CountByHost:  s.countByHost,
		AllocUID:     func() string { return s.uids.Next() },
		TLSConnected: tlsConnected,
	}

	if err := pipeline.RegisterLocalUser(c, deps); err != nil {
		d.Reject()
		mesh := &meshAdapter{s: s}
		s.exits.ExitLocalClient(c, mesh, err.Error(), false, releaseClientConnIDs(s), closeClientSocket)
		return
	}

	c.SetStatus(client.StatusClient)
	s.clients.AddClient(c)
	d.Promote()
}

// countByHost implements pipeline.VerifierDeps.CountByHost over the live
// client registry (spec 4.D step 8's class-capacity checks). identMatches
// is the busiest ident sharing this host, since CountByHost isn't told
// which ident the connecting client is presenting.
func (s *Server) countByHost(hostCasefolded string) (local, global, identMatches int) {
	byIdent := make(map[string]int)
	for _, rc := range s.clients.ByHost(hostCasefolded) {
		c, ok := rc.(*client.Client)
		if !ok {
			continue
		}
		global++
		if c.IsLocal() {
			local++
		}
		byIdent[c.Username()]++
	}
	for _, n := range byIdent {
		if n > identMatches {
			identMatches = n
		}
	}
	return local, global, identMatches
}

// RequestRehash latches a HUP-triggered config rehash (spec 6 "Signals").
func (s *Server) RequestRehash() {
	select {
	case s.rehashCh <- struct{}{}:
	default:
	}
}

func (s *Server) RequestMOTDReload() {
	select {
	case s.motdCh <- struct{}{}:
	default:
	}
}

func (s *Server) RequestBanFileReload() {
	select {
	case s.banfileCh <- struct{}{}:
	default:
	}
}

// Shutdown requests a graceful stop (spec 6 "TERM/INT request graceful
// shutdown").
func (s *Server) Shutdown(message string) {
	s.sched.Stop()
	select {
	case s.shutdownCh <- message:
	default:
	}
}

// Run drives the scheduler until Shutdown is called; main.go launches
// this in its own goroutine.
func (s *Server) Run() {
	s.sched.Run(time.Now)
}
