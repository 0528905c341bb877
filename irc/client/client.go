package client

import (
	"net"
	"sync"

	"github.com/embercd/embercd/irc/caps"
	"github.com/embercd/embercd/irc/casefold"
	"github.com/embercd/embercd/irc/confstore"
)

// Client represents any peer: a pre-registration connection, a local user,
// a local server, a remote user, a remote server, or the self-node (spec 3).
type Client struct {
	mu sync.RWMutex

	nickname string
	uid      string // 9-char, immutable once assigned

	username    string
	visibleHost string
	origHost    string // pre-spoof
	sockHost    string // numeric fallback
	ip          net.IP
	realname    string
	modes       string // user mode letters, set at registration (spec 4.D step 14)

	tsInfo int64

	status Status
	caps   caps.Set

	from    *Client // directly-connected upstream server, or self
	servPtr *Client // parent server
	hop     int

	Local  *LocalClient // non-nil iff locally connected
	Pre    *PreClient   // non-nil only during pre-registration
	Server *ServerTable // non-nil iff status == StatusServer
	User   *UserTable   // non-nil iff a registered user (refcounted)
}

// New creates a freshly-accepted Client in StatusUnknown, on the caller's
// unknown_list (spec 3 "Lifecycle summary").
func New() *Client {
	return &Client{status: StatusUnknown}
}

func (c *Client) UID() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.uid }
func (c *Client) SetUID(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != "" {
		panic("client: UID is immutable once assigned")
	}
	c.uid = uid
}

func (c *Client) Nick() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.nickname }
func (c *Client) SetNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nickname = nick
}
func (c *Client) NickCasefolded() string { return casefold.Name(c.Nick()) }

func (c *Client) OrigHost() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.origHost }
func (c *Client) SetOrigHost(h string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.origHost = h
}
func (c *Client) OrigHostCasefolded() string { return casefold.Name(c.OrigHost()) }

func (c *Client) VisibleHost() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.visibleHost }
func (c *Client) SetVisibleHost(h string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visibleHost = h
}

func (c *Client) SockHost() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.sockHost }
func (c *Client) SetSockHost(h string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sockHost = h
}

func (c *Client) Username() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.username }
func (c *Client) SetUsername(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = u
}

func (c *Client) Modes() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.modes }
func (c *Client) SetModes(m string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = m
}

func (c *Client) Realname() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.realname }
func (c *Client) SetRealname(r string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realname = r
}

func (c *Client) IP() net.IP { c.mu.RLock(); defer c.mu.RUnlock(); return c.ip }
func (c *Client) SetIP(ip net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ip = ip
}

func (c *Client) TSInfo() int64 { c.mu.RLock(); defer c.mu.RUnlock(); return c.tsInfo }
func (c *Client) SetTSInfo(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tsInfo = ts
}

func (c *Client) Status() Status { c.mu.RLock(); defer c.mu.RUnlock(); return c.status }
func (c *Client) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *Client) Caps() caps.Set { c.mu.RLock(); defer c.mu.RUnlock(); return c.caps }
func (c *Client) SetCaps(s caps.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps = s
}

// From is the directly-connected server this client is behind, or the self
// client for locally-introduced clients (spec 3 invariant: "from is always a
// directly-connected server or self").
func (c *Client) From() *Client { c.mu.RLock(); defer c.mu.RUnlock(); return c.from }
func (c *Client) SetFrom(f *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.from = f
}

func (c *Client) ServPtr() *Client { c.mu.RLock(); defer c.mu.RUnlock(); return c.servPtr }
func (c *Client) SetServPtr(s *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servPtr = s
}

func (c *Client) HopCount() int { c.mu.RLock(); defer c.mu.RUnlock(); return c.hop }
func (c *Client) SetHopCount(h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hop = h
}

// IsLocal reports whether this client is locally connected.
func (c *Client) IsLocal() bool { return c.Local != nil }

// EnsureServerTable lazily allocates the Server side-table, enforcing the
// spec 3 invariant that a server-status client always has one.
func (c *Client) EnsureServerTable() *ServerTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Server == nil {
		c.Server = &ServerTable{}
	}
	return c.Server
}

// EnsureUserTable lazily allocates the refcounted User side-table.
func (c *Client) EnsureUserTable() *UserTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.User == nil {
		c.User = &UserTable{refcount: 1}
	} else {
		c.User.refcount++
	}
	return c.User
}

// AllNickmasks returns nick!user@host masks for every hostname form this
// client is known by (visible, original, socket), used by K-line checks
// that must catch bans on any of them (spec 4.D step 10 analog, teacher's
// tryRegister calling c.AllNickmasks()).
func (c *Client) AllNickmasks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nick, user := c.nickname, c.username
	seen := map[string]bool{}
	var out []string
	for _, h := range []string{c.visibleHost, c.origHost, c.sockHost} {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, nick+"!"+user+"@"+h)
	}
	return out
}

// ServerTable is the Server side-table (spec 3).
type ServerTable struct {
	mu       sync.Mutex
	Children []*Client
	Users    []*Client
	FullCaps string
	NameInfo string // key into the server-name cache
	By       string // oper name that initiated /CONNECT
	Acting   *Client
}

func (s *ServerTable) AddChild(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Children = append(s.Children, c)
}

func (s *ServerTable) RemoveChild(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.Children {
		if o == c {
			s.Children = append(s.Children[:i], s.Children[i+1:]...)
			return
		}
	}
}

func (s *ServerTable) AddUser(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users = append(s.Users, c)
}

func (s *ServerTable) RemoveUser(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.Users {
		if o == c {
			s.Users = append(s.Users[:i], s.Users[i+1:]...)
			return
		}
	}
}

// ChildrenSnapshot and UsersSnapshot return safe-to-iterate copies, per
// spec 5 ordering guarantee 3 ("safe-iteration (snapshot or next-pointer-
// first) over any list that callbacks may mutate").
func (s *ServerTable) ChildrenSnapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, len(s.Children))
	copy(out, s.Children)
	return out
}

func (s *ServerTable) UsersSnapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, len(s.Users))
	copy(out, s.Users)
	return out
}

// UserTable is the registered-user side-table, refcounted so that stale
// WHOWAS history entries can keep it alive after the live Client is gone
// (spec 3).
type UserTable struct {
	mu       sync.Mutex
	refcount int

	AccountName string
	AwayMessage string
	Oper        *OperPrivileges
}

func (u *UserTable) Retain() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refcount++
}

func (u *UserTable) Release() (shouldFree bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refcount--
	return u.refcount <= 0
}

// OperPrivileges is a minimal privilege-set reference (spec 3
// "privilege-set reference").
type OperPrivileges struct {
	Name      string
	WhoisLine string
	Privs     map[string]bool
}

func (o *OperPrivileges) Has(priv string) bool {
	if o == nil {
		return false
	}
	return o.Privs[priv]
}

// AttachedAuth is a convenience accessor for LocalClient.AuthConf, exposed
// on Client so call sites don't need to nil-check Local separately from the
// conf pointer (used by the exit engine's conf-detach step, spec 5).
func (c *Client) AttachedAuth() *confstore.ConfItem {
	if c.Local == nil {
		return nil
	}
	return c.Local.AuthConf
}
