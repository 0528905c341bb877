// Package class implements per-class capacity policy and the CIDR-bucket
// limiter described in spec 3 ("Class") and 4.E. It is grounded on
// charybdis's src/class.c, adapted from a flat per-class struct into a
// small Go type with its own CIDR tree.
package class

import (
	"errors"
	"net"
	"sync"
	"time"
)

var ErrBucketFull = errors.New("class: CIDR bucket full")
var ErrClassFull = errors.New("class: max-total exceeded")

// Class is a named capacity policy (spec 3).
type Class struct {
	Name string

	MaxTotal         int // -1 marks the class for deletion once drained
	MaxLocalPerIP    int
	MaxGlobalPerIP   int
	MaxPerIdent      int
	MaxSendQ         int64
	ConnectFrequency time.Duration
	PingFrequency    time.Duration

	CIDRBitsV4 int
	CIDRBitsV6 int
	CIDRAmount int

	mu      sync.Mutex
	current int
	tree    map[string]int // masked-address string -> attached count
}

func New(name string) *Class {
	return &Class{Name: name, tree: make(map[string]int)}
}

// MarkedForDeletion reports whether this class is pending removal once its
// last member detaches (spec 4.E, MaxTotal == -1).
func (c *Class) MarkedForDeletion() bool { return c.MaxTotal == -1 }

// Total is the current count of attached clients (spec 8 invariant 4).
func (c *Class) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Class) bucketKeyFor(ip net.IP) string {
	bits := c.CIDRBitsV4
	addr := ip.To4()
	if addr == nil {
		addr = ip.To16()
		bits = c.CIDRBitsV6
	}
	if bits <= 0 {
		return ""
	}
	mask := net.CIDRMask(bits, len(addr)*8)
	return addr.Mask(mask).String()
}

// Attach attempts to add a client with the given IP to this class. It
// enforces MaxTotal and the CIDR-bucket amount; on success it increments
// both the total and the bucket's count (spec 4.C "Per-client IP-limit
// bookkeeping", 4.E).
func (c *Class) Attach(ip net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.MaxTotal >= 0 && c.current+1 > c.MaxTotal {
		return ErrClassFull
	}

	key := c.bucketKeyFor(ip)
	if key != "" && c.CIDRAmount > 0 {
		if c.tree[key]+1 > c.CIDRAmount {
			return ErrBucketFull
		}
	}

	c.current++
	if key != "" {
		c.tree[key]++
	}
	return nil
}

// Detach removes a client with the given IP from this class, deleting the
// bucket node when it reaches zero (spec 4.E).
func (c *Class) Detach(ip net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current > 0 {
		c.current--
	}
	key := c.bucketKeyFor(ip)
	if key == "" {
		return
	}
	if n, ok := c.tree[key]; ok {
		if n <= 1 {
			delete(c.tree, key)
		} else {
			c.tree[key] = n - 1
		}
	}
}

// BucketCount reports the current count for the bucket containing ip (spec
// 8 invariant 5); used by tests and /STATS-style introspection.
func (c *Class) BucketCount(ip net.IP) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree[c.bucketKeyFor(ip)]
}

// Manager owns the named classes configured for this daemon.
type Manager struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

func NewManager() *Manager {
	return &Manager{classes: make(map[string]*Class)}
}

func (m *Manager) Get(name string) *Class {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.classes[name]
}

func (m *Manager) Put(c *Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.Name] = c
}

// Remove deletes a class if it's both marked for deletion and empty (spec
// 4.E: "it survives until its last member detaches").
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.classes[name]; ok && c.MarkedForDeletion() && c.Total() == 0 {
		delete(m.classes, name)
	}
}

func (m *Manager) All() []*Class {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Class, 0, len(m.classes))
	for _, c := range m.classes {
		out = append(out, c)
	}
	return out
}
