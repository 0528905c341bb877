package registry

import (
	"sync"
)

// Client is the minimal surface the registry needs from irc/client.Client to
// keep the two packages decoupled.
type Client interface {
	UID() string
	NickCasefolded() string
	OrigHostCasefolded() string
}

// ConnID is an opaque control-channel identifier (spec 3 "connection-id set").
type ConnID uint32

// Registry holds the three primary hashes (nickname, UID, original
// hostname) plus the connid allocator (spec 4.C).
type Registry struct {
	mu sync.RWMutex

	byNick *NickRegistry
	byUID  map[string]Client
	byHost map[string][]Client

	connIDs    map[ConnID]Client
	nextConnID ConnID
}

func New() *Registry {
	return &Registry{
		byNick:  NewNickRegistry(),
		byUID:   make(map[string]Client),
		byHost:  make(map[string][]Client),
		connIDs: make(map[ConnID]Client),
	}
}

// HasUID reports whether uid is currently assigned; it's the collision
// predicate passed to NewUIDGenerator.
func (r *Registry) HasUID(uid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUID[uid]
	return ok
}

// AddClient indexes c by UID and by casefolded original hostname. Nickname
// indexing goes through SetNick once registration assigns one (spec 3: UID
// is immutable and assigned before nick in most flows; nick may change).
func (r *Registry) AddClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUID[c.UID()] = c
	host := c.OrigHostCasefolded()
	r.byHost[host] = append(r.byHost[host], c)
}

func (r *Registry) RemoveClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUID, c.UID())
	host := c.OrigHostCasefolded()
	list := r.byHost[host]
	for i, o := range list {
		if o == c {
			r.byHost[host] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byHost[host]) == 0 {
		delete(r.byHost, host)
	}
	r.byNick.Remove(c)
}

func (r *Registry) ByUID(uid string) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUID[uid]
}

func (r *Registry) ByHost(hostCasefolded string) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, len(r.byHost[hostCasefolded]))
	copy(out, r.byHost[hostCasefolded])
	return out
}

func (r *Registry) ByNick(nickCasefolded string) Client {
	return r.byNick.Get(nickCasefolded)
}

func (r *Registry) SetNick(c Client, nickCasefolded string) error {
	return r.byNick.Set(c, nickCasefolded)
}

// AllocConnID returns the next free connection-id, skipping zero and any
// slot already in use (spec 4.C "Connid allocator": never yields 0, probes
// for free slots).
func (r *Registry) AllocConnID(c Client) ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.nextConnID++
		if r.nextConnID == 0 {
			r.nextConnID = 1
		}
		if _, inUse := r.connIDs[r.nextConnID]; !inUse {
			r.connIDs[r.nextConnID] = c
			return r.nextConnID
		}
	}
}

func (r *Registry) ReleaseConnID(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connIDs, id)
}

func (r *Registry) ByConnID(id ConnID) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connIDs[id]
}

// AllClients snapshots every registered client by UID, for sweep jobs that
// need to walk the full set (spec 5 ordering guarantee 3: safe iteration).
func (r *Registry) AllClients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.byUID))
	for _, c := range r.byUID {
		out = append(out, c)
	}
	return out
}
