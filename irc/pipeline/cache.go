package pipeline

import (
	"net"
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// addrKey turns an IP into the byte key used by the radix trees: the raw
// address bytes (4 or 16), so that prefix operations on the tree correspond
// to CIDR prefixes of the address.
func addrKey(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return []byte(v4)
	}
	return []byte(ip.To16())
}

func prefixKey(ip net.IP, bits int) []byte {
	full := addrKey(ip)
	mask := net.CIDRMask(bits, len(full)*8)
	return []byte(net.IP(full).Mask(mask))
}

// counterEntry is the (last_time, count) pair stored per address in the
// reject and throttle trees (spec 3 "Reject / throttle / global-CIDR
// trees").
type counterEntry struct {
	lastTime time.Time
	count    int
}

// RadixCounterTree wraps an immutable radix tree with a mutex so it behaves
// like a simple mutable per-address counter store, while still getting
// iradix's prefix-walk for bulk expiry (spec 4.D, 4.I).
type RadixCounterTree struct {
	mu   sync.Mutex
	tree *iradix.Tree
}

func NewRadixCounterTree() *RadixCounterTree {
	return &RadixCounterTree{tree: iradix.New()}
}

// Bump increments the counter for ip with a sliding TTL: if the existing
// entry is older than ttl it resets to 1, otherwise it increments (spec 4.D
// "reject cache" / "throttle cache").
func (t *RadixCounterTree) Bump(ip net.IP, now time.Time, ttl time.Duration) int {
	key := addrKey(ip)
	t.mu.Lock()
	defer t.mu.Unlock()

	var entry counterEntry
	if raw, ok := t.tree.Get(key); ok {
		old := raw.(counterEntry)
		if now.Sub(old.lastTime) <= ttl {
			entry = counterEntry{lastTime: now, count: old.count + 1}
		} else {
			entry = counterEntry{lastTime: now, count: 1}
		}
	} else {
		entry = counterEntry{lastTime: now, count: 1}
	}

	txn := t.tree.Txn()
	txn.Insert(key, entry)
	t.tree = txn.Commit()
	return entry.count
}

func (t *RadixCounterTree) Count(ip net.IP) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if raw, ok := t.tree.Get(addrKey(ip)); ok {
		return raw.(counterEntry).count
	}
	return 0
}

func (t *RadixCounterTree) Reset(ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.tree.Txn()
	txn.Delete(addrKey(ip))
	t.tree = txn.Commit()
}

// ExpireOlderThan walks the whole tree and removes every entry whose
// lastTime is older than cutoff (spec 4.I "Expire throttle-tree entries").
func (t *RadixCounterTree) ExpireOlderThan(cutoff time.Time) (removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.tree.Txn()
	t.tree.Root().Walk(func(k []byte, v interface{}) bool {
		if v.(counterEntry).lastTime.Before(cutoff) {
			txn.Delete(k)
			removed++
		}
		return false
	})
	t.tree = txn.Commit()
	return removed
}

// GlobalCIDRTree maintains a per-CIDR active-connection count, used to
// enforce global per-CIDR caps (spec 3). Unlike RadixCounterTree it tracks a
// live gauge, not a TTL'd hit counter.
type GlobalCIDRTree struct {
	mu       sync.Mutex
	tree     *iradix.Tree
	bitsV4   int
	bitsV6   int
}

func NewGlobalCIDRTree(bitsV4, bitsV6 int) *GlobalCIDRTree {
	return &GlobalCIDRTree{tree: iradix.New(), bitsV4: bitsV4, bitsV6: bitsV6}
}

func (g *GlobalCIDRTree) bucketKey(ip net.IP) []byte {
	bits := g.bitsV4
	if ip.To4() == nil {
		bits = g.bitsV6
	}
	return prefixKey(ip, bits)
}

// Incr bumps the bucket containing ip and returns the new count; callers
// compare against a configured cap themselves (mirrors Class.Attach's
// pattern in irc/class, but at the global rather than per-class level).
func (g *GlobalCIDRTree) Incr(ip net.IP) int {
	key := g.bucketKey(ip)
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 1
	if raw, ok := g.tree.Get(key); ok {
		count = raw.(int) + 1
	}
	txn := g.tree.Txn()
	txn.Insert(key, count)
	g.tree = txn.Commit()
	return count
}

func (g *GlobalCIDRTree) Decr(ip net.IP) {
	key := g.bucketKey(ip)
	g.mu.Lock()
	defer g.mu.Unlock()
	raw, ok := g.tree.Get(key)
	if !ok {
		return
	}
	count := raw.(int) - 1
	txn := g.tree.Txn()
	if count <= 0 {
		txn.Delete(key)
	} else {
		txn.Insert(key, count)
	}
	g.tree = txn.Commit()
}

// DelayedExitQueue holds sockets whose close has been deferred so the
// refusal takes effect no sooner than its floor duration after being queued
// (spec 3 "Delayed-exit queue", spec 5 "Delayed-exit sockets have a
// 10-second floor").
type DelayedExitQueue struct {
	mu    sync.Mutex
	items []delayedExit
}

type delayedExit struct {
	conn    net.Conn
	message string
	readyAt time.Time
}

func NewDelayedExitQueue() *DelayedExitQueue { return &DelayedExitQueue{} }

// Push enqueues conn for a close no sooner than floor after now, having
// already written message to it (spec 4.D: refused connections get a canned
// error and are delayed >= 10s before actually freeing the socket).
func (q *DelayedExitQueue) Push(conn net.Conn, message string, now time.Time, floor time.Duration) {
	conn.Write([]byte(message))
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, delayedExit{conn: conn, message: message, readyAt: now.Add(floor)})
}

// Drain closes every entry whose floor has elapsed (spec 4.I "flush delayed-
// exit queue").
func (q *DelayedExitQueue) Drain(now time.Time) (closed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var remaining []delayedExit
	for _, it := range q.items {
		if !now.Before(it.readyAt) {
			it.conn.Close()
			closed++
		} else {
			remaining = append(remaining, it)
		}
	}
	q.items = remaining
	return closed
}
