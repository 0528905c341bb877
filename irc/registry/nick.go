package registry

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// NickRegistry is the casefolded-nickname -> Client hash, plus the
// associated nick-delay ("nd") dictionary used to block reuse of a
// just-collided nickname (spec 3 "Nickname delay").
type NickRegistry struct {
	mu    sync.Mutex
	byNick map[string]Client

	delay     map[string]*list.Element // nick -> position in delayOrder
	delayOrder *list.List               // ordered by insertion == ordered by expiry
}

type ndEntry struct {
	nick   string
	expiry time.Time
}

func NewNickRegistry() *NickRegistry {
	return &NickRegistry{
		byNick:     make(map[string]Client),
		delay:      make(map[string]*list.Element),
		delayOrder: list.New(),
	}
}

func (nr *NickRegistry) Get(nickCasefolded string) Client {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	return nr.byNick[nickCasefolded]
}

// Set claims nickCasefolded for c. It fails if the nick is held by another
// live client or is still within its nick-delay window.
func (nr *NickRegistry) Set(c Client, nickCasefolded string) error {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	if existing, ok := nr.byNick[nickCasefolded]; ok && existing != c {
		return fmt.Errorf("registry: nickname %q is in use", nickCasefolded)
	}
	if el, delayed := nr.delay[nickCasefolded]; delayed {
		if time.Now().Before(el.Value.(*ndEntry).expiry) {
			return fmt.Errorf("registry: nickname %q is delayed", nickCasefolded)
		}
		nr.delayOrder.Remove(el)
		delete(nr.delay, nickCasefolded)
	}
	nr.byNick[nickCasefolded] = c
	return nil
}

func (nr *NickRegistry) Remove(c Client) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	for nick, holder := range nr.byNick {
		if holder == c {
			delete(nr.byNick, nick)
		}
	}
}

// Delay reserves nickCasefolded so it cannot be reused until expiry, used
// when a nick collision causes a nick kill (spec 3 "nd dictionary").
func (nr *NickRegistry) Delay(nickCasefolded string, delay time.Duration) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	delete(nr.byNick, nickCasefolded)
	if el, ok := nr.delay[nickCasefolded]; ok {
		nr.delayOrder.Remove(el)
	}
	el := nr.delayOrder.PushBack(&ndEntry{nick: nickCasefolded, expiry: time.Now().Add(delay)})
	nr.delay[nickCasefolded] = el
}

// ExpireDelays walks the delay list in insertion (== monotonic expiry)
// order and removes every entry whose expiry has passed, stopping at the
// first entry that hasn't (spec 3 invariant: "entries are expired in
// insertion order").
func (nr *NickRegistry) ExpireDelays(now time.Time) (expired []string) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	for {
		front := nr.delayOrder.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*ndEntry)
		if entry.expiry.After(now) {
			break
		}
		nr.delayOrder.Remove(front)
		delete(nr.delay, entry.nick)
		expired = append(expired, entry.nick)
	}
	return expired
}

// IsDelayed reports whether nickCasefolded is currently held by the delay
// dictionary.
func (nr *NickRegistry) IsDelayed(nickCasefolded string) bool {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	el, ok := nr.delay[nickCasefolded]
	return ok && time.Now().Before(el.Value.(*ndEntry).expiry)
}
