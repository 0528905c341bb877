package confstore

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/embercd/embercd/irc/matcher"
)

// Tier buckets a temporary ban by its remaining lifetime (spec 3, 4.B).
type Tier int

const (
	TierMin Tier = iota
	TierHour
	TierDay
	TierWeek
	numTiers
)

func tierFor(remaining time.Duration) Tier {
	switch {
	case remaining <= time.Minute:
		return TierMin
	case remaining <= time.Hour:
		return TierHour
	case remaining <= 24*time.Hour:
		return TierDay
	default:
		return TierWeek
	}
}

// Store owns every ConfItem's lifecycle: the matcher tables it's installed
// into, the four temp-ban tiers, and the separately-swept propagated-ban
// list (spec 4.B).
type Store struct {
	mu sync.Mutex

	matchers map[matcher.RecordType]*matcher.Table

	tempByTier [numTiers]map[*ConfItem]bool

	propagated map[propKey]*ConfItem

	MinNonWildChars int // wildcard-sufficiency threshold, spec 4.A (default 4)
}

type propKey struct {
	kind Kind
	user string
	host string
}

// NewStore builds a Store with matcher tables for every record type that
// needs one.
func NewStore() *Store {
	s := &Store{
		matchers:        make(map[matcher.RecordType]*matcher.Table),
		propagated:      make(map[propKey]*ConfItem),
		MinNonWildChars: 4,
	}
	for _, t := range []matcher.RecordType{
		matcher.TypeAuth, matcher.TypeKill, matcher.TypeDLine,
		matcher.TypeExemptDLine, matcher.TypeXLine, matcher.TypeResvNick,
		matcher.TypeResvChannel,
	} {
		s.matchers[t] = matcher.NewTable()
	}
	for i := range s.tempByTier {
		s.tempByTier[i] = make(map[*ConfItem]bool)
	}
	return s
}

func kindToType(k Kind) matcher.RecordType {
	switch k {
	case KindAuth:
		return matcher.TypeAuth
	case KindKill:
		return matcher.TypeKill
	case KindDLine:
		return matcher.TypeDLine
	case KindExemptDLine:
		return matcher.TypeExemptDLine
	case KindXLine:
		return matcher.TypeXLine
	case KindResvNick:
		return matcher.TypeResvNick
	case KindResvChannel:
		return matcher.TypeResvChannel
	default:
		return matcher.TypeAuth
	}
}

// Install adds item to the appropriate matcher table and, if it carries a
// Hold deadline without being propagated, buckets it into the correct temp
// tier.
func (s *Store) Install(item *ConfItem) {
	table := s.matchers[kindToType(item.Kind)]
	mask := item.HostPattern
	if item.CIDRBits > 0 && item.IP != "" {
		mask = fmt.Sprintf("%s/%d", item.IP, item.CIDRBits)
	}
	table.Add(mask, kindToType(item.Kind), item)

	s.mu.Lock()
	defer s.mu.Unlock()
	if item.IsTemporary() {
		tier := tierFor(time.Until(item.Hold))
		s.tempByTier[tier][item] = true
	}
	if item.IsPropagated() {
		s.propagated[propKey{item.Kind, item.UserPattern, item.HostPattern}] = item
	}
}

// InstallPropagated applies the replace-old rule (spec 4.B) before
// installing a propagated ban received from a peer or issued locally.
func (s *Store) InstallPropagated(item *ConfItem) {
	key := propKey{item.Kind, item.UserPattern, item.HostPattern}

	s.mu.Lock()
	old, exists := s.propagated[key]
	s.mu.Unlock()

	if exists {
		if item.Lifetime.Before(old.Lifetime) {
			item.Lifetime = old.Lifetime
		}
		if !item.Created.After(old.Created) {
			item.Created = old.Created.Add(time.Second)
		}
		if !item.Hold.After(item.Created) {
			item.Hold = item.Created.Add(time.Second)
		}
		if item.Lifetime.Before(item.Hold) {
			item.Lifetime = item.Hold
		}
		s.destroy(old)
	}

	s.Install(item)
}

// Delete marks item illegal, unlinks it from its matcher table, and frees it
// immediately if unreferenced (spec 4.A "Delete").
func (s *Store) Delete(item *ConfItem) {
	item.MarkIllegal()
	table := s.matchers[kindToType(item.Kind)]
	table.Delete(item)

	s.mu.Lock()
	for t := range s.tempByTier {
		delete(s.tempByTier[Tier(t)], item)
	}
	if item.IsPropagated() {
		delete(s.propagated, propKey{item.Kind, item.UserPattern, item.HostPattern})
	}
	s.mu.Unlock()

	if item.Refcount() == 0 {
		s.destroy(item)
	}
}

func (s *Store) destroy(item *ConfItem) {
	item.MarkIllegal()
	s.mu.Lock()
	for t := range s.tempByTier {
		delete(s.tempByTier[Tier(t)], item)
	}
	delete(s.propagated, propKey{item.Kind, item.UserPattern, item.HostPattern})
	s.mu.Unlock()
}

// LookupAuth probes the matcher for the highest-precedence auth record
// matching q (spec 4.D step 1).
func (s *Store) LookupAuth(q matcher.Query) *ConfItem {
	return asConfItem(s.matchers[matcher.TypeAuth].Lookup(q, matcher.TypeAuth))
}

// LookupKill probes K-lines (spec 4.D step where bans are checked, S2).
func (s *Store) LookupKill(q matcher.Query) *ConfItem {
	return asConfItem(s.matchers[matcher.TypeKill].Lookup(q, matcher.TypeKill))
}

// LookupXLine probes X-lines against a (normalized) realname (spec 4.D step
// 10).
func (s *Store) LookupXLine(realname string) *ConfItem {
	return asConfItem(s.matchers[matcher.TypeXLine].Lookup(matcher.Query{Name: realname}, matcher.TypeXLine))
}

func (s *Store) LookupResvNick(nick string) *ConfItem {
	return asConfItem(s.matchers[matcher.TypeResvNick].Lookup(matcher.Query{Name: nick}, matcher.TypeResvNick))
}

func (s *Store) LookupResvChannel(name string) *ConfItem {
	return asConfItem(s.matchers[matcher.TypeResvChannel].Lookup(matcher.Query{Name: name}, matcher.TypeResvChannel))
}

// CheckDLine implements the exempt-D-line primacy rule (spec 4.B): probe the
// exempt table first and return immediately on hit, even though the tables
// are otherwise independent.
func (s *Store) CheckDLine(ip net.IP) (banned bool, item *ConfItem) {
	q := matcher.Query{Addr: ip}
	if exempt := s.matchers[matcher.TypeExemptDLine].Lookup(q, matcher.TypeExemptDLine); exempt != nil {
		return false, nil
	}
	if dl := s.matchers[matcher.TypeDLine].Lookup(q, matcher.TypeDLine); dl != nil {
		return true, asConfItem(dl)
	}
	return false, nil
}

func asConfItem(r matcher.Record) *ConfItem {
	if r == nil {
		return nil
	}
	return r.(*ConfItem)
}

// SweepMin runs the per-minute tier sweep: expires entries whose Hold is
// past (spec 4.B).
func (s *Store) SweepMin(now time.Time) (expired []*ConfItem) {
	s.mu.Lock()
	for item := range s.tempByTier[TierMin] {
		if !item.Hold.After(now) {
			expired = append(expired, item)
		}
	}
	s.mu.Unlock()
	for _, item := range expired {
		s.Delete(item)
	}
	return expired
}

// SweepRebucket runs the HOUR/DAY/WEEK sweep for the given tier: entries
// whose remaining lifetime has dropped into a shorter tier are re-bucketed
// (spec 4.B, 4.I).
func (s *Store) SweepRebucket(tier Tier, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for item := range s.tempByTier[tier] {
		newTier := tierFor(item.Hold.Sub(now))
		if newTier != tier {
			delete(s.tempByTier[tier], item)
			s.tempByTier[newTier][item] = true
		}
	}
}

// SweepPropagated runs the independent per-minute sweep over propagated
// bans: entries whose Lifetime has passed are expired (removed entirely);
// entries whose Hold has passed but Lifetime has not are deactivated but
// keep occupying their identity so a later re-announcement is recognized as
// a collision (spec 4.B, open question in spec 9 resolved by running this on
// the same per-minute cadence as local temp-ban tiers).
func (s *Store) SweepPropagated(now time.Time) (expired []*ConfItem, deactivated []*ConfItem) {
	s.mu.Lock()
	for _, item := range s.propagated {
		if !item.Lifetime.After(now) {
			expired = append(expired, item)
		} else if !item.Hold.After(now) && item.Status() == StatusActive {
			deactivated = append(deactivated, item)
		}
	}
	s.mu.Unlock()

	for _, item := range expired {
		s.Delete(item)
	}
	for _, item := range deactivated {
		table := s.matchers[kindToType(item.Kind)]
		table.Delete(item)
		item.MarkIllegal()
		// deliberately not removed from s.propagated: it must keep
		// occupying its (kind,user,host) identity until Lifetime.
	}
	return expired, deactivated
}

// PropagatedSnapshot returns every currently-propagated ConfItem, for burst
// streaming to a freshly-linked peer (spec 4.G).
func (s *Store) PropagatedSnapshot() []*ConfItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ConfItem, 0, len(s.propagated))
	for _, item := range s.propagated {
		out = append(out, item)
	}
	return out
}

// Clear performs a bulk flush on every matcher table using the given mode
// (spec 4.A "Clear").
func (s *Store) Clear(mode matcher.ClearMode) []*ConfItem {
	var all []*ConfItem
	for _, table := range s.matchers {
		for _, r := range table.Clear(mode) {
			if ci := asConfItem(r); ci != nil {
				all = append(all, ci)
				ci.MarkIllegal()
			}
		}
	}
	return all
}
