// Package burst streams local network state to a newly-linked peer in the
// fixed order required by spec 4.G: propagated bans, then users, then
// channels, then a completion ping.
package burst

import (
	"fmt"
	"time"

	"github.com/embercd/embercd/irc/caps"
	"github.com/embercd/embercd/irc/confstore"
	"github.com/embercd/embercd/irc/wire"
)

// Peer is the subset of a server-status link the burst engine writes to.
type Peer interface {
	SendLine(line string)
	Caps() caps.Set
	Name() string
}

// UserSnapshot is the minimal view of a registered client the burst engine
// needs to emit UID/EUID and its follow-up ENCAP lines (spec 4.G item 2).
type UserSnapshot struct {
	UID, Nick, Username, Host, VisibleHost, IP, Realname string
	TSInfo                                               int64
	Modes                                                 string
	AccountName                                          string
	CertFP                                                string
	SpoofedHost                                           bool
	Away                                                  string
}

// ChannelSnapshot is the minimal view of a channel the burst engine needs
// to emit SJOIN/BMASK/TB/MLOCK (spec 4.G item 3).
type ChannelSnapshot struct {
	Name            string
	TS              int64
	Modes           string
	Members         []string // already formatted with status prefixes
	Bans            []string
	Excepts         []string
	Invex           []string
	Quiets          []string
	Topic           string
	TopicSet        bool
	TopicBurstEnabled bool
}

// Sender drives one outbound burst to a single peer.
type Sender struct {
	Peer       Peer
	MyName     string
	MyServerID string
}

// SendPropagatedBans emits item 1: a BAN message per still-live propagated
// ban, rewriting the local oper "{hostname}" tag to this server's name.
func (s *Sender) SendPropagatedBans(bans []*confstore.ConfItem, now time.Time) {
	for _, b := range bans {
		if !b.IsPropagated() {
			continue
		}
		if !b.Lifetime.After(now) {
			continue
		}
		typeLetter := banTypeLetter(b.Kind)
		created := b.Created.Unix()
		holdFromCreated := int64(b.Hold.Sub(b.Created).Seconds())
		lifetimeFromCreated := int64(b.Lifetime.Sub(b.Created).Seconds())
		originator := rewriteOperTag(b.Oper, s.MyName)
		line := fmt.Sprintf("BAN + %c %s %s %d %d %d %s :%s",
			typeLetter, b.UserPattern, b.HostPattern, created, holdFromCreated,
			lifetimeFromCreated, originator, b.Passwd)
		s.Peer.SendLine(line)
	}
}

// SendUsers emits item 2: one UID or EUID per registered user, plus the
// CERTFP/REALHOST/LOGIN follow-ups the spec requires.
func (s *Sender) SendUsers(users []UserSnapshot) {
	euid := s.Peer.Caps().Has(caps.EUID)
	for _, u := range users {
		if euid {
			s.Peer.SendLine(fmt.Sprintf(":%s EUID %s 1 %d %s %s %s %s * %s :%s",
				s.MyServerID, u.Nick, u.TSInfo, u.Modes, u.Username, u.Host, u.IP, u.UID, u.Realname))
		} else {
			s.Peer.SendLine(fmt.Sprintf(":%s UID %s 1 %d %s %s %s %s %s :%s",
				s.MyServerID, u.Nick, u.TSInfo, u.Modes, u.Username, u.Host, u.IP, u.UID, u.Realname))
			if u.SpoofedHost {
				s.Peer.SendLine(fmt.Sprintf(":%s ENCAP * REALHOST %s", u.UID, u.Host))
			}
			if u.AccountName != "" {
				s.Peer.SendLine(fmt.Sprintf(":%s ENCAP * LOGIN %s", u.UID, u.AccountName))
			}
		}
		if u.CertFP != "" {
			s.Peer.SendLine(fmt.Sprintf(":%s ENCAP * CERTFP %s", u.UID, u.CertFP))
		}
		if u.Away != "" {
			s.Peer.SendLine(fmt.Sprintf(":%s AWAY :%s", u.UID, u.Away))
		}
	}
}

// SendChannels emits item 3: SJOIN (chunked to the wire-framing limit),
// BMASK batches, TB, and MLOCK.
func (s *Sender) SendChannels(channels []ChannelSnapshot) {
	mlockNegotiated := s.Peer.Caps().Has(caps.MLOCK)
	for _, ch := range channels {
		prefix := fmt.Sprintf(":%s SJOIN %d %s %s :", s.MyServerID, ch.TS, ch.Name, ch.Modes)
		for _, group := range wire.ChunkTrailing(len(prefix), ch.Members) {
			s.Peer.SendLine(prefix + joinSpace(group))
		}
		s.sendBmask(ch, 'b', ch.Bans)
		s.sendBmask(ch, 'e', ch.Excepts)
		s.sendBmask(ch, 'I', ch.Invex)
		s.sendBmask(ch, 'q', ch.Quiets)
		if ch.TopicBurstEnabled && ch.TopicSet {
			s.Peer.SendLine(fmt.Sprintf(":%s TB %s %d :%s", s.MyServerID, ch.Name, ch.TS, ch.Topic))
		}
		if mlockNegotiated {
			s.Peer.SendLine(fmt.Sprintf(":%s MLOCK %d %s :%s", s.MyServerID, ch.TS, ch.Name, ch.Modes))
		}
	}
}

func (s *Sender) sendBmask(ch ChannelSnapshot, listType byte, masks []string) {
	if len(masks) == 0 {
		return
	}
	prefix := fmt.Sprintf(":%s BMASK %d %s %c :", s.MyServerID, ch.TS, ch.Name, listType)
	for _, group := range wire.ChunkTrailing(len(prefix), masks) {
		s.Peer.SendLine(prefix + joinSpace(group))
	}
}

// FinishBurst emits item 4's completion ping (spec 4.G "PING on burst
// completion"); the peer's PONG marks end-of-burst receipt.
func (s *Sender) FinishBurst() {
	s.Peer.SendLine(fmt.Sprintf("PING :%s", s.MyServerID))
}

func banTypeLetter(k confstore.Kind) byte {
	switch k {
	case confstore.KindKill:
		return 'K'
	case confstore.KindDLine:
		return 'D'
	case confstore.KindXLine:
		return 'X'
	case confstore.KindResvNick, confstore.KindResvChannel:
		return 'R'
	default:
		return 'K'
	}
}

func rewriteOperTag(oper, myName string) string {
	if oper == "" {
		return myName
	}
	out := make([]byte, 0, len(oper))
	i := 0
	for i < len(oper) {
		if oper[i] == '{' {
			j := i + 1
			for j < len(oper) && oper[j] != '}' {
				j++
			}
			if j < len(oper) {
				out = append(out, myName...)
				i = j + 1
				continue
			}
		}
		out = append(out, oper[i])
		i++
	}
	return string(out)
}

func joinSpace(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

// Receiver resolves the conflicts spec 4.G describes for an inbound burst.
type Receiver struct{}

// ResolveNickCollision implements "conflicts on nickname are resolved by
// tsinfo (older timestamp wins; on equal ts both may be killed)".
// It returns (keepIncoming, killBoth).
func ResolveNickCollision(existingTS, incomingTS int64) (keepIncoming bool, killBoth bool) {
	switch {
	case incomingTS < existingTS:
		return true, false
	case incomingTS > existingTS:
		return false, false
	default:
		return false, true
	}
}

// ResolveChannelModeCollision implements "conflicts on channel modes are
// resolved by channel ts (older wins, loser's modes are dropped)".
func ResolveChannelModeCollision(existingTS, incomingTS int64) (keepIncomingModes bool) {
	return incomingTS < existingTS
}
