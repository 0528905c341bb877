// Package propagation implements the small set of primitives every outbound
// mesh message passes through, filtering by peer capability (spec 4.K).
package propagation

import (
	"strings"

	"github.com/embercd/embercd/irc/caps"
)

// Peer is the subset of a server-status Client the propagation primitives
// need: its negotiated capability set and a way to send a formatted line.
type Peer interface {
	Caps() caps.Set
	SendLine(line string)
	Name() string
}

// Mesh gives the propagation primitives access to every currently-linked
// peer server (irc/server owns the concrete list; this keeps propagation
// decoupled from server bookkeeping).
type Mesh interface {
	Peers() []Peer
}

// SendToServer sends a formatted line to every peer except exclude whose
// negotiated caps include required and exclude disallowed (spec 4.K
// "sendto_server").
func SendToServer(mesh Mesh, exclude Peer, required, disallowed caps.Set, line string) {
	for _, p := range mesh.Peers() {
		if p == exclude {
			continue
		}
		if !hasAll(p.Caps(), required) {
			continue
		}
		if hasAny(p.Caps(), disallowed) {
			continue
		}
		p.SendLine(line)
	}
}

// SendToMatchServs is SendToServer additionally filtered by a dotted target
// pattern matched against each peer's name (spec 4.K
// "sendto_match_servs").
func SendToMatchServs(mesh Mesh, source, targetPattern string, required, disallowed caps.Set, line string) {
	for _, p := range mesh.Peers() {
		if !matchesDottedPattern(targetPattern, p.Name()) {
			continue
		}
		if !hasAll(p.Caps(), required) {
			continue
		}
		if hasAny(p.Caps(), disallowed) {
			continue
		}
		p.SendLine(line)
	}
}

// ClusterType selects which configured cluster entries a cluster_generic
// call reaches (spec 4.K).
type ClusterType int

const (
	ClusterKLine ClusterType = iota
	ClusterUnKLine
	ClusterXLine
	ClusterUnXLine
	ClusterResv
	ClusterUnResv
)

// ClusterEntry is one configured cluster target (spec 4.K).
type ClusterEntry struct {
	Target string
	Type   ClusterType
}

// ClusterGeneric emits command to every configured cluster entry matching
// clustertype, falling back to ENCAP <target> <command> on peers that only
// speak ENCAP (spec 4.K "cluster_generic").
func ClusterGeneric(mesh Mesh, entries []ClusterEntry, clustertype ClusterType, command string, params []string, speaksCommandDirectly func(Peer) bool) {
	for _, entry := range entries {
		if entry.Type != clustertype {
			continue
		}
		for _, p := range mesh.Peers() {
			if !matchesDottedPattern(entry.Target, p.Name()) {
				continue
			}
			if speaksCommandDirectly(p) {
				p.SendLine(formatLine(command, params))
			} else if p.Caps().Has(caps.ENCAP) {
				p.SendLine(formatLine("ENCAP", append([]string{entry.Target, command}, params...)))
			}
		}
	}
}

func formatLine(command string, params []string) string {
	return command + " " + strings.Join(params, " ")
}

func hasAll(have, want caps.Set) bool {
	for c := caps.Cap(0); c < 64; c++ {
		if want.Has(c) && !have.Has(c) {
			return false
		}
	}
	return true
}

func hasAny(have, set caps.Set) bool {
	return have&set != 0
}

// matchesDottedPattern implements the "dotted target pattern" glob used by
// sendto_match_servs: '*' matches any run of characters within a
// dot-delimited target (spec 4.K).
func matchesDottedPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	return globMatch(strings.ToLower(pattern), strings.ToLower(name))
}

func globMatch(pattern, s string) bool {
	return globAt(pattern, s, 0, 0)
}

func globAt(pattern, s string, pi, si int) bool {
	for pi < len(pattern) {
		switch pattern[pi] {
		case '*':
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := si; k <= len(s); k++ {
				if globAt(pattern, s, pi, k) {
					return true
				}
			}
			return false
		case '?':
			if si >= len(s) {
				return false
			}
			pi++
			si++
		default:
			if si >= len(s) || pattern[pi] != s[si] {
				return false
			}
			pi++
			si++
		}
	}
	return si == len(s)
}
