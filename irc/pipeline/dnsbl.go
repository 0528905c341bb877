package pipeline

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DNSBLConfig describes one configured realtime blacklist (spec 4.D
// "DNSBL").
type DNSBLConfig struct {
	Host        string
	Filters     []net.IP // accepted 127.0.0.0/8 reply values; empty means "any"
	ReasonTmpl  string   // may reference %{nick} %{ip} %{host} %{dnsbl-host} %{network-name}
	FamilyV4    bool
	FamilyV6    bool
	Exempt      bool
}

// DNSBLMatch records one blacklist hit.
type DNSBLMatch struct {
	Config DNSBLConfig
	Reply  net.IP
}

// ReversedQueryName forms the reversed-octet query name for addr against
// blacklist host (spec 4.D): v4 is "d.c.b.a.<host>", v6 reverses every
// nibble dot-separated then appends "<host>".
func ReversedQueryName(addr net.IP, host string) (string, error) {
	if v4 := addr.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.%s", v4[3], v4[2], v4[1], v4[0], host), nil
	}
	v6 := addr.To16()
	if v6 == nil {
		return "", fmt.Errorf("pipeline: invalid address %v", addr)
	}
	var nibbles []string
	for i := len(v6) - 1; i >= 0; i-- {
		b := v6[i]
		nibbles = append(nibbles, strconv.FormatInt(int64(b&0x0f), 16), strconv.FormatInt(int64(b>>4), 16))
	}
	return strings.Join(nibbles, ".") + "." + host, nil
}

// isListedReply reports whether reply is in 127.0.0.0/8 and matches any of
// filters (or filters is empty).
func isListedReply(reply net.IP, filters []net.IP) bool {
	v4 := reply.To4()
	if v4 == nil || v4[0] != 127 {
		return false
	}
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Equal(reply) {
			return true
		}
	}
	return false
}

// QueryDNSBL issues an A-record lookup for the reversed query name against
// one blacklist; it returns (match, true) when a reply passes the filters,
// and (DNSBLMatch{}, false) otherwise, including on any lookup failure
// (treated by the caller as "not listed").
func QueryDNSBL(ctx context.Context, resolver *net.Resolver, addr net.IP, cfg DNSBLConfig) (DNSBLMatch, bool) {
	name, err := ReversedQueryName(addr, cfg.Host)
	if err != nil {
		return DNSBLMatch{}, false
	}
	ips, err := resolver.LookupIP(ctx, "ip4", name)
	if err != nil || len(ips) == 0 {
		return DNSBLMatch{}, false
	}
	for _, ip := range ips {
		if isListedReply(ip, cfg.Filters) {
			return DNSBLMatch{Config: cfg, Reply: ip}, true
		}
	}
	return DNSBLMatch{}, false
}

// RenderReason substitutes the DNSBL reason template's placeholders (spec
// 4.D).
func RenderReason(tmpl, nick, ip, host, dnsblHost, networkName string) string {
	r := strings.NewReplacer(
		"%{nick}", nick,
		"%{ip}", ip,
		"%{host}", host,
		"%{dnsbl-host}", dnsblHost,
		"%{network-name}", networkName,
	)
	return r.Replace(tmpl)
}

// RunDNSBLQueries runs every applicable blacklist concurrently with the
// given timeout and returns the first match found (spec 4.D: "on listed,
// stash the match on the client; on all queries complete, if not exempt,
// reject"). If none match, ok is false.
func RunDNSBLQueries(addr net.IP, configs []DNSBLConfig, timeout time.Duration) (match DNSBLMatch, ok bool) {
	isV6 := addr.To4() == nil
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		m  DNSBLMatch
		ok bool
	}
	results := make(chan result, len(configs))
	pending := 0
	for _, cfg := range configs {
		if isV6 && !cfg.FamilyV6 {
			continue
		}
		if !isV6 && !cfg.FamilyV4 {
			continue
		}
		pending++
		go func(cfg DNSBLConfig) {
			m, found := QueryDNSBL(ctx, net.DefaultResolver, addr, cfg)
			results <- result{m, found}
		}(cfg)
	}

	for i := 0; i < pending; i++ {
		select {
		case r := <-results:
			if r.ok && !ok {
				match, ok = r.m, true
			}
		case <-ctx.Done():
			return match, ok
		}
	}
	return match, ok
}
