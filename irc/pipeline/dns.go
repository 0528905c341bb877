// Package pipeline implements the pre-registration connection state machine
// described in spec 4.D: DNS reverse+forward verification, ident, DNSBL
// queries, the reject/throttle/global-CIDR caches, and the registration
// verifier itself. Every query is callback-driven so no step blocks the
// event loop (spec 5 "Suspension points").
package pipeline

import (
	"context"
	"net"
	"strings"
	"time"
)

// HostMaxLen bounds the sockhost fallback decision (spec 4.D: "Length >
// host-max ... fall back to numeric sockhost").
const HostMaxLen = 63

// DNSResult is delivered to the callback once reverse+forward verification
// completes (spec 4.D "DNS resolution").
type DNSResult struct {
	Hostname string // resolved (and forward-verified) name, or "" on fallback
	Fallback bool
	Notice   string // operator-facing explanation when Fallback is true
}

// Resolver performs the reverse-then-forward DNS dance. It is an interface
// so tests can substitute a fake without touching the network; the
// production implementation wraps *net.Resolver.
type Resolver interface {
	LookupReverseThenForward(ctx context.Context, ip net.IP) (DNSResult, error)
}

type netResolver struct {
	r *net.Resolver
}

// NewNetResolver returns a Resolver backed by the standard library's
// asynchronous resolver.
func NewNetResolver() Resolver {
	return &netResolver{r: net.DefaultResolver}
}

func (nr *netResolver) LookupReverseThenForward(ctx context.Context, ip net.IP) (DNSResult, error) {
	names, err := nr.r.LookupAddr(ctx, ip.String())
	if err != nil || len(names) == 0 {
		return DNSResult{Fallback: true, Notice: "could not resolve your hostname, using your IP address instead"}, nil
	}

	name := strings.TrimSuffix(names[0], ".")
	if len(name) > HostMaxLen {
		return DNSResult{Fallback: true, Notice: "your hostname is too long, using your IP address instead"}, nil
	}

	// forward-verify: the resolved name must resolve back to the exact
	// original IP (spec 4.D).
	addrs, err := nr.r.LookupIPAddr(ctx, name)
	if err != nil {
		return DNSResult{Fallback: true, Notice: "your hostname did not resolve back to your IP address"}, nil
	}
	for _, a := range addrs {
		if a.IP.Equal(ip) {
			return DNSResult{Hostname: name}, nil
		}
	}
	return DNSResult{Fallback: true, Notice: "your hostname did not resolve back to your IP address"}, nil
}

// ResolveWithTimeout runs LookupReverseThenForward with the query timeout
// from spec 5 ("DNS and ident queries carry per-query timeouts, default
// connect_timeout, 30s"); on timeout it falls back to the numeric sockhost
// exactly as a resolution failure would.
func ResolveWithTimeout(r Resolver, ip net.IP, timeout time.Duration) DNSResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type out struct {
		res DNSResult
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := r.LookupReverseThenForward(ctx, ip)
		ch <- out{res, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return DNSResult{Fallback: true, Notice: "DNS lookup failed, using your IP address instead"}
		}
		return o.res
	case <-ctx.Done():
		return DNSResult{Fallback: true, Notice: "DNS lookup timed out, using your IP address instead"}
	}
}
