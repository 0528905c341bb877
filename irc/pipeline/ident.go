package pipeline

import (
	"net"
	"strings"
	"time"

	ident "github.com/oragono/go-ident"
)

// MaxUserLen bounds the username returned from an ident query (spec 4.D
// "truncate to USERLEN").
const MaxUserLen = 12

// IdentResult carries the outcome of an ident query (spec 4.D "Ident").
type IdentResult struct {
	Username string
	Failed   bool
}

// QueryIdent opens a stream socket from localAddr (port forced to zero) to
// remoteAddr port 113, and parses the USERID response per spec 4.D. Any
// failure (including timeout) yields IdentResult{Failed: true}; callers
// prefix a "~" on the client's username at registration time in that case.
func QueryIdent(localAddr, remoteAddr net.IP, remotePort int, timeout time.Duration) IdentResult {
	resp, err := ident.Query(localAddr.String(), remoteAddr.String(), remotePort, int(timeout/time.Second))
	if err != nil || resp == nil {
		return IdentResult{Failed: true}
	}
	return IdentResult{Username: sanitizeIdentUser(resp.UserID)}
}

// sanitizeIdentUser strips a leading '~' or '^', trims at the first '@' or
// space, and truncates to MaxUserLen (spec 4.D).
func sanitizeIdentUser(raw string) string {
	s := raw
	if len(s) > 0 && (s[0] == '~' || s[0] == '^') {
		s = s[1:]
	}
	if i := strings.IndexAny(s, "@ "); i >= 0 {
		s = s[:i]
	}
	if len(s) > MaxUserLen {
		s = s[:MaxUserLen]
	}
	return s
}
