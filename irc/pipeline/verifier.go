package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/embercd/embercd/irc/casefold"
	"github.com/embercd/embercd/irc/class"
	"github.com/embercd/embercd/irc/client"
	"github.com/embercd/embercd/irc/confstore"
	"github.com/embercd/embercd/irc/matcher"
)

// VerifyError is a rejection from the registration verifier, carrying the
// numeric-ish reason (spec 4.D lists NOT_AUTHORISED, I_LINE_FULL, etc. as
// named outcomes).
type VerifyError struct {
	Reason  string
	Message string
}

func (e *VerifyError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

var (
	ErrNotAuthorised = "NOT_AUTHORISED"
	ErrRedirect      = "REDIRECT"
	ErrPasswordMismatch = "PASSWORD_MISMATCH"
	ErrTLSRequired   = "TLS_REQUIRED"
	ErrSASLRequired  = "SASL_REQUIRED"
	ErrIdentRequired = "IDENT_REQUIRED"
	ErrILineFull     = "I_LINE_FULL"
	ErrXLineMatched  = "X_LINE_MATCHED"
	ErrDNSBLRejected = "DNSBL_REJECTED"
	ErrBadUsername   = "BAD_USERNAME"
)

// VerifierDeps bundles the collaborators register_local_user needs, so the
// function itself stays a pure(ish) translation of spec 4.D's 16 steps
// without the pipeline package owning a Server god-object.
type VerifierDeps struct {
	Confs           *confstore.Store
	Classes         *class.Manager
	DotsInIdent     int
	DefaultUserModes []rune
	OperOnlyModes    map[rune]bool
	CountByHost     func(hostCasefolded string) (local, global, identMatches int)
	AllocUID        func() string
	TLSConnected    bool
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9\[\]\\^{}|\-_.]+$`)

// RegisterLocalUser runs the steps of spec 4.D's "Verifier
// (register_local_user)" against c, which must already have PreregNick,
// Username, and Realname populated by prior command processing. On success
// it promotes the client's status (callers still need to move it between
// the unknown_list/lclient_list and broadcast introduction, spec 4.D step
// 16; that is done by irc/server since it owns those lists).
func RegisterLocalUser(c *client.Client, deps VerifierDeps) error {
	lc := c.Local
	pre := c.Pre

	q := matcher.Query{
		Name:     c.OrigHost(),
		SockHost: c.SockHost(),
		OrigHost: c.OrigHost(),
		Addr:     c.IP(),
		Username: c.Username(),
		SASLUser: "",
	}
	if pre != nil {
		q.SASLUser = pre.SASLUser
	}

	// 1. auth lookup
	auth := deps.Confs.LookupAuth(q)
	if auth == nil {
		return &VerifyError{ErrNotAuthorised, "You are not authorized to connect to this server"}
	}

	// 2. redirect
	if auth.Flags.Has(confstore.FlagRedirect) {
		return &VerifyError{ErrRedirect, fmt.Sprintf("%s %d", auth.RedirectServer, auth.RedirectPort)}
	}

	// 3. password check
	if auth.Passwd != "" {
		supplied := ""
		if pre != nil {
			supplied = pre.PasswordSupplied
		}
		expected := auth.Passwd
		if auth.Flags.Has(confstore.FlagEncrypted) {
			supplied = CryptCompare(supplied, expected)
		}
		if supplied != expected {
			return &VerifyError{ErrPasswordMismatch, "Password incorrect"}
		}
	}

	// 4. TLS requirement
	if auth.Flags.Has(confstore.FlagRequireTLS) && !deps.TLSConnected {
		return &VerifyError{ErrTLSRequired, "You must connect with TLS to use this server"}
	}

	// 5. SASL requirement
	if auth.Flags.Has(confstore.FlagRequireSASL) && (pre == nil || pre.SASLUser == "") {
		return &VerifyError{ErrSASLRequired, "You must authenticate via SASL to use this server"}
	}

	// 6. ident requirement
	identOK := pre != nil && !pre.IdentFailed && pre.IdentBuffer != ""
	if auth.Flags.Has(confstore.FlagRequireIdent) && !identOK {
		return &VerifyError{ErrIdentRequired, "You must run an identd to use this server"}
	}

	// 7. tilde prefix
	username := c.Username()
	if !identOK && !auth.Flags.Has(confstore.FlagNoTilde) {
		username = "~" + username
	}

	// 8-9. class capacity
	exempt := auth.Flags.Has(confstore.FlagExemptLimits)
	if !exempt {
		cls := deps.Classes.Get(auth.ClassName)
		if cls != nil {
			localN, globalN, identN := deps.CountByHost(c.OrigHostCasefolded())
			if cls.MaxLocalPerIP > 0 && localN >= cls.MaxLocalPerIP {
				return &VerifyError{ErrILineFull, "Too many connections from your host"}
			}
			if cls.MaxGlobalPerIP > 0 && globalN >= cls.MaxGlobalPerIP {
				return &VerifyError{ErrILineFull, "Too many connections from your network"}
			}
			if cls.MaxPerIdent > 0 && identN >= cls.MaxPerIdent {
				return &VerifyError{ErrILineFull, "Too many connections for your ident"}
			}
			if err := cls.Attach(c.IP()); err != nil {
				return &VerifyError{ErrILineFull, "This server is full"}
			}
			if lc != nil {
				lc.Class = cls
			}
		}
	}

	// 10. X-line on realname
	if !auth.Flags.Has(confstore.FlagKlineExempt) {
		normalized := casefold.NormalizeRealname(c.Realname())
		if xl := deps.Confs.LookupXLine(normalized); xl != nil {
			return &VerifyError{ErrXLineMatched, xl.BanMessage("Your realname is banned from this server (%s)")}
		}
	}

	// 11. DNSBL re-check
	if pre != nil && pre.DNSBLMatched && !pre.DNSBLExempt {
		return &VerifyError{ErrDNSBLRejected, "You are listed in a DNS blacklist"}
	}

	// 12. username validation
	if !validUsername(username, deps.DotsInIdent) {
		return &VerifyError{ErrBadUsername, "Invalid username"}
	}

	// 13. original host + spoof
	c.SetOrigHost(c.OrigHost())
	if pre != nil && pre.SpoofHost != "" {
		c.SetVisibleHost(pre.SpoofHost)
	} else if c.VisibleHost() == "" {
		c.SetVisibleHost(c.OrigHost())
	}
	if pre != nil && pre.SpoofUser != "" {
		username = pre.SpoofUser
	}
	c.SetUsername(username)

	// 14. default user modes minus oper-only
	if len(deps.DefaultUserModes) > 0 {
		var modes strings.Builder
		for _, m := range deps.DefaultUserModes {
			if deps.OperOnlyModes[m] {
				continue
			}
			modes.WriteRune(m)
		}
		c.SetModes(modes.String())
	}

	// 15. UID allocation
	if c.UID() == "" && deps.AllocUID != nil {
		c.SetUID(deps.AllocUID())
	}

	if lc != nil {
		lc.AuthConf = auth
		auth.Attach()
	}

	// 16. promotion to registered client is the caller's responsibility
	// (list membership + broadcast, spec 4.D step 16, spec 4.F).
	return nil
}

func validUsername(u string, maxDots int) bool {
	if u == "" {
		return false
	}
	u = strings.TrimPrefix(u, "~")
	if u == "" {
		return false
	}
	if strings.Count(u, ".") > maxDots {
		return false
	}
	return usernameRe.MatchString(u)
}

// CryptCompare applies a crypt(3)-style transform to supplied using hash as
// the salt source, for auth records flagged "encrypted" (spec 4.D step 3).
// The core only needs comparison equality with the stored hash, so this
// delegates to BcryptCompare (crypt.go, over golang.org/x/crypto/bcrypt).
func CryptCompare(supplied, hash string) string {
	if BcryptCompare(supplied, hash) {
		return hash
	}
	return ""
}
