// Package casefold centralizes the string comparison rules used to key the
// nickname, UID, and hostname hashes in irc/registry, and the X-line/RESV
// matching in irc/matcher. IRC casemapping lowercases {}|~ onto []\^ in
// addition to plain ASCII case, so every hash in this daemon keys off the
// mapped form rather than the display form.
package casefold

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/oragono/confusables"
	"golang.org/x/text/unicode/norm"
)

// MaxNickLen and MaxChannelLen bound nickname and channel-name length.
// ValidateNick enforces MaxNickLen; the folding functions below accept input
// of any length, and nothing in this package checks MaxChannelLen.
const (
	MaxNickLen    = 32
	MaxChannelLen = 64
)

// Name applies rfc1459-ish casemapping to a nickname, UID, or server name.
// It does not validate grammar; ValidateNick is the strict nickname check.
func Name(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '{':
			r = '['
		case '}':
			r = ']'
		case '|':
			r = '\\'
		case '~':
			r = '^'
		default:
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Channel casefolds a channel name. Channel names are case-mapped the same
// way as nicknames; the leading sigil is left untouched.
func Channel(s string) string {
	return Name(s)
}

// ValidateNick reports whether s is a syntactically legal nickname.
func ValidateNick(s string) error {
	if s == "" || len(s) > MaxNickLen {
		return fmt.Errorf("casefold: nickname %q has illegal length", s)
	}
	for i, r := range s {
		if i == 0 && (unicode.IsDigit(r) || r == '-') {
			return fmt.Errorf("casefold: nickname %q starts with an illegal character", s)
		}
		if !isNickChar(r) {
			return fmt.Errorf("casefold: nickname %q contains illegal character %q", s, r)
		}
	}
	return nil
}

func isNickChar(r rune) bool {
	switch {
	case unicode.IsLetter(r) && r < unicode.MaxASCII:
		return true
	case unicode.IsDigit(r):
		return true
	case strings.ContainsRune("-[]\\`^{}|_", r):
		return true
	}
	return false
}

// NormalizeRealname strips homoglyphs from a GECOS/realname field so that an
// X-line mask written against the "obvious" spelling of a word still catches
// confusable-unicode evasions. The result is NFKC-normalized and then passed
// through the confusables skeleton table; it is used only for matching, never
// displayed back to users.
func NormalizeRealname(s string) string {
	folded := norm.NFKC.String(s)
	return confusables.Skeleton(folded)
}
