// Package wire implements the line-based framing shared by the client
// protocol and the TS6 server protocol (spec 6): CRLF-terminated lines, an
// optional ":"-prefixed source, a command token, up to 14 positional
// parameters, and an optional ":"-prefixed trailing parameter.
package wire

import (
	"fmt"
	"strings"

	"github.com/goshuirc/irc-go/ircmsg"
)

// MaxLineLen is the 512-byte maximum line length including the trailing
// CRLF (spec 6).
const MaxLineLen = 512

// Message is a parsed IRC line, reusing ircmsg's tag/param handling so that
// message-tags on client lines and plain TS6 lines share one code path.
type Message struct {
	Source  string
	Command string
	Params  []string
}

// Parse decodes a raw line (without trailing CRLF) into a Message.
func Parse(line string) (Message, error) {
	m, err := ircmsg.ParseLine(line)
	if err != nil {
		return Message{}, fmt.Errorf("wire: parse: %w", err)
	}
	return Message{Source: m.Prefix, Command: strings.ToUpper(m.Command), Params: m.Params}, nil
}

// Format renders source/command/params back into a wire line, choosing a
// trailing ":"-param automatically when the last parameter contains a space
// or is empty, exactly as ircmsg does.
func Format(source, command string, params ...string) (string, error) {
	m := ircmsg.MakeMessage(nil, source, command, params...)
	line, err := m.LineBytes()
	if err != nil {
		return "", fmt.Errorf("wire: format: %w", err)
	}
	return strings.TrimSuffix(string(line), "\r\n"), nil
}

// MustFormat is Format, but panics on error; used for internally-generated
// lines whose parameters are already known to be well-formed (numerics,
// burst framing) where a formatting error would indicate a bug in this
// daemon rather than bad input.
func MustFormat(source, command string, params ...string) string {
	line, err := Format(source, command, params...)
	if err != nil {
		panic(err)
	}
	return line
}

// ChunkTrailing splits a list of space-separated tokens (e.g. SJOIN members,
// BMASK masks) into the fewest possible trailing-parameter groups such that
// each resulting "<prefix> :<group>" line stays within MaxLineLen. Burst
// (spec 4.G) uses this to keep SJOIN and BMASK batches within the 512-byte
// framing limit.
func ChunkTrailing(prefixLen int, tokens []string) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	budget := MaxLineLen - prefixLen - 2 /* " :" */ - 2 /* CRLF */
	if budget < 1 {
		budget = 1
	}

	var chunks [][]string
	var cur []string
	curLen := 0
	for _, tok := range tokens {
		add := len(tok)
		if len(cur) > 0 {
			add++ // separating space
		}
		if curLen+add > budget && len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = nil
			curLen = 0
			add = len(tok)
		}
		cur = append(cur, tok)
		curLen += add
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}
