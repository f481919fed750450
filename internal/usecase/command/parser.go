// Package command turns prefixed chat messages into calls of named
// handlers with parameters injected from the message.
package command

import (
	"strings"
	"unicode"

	"github.com/Visecy/Karuha-sub000/internal/message"
)

// NameParser extracts a command name and arguments from a message.
type NameParser interface {
	// Parse returns the command name and argument tokens. ok is false when
	// the message is not a command.
	Parse(m *message.Message) (name string, argv []string, ok bool)
	// CheckName reports whether name can be registered.
	CheckName(name string) bool
}

// PrefixParser recognizes commands as a first token starting with one of
// Prefixes.
type PrefixParser struct {
	Prefixes []string
}

// NewPrefixParser returns a parser for prefixes, defaulting to "/".
func NewPrefixParser(prefixes ...string) *PrefixParser {
	if len(prefixes) == 0 {
		prefixes = []string{"/"}
	}
	return &PrefixParser{Prefixes: prefixes}
}

// Parse splits the message text on whitespace. Text of a leading quote is
// not part of the message text and never parsed.
func (p *PrefixParser) Parse(m *message.Message) (string, []string, bool) {
	fields := strings.Fields(m.PlainText)
	if len(fields) == 0 {
		return "", nil, false
	}
	for _, prefix := range p.Prefixes {
		if name, ok := strings.CutPrefix(fields[0], prefix); ok {
			return name, fields[1:], true
		}
	}
	return "", nil, false
}

// CheckName rejects empty names and names containing whitespace.
func (p *PrefixParser) CheckName(name string) bool {
	return name != "" && !strings.ContainsFunc(name, unicode.IsSpace)
}
