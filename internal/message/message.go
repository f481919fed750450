// Package message builds decoded inbound chat messages from transport
// envelopes.
package message

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/text"
)

// Message is a decoded inbound data message.
type Message struct {
	Topic  string
	UserID string
	SeqID  int
	Head   map[string]json.RawMessage

	// Content is the raw content bytes as received.
	Content json.RawMessage
	// Wire is the structured wire form, nil for bare string content.
	Wire *text.Drafty
	// Text is the decoded content with any leading quote removed.
	Text text.Node
	// Quote is the quoted message the content replies to, if any.
	Quote *text.Quote
	// PlainText is the plain-text projection of Text.
	PlainText string
	// RawText is the plain-text projection of the whole content, quote
	// included.
	RawText string
	// Degraded is set when part of the content fell back to plain text.
	Degraded bool
}

// New decodes env with dec.
func New(env domain.Envelope, dec *text.Decoder) *Message {
	c := dec.ParseContent(env.Content)
	m := &Message{
		Topic:    env.Topic,
		UserID:   env.From,
		SeqID:    env.SeqID,
		Head:     env.Head,
		Content:  env.Content,
		Wire:     c.Raw,
		Text:     c.Text,
		RawText:  c.Text.String(),
		Degraded: c.Degraded,
	}
	m.Quote, m.Text = splitQuote(c.Text)
	m.PlainText = m.Text.String()
	return m
}

func splitQuote(n text.Node) (*text.Quote, text.Node) {
	switch v := n.(type) {
	case text.Quote:
		return &v, text.Plain{}
	case text.Chain:
		if len(v.Items) > 0 {
			if q, ok := v.Items[0].(text.Quote); ok {
				return &q, v.Slice(1, len(v.Items))
			}
		}
	}
	return nil, n
}

// ID identifies the message for logging.
func (m *Message) ID() string {
	return m.Topic + "#" + strconv.Itoa(m.SeqID)
}

// IsDirect reports whether the message was sent in a one-to-one topic.
func (m *Message) IsDirect() bool {
	return strings.HasPrefix(m.Topic, "usr") || strings.HasPrefix(m.Topic, "p2p")
}

// HeadString returns a string head value.
func (m *Message) HeadString(key string) (string, bool) {
	raw, ok := m.Head[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// HeadInt returns an integer head value encoded either as a number or as a
// decimal string.
func (m *Message) HeadInt(key string) (int, bool) {
	raw, ok := m.Head[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	s, ok := m.HeadString(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, ":"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReplyTo returns the sequence id the message replies to.
func (m *Message) ReplyTo() (int, bool) {
	return m.HeadInt("reply")
}

// Mentions returns every mention in the content, the quote included.
func (m *Message) Mentions() []text.Mention {
	var out []text.Mention
	collect := func(n text.Node) bool {
		if mn, ok := n.(text.Mention); ok {
			out = append(out, mn)
		}
		return true
	}
	if m.Quote != nil {
		text.Walk(*m.Quote, collect)
	}
	text.Walk(m.Text, collect)
	return out
}

// Mentioned reports whether the content mentions userID. A reply quoting
// one of userID's messages counts.
func (m *Message) Mentioned(userID string) bool {
	for _, mn := range m.Mentions() {
		if mn.Value == userID {
			return true
		}
	}
	return false
}

// Entities returns the wire entities of type tp.
func (m *Message) Entities(tp string) []text.Extend {
	if m.Wire == nil {
		return nil
	}
	var out []text.Extend
	for _, e := range m.Wire.Ent {
		if e.Tp == tp {
			out = append(out, e)
		}
	}
	return out
}

// Truncate shortens s to at most n code points, keeping the head and the
// last quarter around an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	tail := n / 4
	head := max(n-tail-5, 0)
	return string(r[:head]) + " ... " + string(r[len(r)-tail:])
}
