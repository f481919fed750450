package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/text"
)

func envelope(t *testing.T, content any) domain.Envelope {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	return domain.Envelope{
		Topic:   "grpAbc",
		From:    "usrAlice",
		SeqID:   7,
		Head:    map[string]json.RawMessage{"reply": json.RawMessage(`"5"`)},
		Content: raw,
	}
}

func TestNewPlain(t *testing.T) {
	m := New(envelope(t, "hello"), text.NewDecoder(nil))
	assert.Equal(t, "grpAbc", m.Topic)
	assert.Equal(t, "usrAlice", m.UserID)
	assert.Equal(t, 7, m.SeqID)
	assert.Equal(t, text.Plain{Text: "hello"}, m.Text)
	assert.Equal(t, "hello", m.PlainText)
	assert.Nil(t, m.Wire)
	assert.Nil(t, m.Quote)
	assert.Equal(t, "grpAbc#7", m.ID())
}

func TestNewSplitsQuote(t *testing.T) {
	tree := text.Join(
		text.Quote{Content: text.Join(text.Mention{Text: "bob", Value: "usrBob"}, text.NewLine, text.Plain{Text: "earlier"})},
		text.Plain{Text: "/echo hi "},
		text.Mention{Text: "@carol", Value: "usrCarol"},
	)
	m := New(envelope(t, text.Encode(tree)), text.NewDecoder(nil))

	require.NotNil(t, m.Quote)
	mn, ok := m.Quote.Mention()
	require.True(t, ok)
	assert.Equal(t, "usrBob", mn.Value)

	assert.Equal(t, "/echo hi @carol", m.PlainText)
	assert.Equal(t, "bob\nearlier/echo hi @carol", m.RawText)
	assert.True(t, m.Mentioned("usrCarol"))
	assert.True(t, m.Mentioned("usrBob"), "quoted author counts")
	assert.False(t, m.Mentioned("usrDave"))
	assert.Equal(t, []string{"usrBob", "usrCarol"}, mentionValues(m))
	require.NotNil(t, m.Wire)
	assert.Len(t, m.Entities(text.TagMention), 2)
}

func mentionValues(m *Message) []string {
	var out []string
	for _, mn := range m.Mentions() {
		out = append(out, mn.Value)
	}
	return out
}

func TestNewQuoteOnly(t *testing.T) {
	m := New(envelope(t, text.Encode(text.Quote{Content: text.Plain{Text: "q"}})), text.NewDecoder(nil))
	require.NotNil(t, m.Quote)
	assert.Equal(t, text.Plain{}, m.Text)
	assert.Empty(t, m.PlainText)
}

func TestHead(t *testing.T) {
	m := New(envelope(t, "x"), text.NewDecoder(nil))
	reply, ok := m.ReplyTo()
	require.True(t, ok)
	assert.Equal(t, 5, reply)

	m.Head["n"] = json.RawMessage(`12`)
	n, ok := m.HeadInt("n")
	require.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = m.HeadString("n")
	assert.False(t, ok)
	_, ok = m.HeadInt("missing")
	assert.False(t, ok)
}

func TestIsDirect(t *testing.T) {
	assert.True(t, (&Message{Topic: "usrBob"}).IsDirect())
	assert.True(t, (&Message{Topic: "p2pXYZ"}).IsDirect())
	assert.False(t, (&Message{Topic: "grpAbc"}).IsDirect())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 128))

	long := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	got := Truncate(long, 128)
	assert.Len(t, []rune(got), 128)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("a", 91)+" ... "))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("b", 32)))
}
