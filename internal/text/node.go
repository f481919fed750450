package text

import (
	"strings"
)

// Node is a typed rich-text node. The set of implementations is closed;
// every node can be projected to plain text and encoded to the wire format.
type Node interface {
	// String returns the plain-text projection.
	String() string
	// Drafty encodes the node to the wire format.
	Drafty() Drafty
	node()
}

// Style is a set of inline text styles.
type Style uint8

const (
	Bold Style = 1 << iota
	Italic
	Strikethrough
	Highlight
)

var styleTags = []struct {
	style Style
	tag   string
}{
	{Bold, TagBold},
	{Italic, TagItalic},
	{Strikethrough, TagStrikethrough},
	{Highlight, TagHighlight},
}

func styleOf(tag string) Style {
	for _, st := range styleTags {
		if st.tag == tag {
			return st.style
		}
	}
	return 0
}

// Has reports whether every style in o is set in s.
func (s Style) Has(o Style) bool { return s&o == o }

func (s Style) String() string {
	var parts []string
	for _, st := range styleTags {
		if s.Has(st.style) {
			parts = append(parts, st.tag)
		}
	}
	return strings.Join(parts, "|")
}

// Plain is unformatted text.
type Plain struct {
	Text string
}

// NewLine is the line-break leaf. Line breaks are plain text so that they
// merge with neighbouring plain text.
var NewLine = Plain{Text: "\n"}

// Styled is text with one or more inline styles.
type Styled struct {
	Text  string
	Style Style
}

// Code is inline monospace text.
type Code struct {
	Text string
}

// Quote is a reply-with-context wrapper, usually a mention of the quoted
// author, a line break and the quoted content.
type Quote struct {
	Content Node
}

// Mention returns the leading mention inside the quote, if any.
func (q Quote) Mention() (Mention, bool) {
	switch c := q.Content.(type) {
	case Mention:
		return c, true
	case Chain:
		if len(c.Items) > 0 {
			m, ok := c.Items[0].(Mention)
			return m, ok
		}
	}
	return Mention{}, false
}

// Form groups interactive content such as buttons. A standalone form is
// encoded as an entity instead of an inline tag.
type Form struct {
	Content    Node
	Standalone bool
}

// Row is a logical row inside a form.
type Row struct {
	Content Node
}

// Hidden is content not meant to be displayed.
type Hidden struct {
	Content Node
}

// Link is a hyperlink.
type Link struct {
	Text string
	URL  string
}

// Mention references a user.
type Mention struct {
	Text  string
	Value string
}

// Hashtag is a tag reference.
type Hashtag struct {
	Text  string
	Value string
}

// Button actions.
const (
	ActionPublish = "pub"
	ActionURL     = "url"
	ActionNote    = "note"
)

// Button is an interactive control inside a form.
type Button struct {
	Text   string
	Name   string
	Value  string
	Action string
	Ref    string
}

// VideoCall is a call record.
type VideoCall struct {
	Text      string
	Duration  int
	State     string
	Incoming  bool
	AudioOnly bool
}

// Attachment is an inline or referenced file. Kind is one of TagFile,
// TagImage, TagAudio or TagVideo. Raw holds inline bytes; Ref points to
// out-of-band storage.
type Attachment struct {
	Kind     string
	Text     string
	Mime     string
	Name     string
	Raw      []byte
	Ref      string
	Size     int
	Width    int
	Height   int
	Duration int
	Preview  string
	// Extra holds entity data fields without a dedicated field.
	Extra map[string]any
}

// Unknown is a node decoded from an unrecognized tag. The tag and data are
// kept so that the node re-encodes to what was received.
type Unknown struct {
	Text string
	Type string
	Data map[string]any
}

// Chain is an ordered sequence of nodes. A chain built through Join never
// contains another chain nor two adjacent Plain nodes.
type Chain struct {
	Items []Node
}

func (Plain) node()      {}
func (Styled) node()     {}
func (Code) node()       {}
func (Quote) node()      {}
func (Form) node()       {}
func (Row) node()        {}
func (Hidden) node()     {}
func (Link) node()       {}
func (Mention) node()    {}
func (Hashtag) node()    {}
func (Button) node()     {}
func (VideoCall) node()  {}
func (Attachment) node() {}
func (Unknown) node()    {}
func (Chain) node()      {}

func (n Plain) String() string      { return n.Text }
func (n Styled) String() string     { return n.Text }
func (n Code) String() string       { return n.Text }
func (n Quote) String() string      { return contentString(n.Content) }
func (n Form) String() string       { return contentString(n.Content) }
func (n Row) String() string        { return contentString(n.Content) }
func (n Hidden) String() string     { return contentString(n.Content) }
func (n Link) String() string       { return n.Text }
func (n Mention) String() string    { return n.Text }
func (n Hashtag) String() string    { return n.Text }
func (n Button) String() string     { return n.Text }
func (n VideoCall) String() string  { return n.Text }
func (n Attachment) String() string { return n.Text }
func (n Unknown) String() string    { return n.Text }

func (n Chain) String() string {
	var b strings.Builder
	for _, it := range n.Items {
		b.WriteString(it.String())
	}
	return b.String()
}

func contentString(n Node) string {
	if n == nil {
		return ""
	}
	return n.String()
}
