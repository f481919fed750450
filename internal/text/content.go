package text

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Content is decoded message content.
type Content struct {
	// Raw is the structured wire form, nil when the content was a bare string.
	Raw *Drafty
	// Text is the decoded node tree.
	Text Node
	// Degraded is set when some part of the content could not be decoded
	// and was kept as plain text.
	Degraded bool
}

// ParseContent decodes message content: a JSON string is plain text, a JSON
// object is a wire message. Anything else degrades to plain text of the raw
// bytes.
func (d *Decoder) ParseContent(raw json.RawMessage) Content {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Content{Text: Plain{}}
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Content{Text: Plain{Text: s}}
		}
	case '{':
		var df Drafty
		if err := json.Unmarshal(trimmed, &df); err == nil {
			n, degraded := d.decode(df)
			return Content{Raw: &df, Text: n, Degraded: degraded > 0}
		}
	}
	d.logger.Warn("malformed content kept as plain text", "content", string(trimmed))
	return Content{Text: Plain{Text: string(trimmed)}, Degraded: true}
}

// ParseContent decodes message content using a decoder logging to
// slog.Default.
func ParseContent(raw json.RawMessage) Content {
	return defaultDecoder.ParseContent(raw)
}

// Marshal prepares n for publishing. Single-line plain text is sent as a
// bare string without head; anything else is sent as a wire message with
// the structured mime in the returned head.
func Marshal(n Node) (content any, head map[string]any) {
	if p, ok := n.(Plain); ok && !strings.Contains(p.Text, "\n") {
		return p.Text, nil
	}
	return Encode(n), map[string]any{"mime": MimeDrafty}
}
