package text

import (
	"encoding/base64"
	"maps"
	"strings"
)

// Encode converts a node tree to the wire format.
//
// Decode(Encode(n)) reproduces n except where two containers cover exactly
// the same text: the wire keeps only ranges, so nesting is rebuilt from tag
// rank and a higher ranked inner container comes back as the outer one
// (Form{Row{x}} decodes as Row{Form{x}}).
func Encode(n Node) Drafty {
	if n == nil {
		return Drafty{}
	}
	return n.Drafty()
}

// encodeText encodes plain text. Line breaks become BR formats over a
// space so that the rendered text keeps its length.
func encodeText(s string) Drafty {
	if !strings.Contains(s, "\n") {
		return Drafty{Txt: s}
	}
	var d Drafty
	pos := 0
	for _, r := range s {
		if r == '\n' {
			d.Fmt = append(d.Fmt, Format{At: pos, Len: 1, Tp: TagLineBreak})
			r = ' '
		}
		d.Txt += string(r)
		pos++
	}
	return d
}

// wrapInline prepends an inline format spanning all of d.
func wrapInline(d Drafty, tp string) Drafty {
	return d.prependFormat(Format{At: 0, Len: d.Len(), Tp: tp})
}

// wrapEntity appends an entity and prepends a format referencing it. An
// empty range is encoded with the out-of-band marker At == -1.
func wrapEntity(d Drafty, tp string, data map[string]any) Drafty {
	if len(data) == 0 {
		data = nil
	}
	key := len(d.Ent)
	d.Ent = append(d.Ent, Extend{Tp: tp, Data: data})
	at, n := 0, d.Len()
	if n == 0 {
		at = -1
	}
	return d.prependFormat(Format{At: at, Len: n, Key: key})
}

func encodeContent(n Node) Drafty {
	if n == nil {
		return Drafty{}
	}
	return n.Drafty()
}

func (n Plain) Drafty() Drafty { return encodeText(n.Text) }

func (n Styled) Drafty() Drafty {
	d := encodeText(n.Text)
	for i := len(styleTags) - 1; i >= 0; i-- {
		if n.Style.Has(styleTags[i].style) {
			d = wrapInline(d, styleTags[i].tag)
		}
	}
	return d
}

func (n Code) Drafty() Drafty { return wrapInline(encodeText(n.Text), TagCode) }

func (n Quote) Drafty() Drafty { return wrapInline(encodeContent(n.Content), TagQuote) }

func (n Form) Drafty() Drafty {
	d := encodeContent(n.Content)
	if n.Standalone {
		return wrapEntity(d, TagForm, map[string]any{"su": true})
	}
	return wrapInline(d, TagForm)
}

func (n Row) Drafty() Drafty { return wrapInline(encodeContent(n.Content), TagRow) }

func (n Hidden) Drafty() Drafty { return wrapInline(encodeContent(n.Content), TagHidden) }

func (n Link) Drafty() Drafty {
	data := map[string]any{}
	putNonZero(data, "url", n.URL)
	return wrapEntity(encodeText(n.Text), TagLink, data)
}

func (n Mention) Drafty() Drafty {
	data := map[string]any{}
	putNonZero(data, "val", n.Value)
	return wrapEntity(encodeText(n.Text), TagMention, data)
}

func (n Hashtag) Drafty() Drafty {
	data := map[string]any{}
	putNonZero(data, "val", n.Value)
	return wrapEntity(encodeText(n.Text), TagHashtag, data)
}

func (n Button) Drafty() Drafty {
	data := map[string]any{}
	putNonZero(data, "name", n.Name)
	putNonZero(data, "val", n.Value)
	putNonZero(data, "ref", n.Ref)
	act := n.Action
	if act == "" {
		act = ActionPublish
	}
	data["act"] = act
	return wrapEntity(encodeText(n.Text), TagButton, data)
}

func (n VideoCall) Drafty() Drafty {
	data := map[string]any{}
	putNonZero(data, "duration", n.Duration)
	putNonZero(data, "state", n.State)
	putNonZero(data, "incoming", n.Incoming)
	putNonZero(data, "aonly", n.AudioOnly)
	return wrapEntity(encodeText(n.Text), TagVideoCall, data)
}

func (n Attachment) Drafty() Drafty {
	data := maps.Clone(n.Extra)
	if data == nil {
		data = map[string]any{}
	}
	putNonZero(data, "mime", n.Mime)
	putNonZero(data, "name", n.Name)
	if len(n.Raw) > 0 {
		data["val"] = base64.StdEncoding.EncodeToString(n.Raw)
	}
	putNonZero(data, "ref", n.Ref)
	putNonZero(data, "size", n.Size)
	putNonZero(data, "width", n.Width)
	putNonZero(data, "height", n.Height)
	putNonZero(data, "duration", n.Duration)
	putNonZero(data, "preview", n.Preview)
	kind := n.Kind
	if kind == "" {
		kind = TagFile
	}
	return wrapEntity(encodeText(n.Text), kind, data)
}

func (n Unknown) Drafty() Drafty {
	d := encodeText(n.Text)
	if n.Data == nil {
		return wrapInline(d, n.Type)
	}
	return wrapEntity(d, n.Type, maps.Clone(n.Data))
}

func (n Chain) Drafty() Drafty {
	if len(n.Items) == 0 {
		return Drafty{Txt: " "}
	}
	var d Drafty
	for _, it := range n.Items {
		d = Concat(d, encodeContent(it))
	}
	return d
}
