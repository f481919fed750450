// Package text implements the rich-text wire format used by chat messages
// and its bidirectional conversion to a tree of typed text nodes.
//
// The wire format is a plain string plus a flat list of formats, each of
// which either names an inline style directly (Tp) or references an entity
// (Key) carrying a type and data. Offsets count Unicode code points.
package text

import (
	"maps"
	"reflect"
	"slices"
	"unicode/utf8"
)

// MimeDrafty is the head mime value announcing structured content.
const MimeDrafty = "text/x-drafty"

// Inline format tags.
const (
	TagLineBreak     = "BR"
	TagCode          = "CO"
	TagForm          = "FM"
	TagRow           = "RW"
	TagHighlight     = "HL"
	TagStrikethrough = "DL"
	TagItalic        = "EM"
	TagBold          = "ST"
	TagHidden        = "HD"
	TagQuote         = "QQ"
)

// Entity tags.
const (
	TagAudio     = "AU"
	TagButton    = "BN"
	TagFile      = "EX"
	TagHashtag   = "HT"
	TagImage     = "IM"
	TagLink      = "LN"
	TagMention   = "MN"
	TagVideoCall = "VC"
	TagVideo     = "VD"
)

// inlineOrder ranks inline tags for nesting: on identical ranges the tag
// ranked later becomes the outer span.
var inlineOrder = []string{
	TagLineBreak, TagCode, TagForm, TagRow, TagHighlight,
	TagStrikethrough, TagItalic, TagBold, TagHidden, TagQuote,
}

func tagWeight(tp string) int {
	if i := slices.Index(inlineOrder, tp); i >= 0 {
		return i
	}
	return 0
}

// Format is one styling instruction. At == -1 marks an entity that is not
// applied to any text range (an attachment). When Tp is empty the type is
// taken from Ent[Key].
type Format struct {
	At  int    `json:"at"`
	Len int    `json:"len"`
	Key int    `json:"key,omitempty"`
	Tp  string `json:"tp,omitempty"`
}

// rebase shifts the format by offset text positions and, for entity
// references, maps the key through keys (or adds kBase when keys has no
// entry).
func (f Format) rebase(offset int, keys map[int]int, kBase int) Format {
	if f.At >= 0 {
		f.At += offset
	}
	if f.Tp == "" {
		if k, ok := keys[f.Key]; ok {
			f.Key = k
		} else {
			f.Key += kBase
		}
	}
	return f
}

// Extend is an entity: a typed payload referenced by formats.
type Extend struct {
	Tp   string         `json:"tp"`
	Data map[string]any `json:"data,omitempty"`
}

func (e Extend) equal(o Extend) bool {
	return e.Tp == o.Tp && reflect.DeepEqual(e.Data, o.Data)
}

// Drafty is a wire-encoded rich text message.
type Drafty struct {
	Txt string   `json:"txt"`
	Fmt []Format `json:"fmt,omitempty"`
	Ent []Extend `json:"ent,omitempty"`
}

// FromString returns an unformatted message.
func FromString(s string) Drafty {
	return Drafty{Txt: s}
}

// IsPlain reports whether the message carries no formatting at all.
func (d Drafty) IsPlain() bool {
	return len(d.Fmt) == 0 && len(d.Ent) == 0
}

// Len returns the text length in code points.
func (d Drafty) Len() int {
	return utf8.RuneCountInString(d.Txt)
}

// String returns the raw text.
func (d Drafty) String() string {
	return d.Txt
}

// Clone returns a deep copy of the format and entity lists.
func (d Drafty) Clone() Drafty {
	out := Drafty{Txt: d.Txt, Fmt: slices.Clone(d.Fmt)}
	if d.Ent != nil {
		out.Ent = make([]Extend, len(d.Ent))
		for i, e := range d.Ent {
			out.Ent[i] = Extend{Tp: e.Tp, Data: maps.Clone(e.Data)}
		}
	}
	return out
}

// AppendText returns d with s appended to the text.
func (d Drafty) AppendText(s string) Drafty {
	out := d.Clone()
	out.Txt += s
	return out
}

// Concat returns a followed by b. Every range of b is shifted by the text
// length of a and every entity key of b is rebased past the entities of a.
// An entity of b equal to one already in a is reused instead of appended.
func Concat(a, b Drafty) Drafty {
	out := a.Clone()
	offset := a.Len()
	out.Txt += b.Txt

	kBase := len(out.Ent)
	keys := make(map[int]int, len(b.Ent))
	for i, e := range b.Ent {
		idx := slices.IndexFunc(out.Ent, func(x Extend) bool { return x.equal(e) })
		if idx < 0 || idx >= kBase {
			idx = len(out.Ent)
			out.Ent = append(out.Ent, Extend{Tp: e.Tp, Data: maps.Clone(e.Data)})
		}
		keys[i] = idx
	}
	for _, f := range b.Fmt {
		out.Fmt = append(out.Fmt, f.rebase(offset, keys, kBase))
	}
	return out
}

// prependFormat inserts f at the front of the format list.
func (d Drafty) prependFormat(f Format) Drafty {
	d.Fmt = append([]Format{f}, d.Fmt...)
	return d
}
