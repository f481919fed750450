package text

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// converter turns one span into a node. content is the already converted
// text under the span.
type converter func(sp Span, content Node) (Node, error)

// Decoder converts wire messages to node trees. The zero value is not
// usable; create one with NewDecoder.
type Decoder struct {
	logger     *slog.Logger
	converters map[string]converter
}

// NewDecoder creates a decoder logging degraded spans to logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{logger: logger}
	d.converters = map[string]converter{
		TagLineBreak:     func(Span, Node) (Node, error) { return NewLine, nil },
		TagBold:          styleConverter(Bold),
		TagItalic:        styleConverter(Italic),
		TagStrikethrough: styleConverter(Strikethrough),
		TagHighlight:     styleConverter(Highlight),
		TagCode: func(_ Span, c Node) (Node, error) {
			return Code{Text: c.String()}, nil
		},
		TagQuote:  func(_ Span, c Node) (Node, error) { return Quote{Content: c}, nil },
		TagRow:    func(_ Span, c Node) (Node, error) { return Row{Content: c}, nil },
		TagHidden: func(_ Span, c Node) (Node, error) { return Hidden{Content: c}, nil },
		TagForm:   convertForm,
		TagLink:   convertLink,
		TagMention: func(sp Span, c Node) (Node, error) {
			v, err := entityData(sp.Data).str("val")
			return Mention{Text: c.String(), Value: v}, err
		},
		TagHashtag: func(sp Span, c Node) (Node, error) {
			v, err := entityData(sp.Data).str("val")
			return Hashtag{Text: c.String(), Value: v}, err
		},
		TagButton:    convertButton,
		TagVideoCall: convertVideoCall,
		TagFile:      convertAttachment,
		TagImage:     convertAttachment,
		TagAudio:     convertAttachment,
		TagVideo:     convertAttachment,
	}
	return d
}

var defaultDecoder = NewDecoder(nil)

// Decode converts a wire message using a decoder logging to slog.Default.
func Decode(d Drafty) Node {
	return defaultDecoder.Decode(d)
}

// Decode converts a wire message to a node tree. Spans that fail to convert
// degrade to their plain text and never abort the rest of the message.
func (d *Decoder) Decode(df Drafty) Node {
	n, _ := d.decode(df)
	return n
}

// decode returns the node tree and the number of degraded spans.
func (d *Decoder) decode(df Drafty) (Node, int) {
	runes := []rune(df.Txt)
	spans, attachments := d.spans(df, len(runes))
	SortSpans(spans)
	st := &decodeState{runes: runes}
	nodes := d.convertRange(st, BuildTree(spans), 0, len(runes))
	for _, a := range attachments {
		nodes = append(nodes, d.convertAttachment(st, a))
	}
	return Join(nodes...), st.degraded
}

// Tree returns the span tree of a wire message along with its out-of-band
// attachment spans.
func (d *Decoder) Tree(df Drafty) (tree, attachments []Span) {
	spans, attachments := d.spans(df, df.Len())
	SortSpans(spans)
	return BuildTree(spans), attachments
}

type decodeState struct {
	runes    []rune
	degraded int
}

// spans resolves format types and clamps ranges to the text.
func (d *Decoder) spans(df Drafty, size int) (spans, attachments []Span) {
	for _, f := range df.Fmt {
		sp := Span{Type: f.Tp}
		if sp.Type == "" {
			if f.Key >= 0 && f.Key < len(df.Ent) {
				e := df.Ent[f.Key]
				sp.Type = e.Tp
				sp.Data = maps.Clone(e.Data)
				if sp.Data == nil {
					sp.Data = map[string]any{}
				}
			} else {
				sp.Type = TagHidden
			}
		}
		if f.At == -1 {
			attachments = append(attachments, sp)
			continue
		}
		start := min(max(f.At, 0), size)
		end := min(max(start+f.Len, start), size)
		if start != f.At || end != f.At+f.Len {
			d.logger.Warn("format range clamped",
				"type", sp.Type, "at", f.At, "len", f.Len, "text_len", size)
		}
		sp.Start, sp.End = start, end
		spans = append(spans, sp)
	}
	return spans, attachments
}

// convertRange converts the sibling spans covering [start, end), filling
// the gaps between them with plain text.
func (d *Decoder) convertRange(st *decodeState, spans []Span, start, end int) []Node {
	nodes := make([]Node, 0, 2*len(spans)+1)
	last := start
	for _, sp := range spans {
		if sp.Start > last {
			nodes = append(nodes, Plain{Text: string(st.runes[last:sp.Start])})
		}
		nodes = append(nodes, d.convert(st, sp))
		last = max(last, sp.End)
	}
	if last < end {
		nodes = append(nodes, Plain{Text: string(st.runes[last:end])})
	}
	return nodes
}

func (d *Decoder) convert(st *decodeState, sp Span) Node {
	content := Join(d.convertRange(st, sp.Children, sp.Start, sp.End)...)
	n, err := d.apply(sp, content)
	if err != nil {
		st.degraded++
		d.logger.Warn("span degraded to plain text",
			"type", sp.Type, "start", sp.Start, "end", sp.End, "error", err)
		return Plain{Text: string(st.runes[sp.Start:sp.End])}
	}
	return n
}

func (d *Decoder) convertAttachment(st *decodeState, sp Span) Node {
	n, err := d.apply(sp, Plain{})
	if err != nil {
		st.degraded++
		d.logger.Warn("attachment kept as opaque data", "type", sp.Type, "error", err)
		data := sp.Data
		if data == nil {
			data = map[string]any{}
		}
		return Unknown{Type: sp.Type, Data: data}
	}
	return n
}

// apply runs the converter for sp, turning a panic into an error.
func (d *Decoder) apply(sp Span, content Node) (n Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, fmt.Errorf("converter panic: %v", r)
		}
	}()
	conv, ok := d.converters[sp.Type]
	if !ok {
		return Unknown{Text: content.String(), Type: sp.Type, Data: sp.Data}, nil
	}
	return conv(sp, content)
}

func styleConverter(s Style) converter {
	return func(_ Span, c Node) (Node, error) {
		return applyStyle(c, s), nil
	}
}

func convertForm(sp Span, c Node) (Node, error) {
	su, err := entityData(sp.Data).boolean("su")
	return Form{Content: c, Standalone: su}, err
}

func convertLink(sp Span, c Node) (Node, error) {
	url, err := entityData(sp.Data).str("url")
	if err != nil {
		return nil, err
	}
	return Link{Text: c.String(), URL: url}, nil
}

func convertButton(sp Span, c Node) (Node, error) {
	r := fieldReader{data: sp.Data}
	b := Button{
		Text:   c.String(),
		Name:   r.str("name"),
		Value:  r.str("val"),
		Action: r.str("act"),
		Ref:    r.str("ref"),
	}
	if b.Action == "" {
		b.Action = ActionPublish
	}
	return b, r.err
}

func convertVideoCall(sp Span, c Node) (Node, error) {
	r := fieldReader{data: sp.Data}
	v := VideoCall{
		Text:      c.String(),
		Duration:  r.integer("duration"),
		State:     r.str("state"),
		Incoming:  r.boolean("incoming"),
		AudioOnly: r.boolean("aonly"),
	}
	return v, r.err
}

var attachmentFields = []string{
	"mime", "name", "val", "ref", "size", "width", "height", "duration", "preview",
}

func convertAttachment(sp Span, c Node) (Node, error) {
	r := fieldReader{data: sp.Data}
	a := Attachment{
		Kind:     sp.Type,
		Text:     c.String(),
		Mime:     r.str("mime"),
		Name:     r.str("name"),
		Ref:      r.str("ref"),
		Size:     r.integer("size"),
		Width:    r.integer("width"),
		Height:   r.integer("height"),
		Duration: r.integer("duration"),
		Preview:  r.str("preview"),
	}
	if val := r.str("val"); val != "" {
		raw, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("field \"val\": %w", err)
		}
		a.Raw = raw
	}
	if r.err != nil {
		return nil, r.err
	}
	for k, v := range sp.Data {
		if !slices.Contains(attachmentFields, k) {
			if a.Extra == nil {
				a.Extra = map[string]any{}
			}
			a.Extra[k] = v
		}
	}
	return a, nil
}
