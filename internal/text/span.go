package text

import (
	"cmp"
	"slices"
)

// Span is a decoded format instruction over the code point range
// [Start, End) with its resolved type and entity data.
type Span struct {
	Type     string
	Start    int
	End      int
	Data     map[string]any
	Children []Span
}

// Len returns the length of the range.
func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether o lies within s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

func compareSpans(a, b Span) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	if c := cmp.Compare(b.End, a.End); c != 0 {
		return c
	}
	return cmp.Compare(tagWeight(b.Type), tagWeight(a.Type))
}

// SortSpans orders spans by start ascending, end descending and then by
// inline weight so that on identical ranges the outer tag comes first.
// Spans that still compare equal keep their input order.
func SortSpans(spans []Span) {
	slices.SortStableFunc(spans, compareSpans)
}

// BuildTree nests sorted spans. A span starting at or after the end of the
// previous top-level span becomes its sibling, a span fully inside it
// becomes its child and a span straddling its end is dropped.
func BuildTree(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	tree := []Span{spans[0]}
	tree[0].Children = nil
	children := [][]Span{nil}
	for _, s := range spans[1:] {
		last := &tree[len(tree)-1]
		switch {
		case s.Start >= last.End:
			s.Children = nil
			tree = append(tree, s)
			children = append(children, nil)
		case s.End <= last.End:
			children[len(children)-1] = append(children[len(children)-1], s)
		}
	}
	for i := range tree {
		tree[i].Children = BuildTree(children[i])
	}
	return tree
}
