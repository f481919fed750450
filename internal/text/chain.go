package text

// Join concatenates nodes into normalized form: nested chains are flattened,
// adjacent Plain nodes merged and empty Plain nodes dropped. A single
// remaining node is returned as is; no nodes yield an empty Plain.
func Join(nodes ...Node) Node {
	items := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if c, ok := n.(Chain); ok {
			for _, it := range c.Items {
				items = appendNode(items, it)
			}
			continue
		}
		items = appendNode(items, n)
	}
	switch len(items) {
	case 0:
		return Plain{}
	case 1:
		return items[0]
	}
	return Chain{Items: items}
}

func appendNode(items []Node, n Node) []Node {
	switch v := n.(type) {
	case nil:
		return items
	case Chain:
		for _, it := range v.Items {
			items = appendNode(items, it)
		}
		return items
	case Plain:
		if v.Text == "" {
			return items
		}
		if last := len(items) - 1; last >= 0 {
			if p, ok := items[last].(Plain); ok {
				items[last] = Plain{Text: p.Text + v.Text}
				return items
			}
		}
	}
	return append(items, n)
}

// Len returns the number of items.
func (c Chain) Len() int { return len(c.Items) }

// Index returns the i-th item.
func (c Chain) Index(i int) Node { return c.Items[i] }

// Slice returns items [i, j) joined back into a node.
func (c Chain) Slice(i, j int) Node { return Join(c.Items[i:j]...) }

// Append returns the chain extended by nodes.
func (c Chain) Append(nodes ...Node) Node {
	all := make([]Node, 0, len(c.Items)+len(nodes))
	all = append(all, c.Items...)
	return Join(append(all, nodes...)...)
}

// applyStyle adds style s to every text run under n. Plain text becomes
// Styled, containers are styled through, other leaves are left untouched.
func applyStyle(n Node, s Style) Node {
	switch v := n.(type) {
	case Plain:
		return Styled{Text: v.Text, Style: s}
	case Styled:
		return Styled{Text: v.Text, Style: v.Style | s}
	case Chain:
		items := make([]Node, len(v.Items))
		for i, it := range v.Items {
			items[i] = applyStyle(it, s)
		}
		return Chain{Items: items}
	case Quote:
		return Quote{Content: applyStyle(v.Content, s)}
	case Form:
		return Form{Content: applyStyle(v.Content, s), Standalone: v.Standalone}
	case Row:
		return Row{Content: applyStyle(v.Content, s)}
	case Hidden:
		return Hidden{Content: applyStyle(v.Content, s)}
	}
	return n
}

// Walk visits n and its descendants depth-first in document order. Returning
// false from fn skips the children of the visited node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case Chain:
		for _, it := range v.Items {
			Walk(it, fn)
		}
	case Quote:
		Walk(v.Content, fn)
	case Form:
		Walk(v.Content, fn)
	case Row:
		Walk(v.Content, fn)
	case Hidden:
		Walk(v.Content, fn)
	}
}
