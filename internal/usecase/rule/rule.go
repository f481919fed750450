// Package rule provides composable predicates over inbound messages and the
// listeners that run handlers when they match.
package rule

import (
	"github.com/Visecy/Karuha-sub000/internal/message"
)

// Rule scores a message in [0, 1].
type Rule interface {
	Match(m *message.Message) float64
}

// Func adapts a function to Rule.
type Func func(m *message.Message) float64

func (f Func) Match(m *message.Message) float64 { return f(m) }

type always struct{}

func (always) Match(*message.Message) float64 { return 1 }

// Always matches every message. It is the identity of And.
var Always Rule = always{}

type and []Rule

func (r and) Match(m *message.Message) float64 {
	score := 1.0
	for _, sub := range r {
		score *= sub.Match(m)
		if score == 0 {
			return 0
		}
	}
	return score
}

type or []Rule

func (r or) Match(m *message.Message) float64 {
	var score float64
	for _, sub := range r {
		score = max(score, sub.Match(m))
	}
	return score
}

type not struct{ r Rule }

func (r not) Match(m *message.Message) float64 { return 1 - r.r.Match(m) }

// And scores the product of rules. Always operands are skipped and nested
// conjunctions flattened.
func And(rules ...Rule) Rule {
	var out and
	for _, r := range rules {
		switch v := r.(type) {
		case nil, always:
		case and:
			out = append(out, v...)
		default:
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return Always
	case 1:
		return out[0]
	}
	return out
}

// Or scores the maximum of rules, or 0 when empty.
func Or(rules ...Rule) Rule {
	var out or
	for _, r := range rules {
		switch v := r.(type) {
		case nil:
		case or:
			out = append(out, v...)
		default:
			out = append(out, r)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Not scores 1 minus r.
func Not(r Rule) Rule {
	if n, ok := r.(not); ok {
		return n.r
	}
	return not{r: r}
}

func score(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
