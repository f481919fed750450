package rule

import (
	"regexp"
	"strings"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
)

// Topic matches messages in topic.
func Topic(topic string) Rule {
	return Func(func(m *message.Message) float64 { return score(m.Topic == topic) })
}

// SeqID matches one message by topic and sequence id.
func SeqID(topic string, seq int) Rule {
	return Func(func(m *message.Message) float64 {
		return score(m.Topic == topic && m.SeqID == seq)
	})
}

// User matches messages sent by userID.
func User(userID string) Rule {
	return Func(func(m *message.Message) float64 { return score(m.UserID == userID) })
}

// Keyword matches messages whose text contains kw.
func Keyword(kw string) Rule {
	return Func(func(m *message.Message) float64 { return score(strings.Contains(m.PlainText, kw)) })
}

// Regex matches messages whose text contains a match of re.
func Regex(re *regexp.Regexp) Rule {
	return Func(func(m *message.Message) float64 { return score(re.MatchString(m.PlainText)) })
}

// Mention matches messages mentioning userID.
func Mention(userID string) Rule {
	return Func(func(m *message.Message) float64 { return score(m.Mentioned(userID)) })
}

// QuoteFilter constrains Quote. Zero fields are unconstrained.
type QuoteFilter struct {
	// UserID is the author of the quoted message.
	UserID string
	// SeqID is the sequence id replied to.
	SeqID int
}

// Quote matches messages that open with a quote. A SeqID filter is checked
// against the reply head and a UserID filter against the leading mention
// inside the quote.
func Quote(f QuoteFilter) Rule {
	return Func(func(m *message.Message) float64 {
		if m.Quote == nil {
			return 0
		}
		if f.SeqID != 0 {
			reply, ok := m.ReplyTo()
			if !ok || reply != f.SeqID {
				return 0
			}
		}
		if f.UserID != "" {
			mn, ok := m.Quote.Mention()
			if !ok || mn.Value != f.UserID {
				return 0
			}
		}
		return 1
	})
}

// ToMe matches messages addressed to userID: every message of a one-to-one
// topic, otherwise messages mentioning userID.
func ToMe(userID string) Rule {
	return Func(func(m *message.Message) float64 {
		return score(m.IsDirect() || m.Mentioned(userID))
	})
}

// Options describes a conjunction of leaf rules. Zero fields are skipped.
// SeqID is only meaningful together with Topic.
type Options struct {
	Topic   string
	SeqID   int
	UserID  string
	Keyword string
	Regex   *regexp.Regexp
	Mention string
	Quote   *QuoteFilter
	ToMe    string
}

// Build combines the set fields of o with And.
func Build(o Options) (Rule, error) {
	var rules []Rule
	switch {
	case o.SeqID != 0 && o.Topic == "":
		return nil, domain.NewDomainError("rule.Build", domain.ErrInvalidInput, "seq id needs a topic")
	case o.SeqID != 0:
		rules = append(rules, SeqID(o.Topic, o.SeqID))
	case o.Topic != "":
		rules = append(rules, Topic(o.Topic))
	}
	if o.UserID != "" {
		rules = append(rules, User(o.UserID))
	}
	if o.Keyword != "" {
		rules = append(rules, Keyword(o.Keyword))
	}
	if o.Regex != nil {
		rules = append(rules, Regex(o.Regex))
	}
	if o.Mention != "" {
		rules = append(rules, Mention(o.Mention))
	}
	if o.Quote != nil {
		rules = append(rules, Quote(*o.Quote))
	}
	if o.ToMe != "" {
		rules = append(rules, ToMe(o.ToMe))
	}
	return And(rules...), nil
}
