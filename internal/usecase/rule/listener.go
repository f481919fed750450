package rule

import (
	"context"

	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
)

// DefaultWeight scales rule scores so that a matching rule outranks a
// command.
const DefaultWeight = 1.5

// Handler handles a message selected by a rule.
type Handler func(ctx context.Context, m *message.Message) (any, error)

// Listener runs Handler for messages matching Rule.
type Listener struct {
	Rule    Rule
	Weight  float64
	Handler Handler
}

// Match returns the rule score scaled by the weight.
func (l *Listener) Match(m *message.Message) float64 {
	return l.Rule.Match(m) * l.Weight
}

func (l *Listener) Run(ctx context.Context, m *message.Message) (any, error) {
	return l.Handler(ctx, m)
}

// On registers h to run for messages matching r with DefaultWeight.
func On(reg *dispatch.Registry[*message.Message], r Rule, h Handler, opts ...dispatch.RegisterOption) *dispatch.Handle[*message.Message] {
	return OnWeighted(reg, r, DefaultWeight, h, opts...)
}

// OnWeighted is On with an explicit weight.
func OnWeighted(reg *dispatch.Registry[*message.Message], r Rule, weight float64, h Handler, opts ...dispatch.RegisterOption) *dispatch.Handle[*message.Message] {
	return reg.Register(&Listener{Rule: r, Weight: weight, Handler: h}, opts...)
}
