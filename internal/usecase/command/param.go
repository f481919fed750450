package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/text"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
	"github.com/Visecy/Karuha-sub000/internal/usecase/session"
)

// Kind is the declared type of a handler parameter.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindStrings
	KindHead
	KindBytes
	KindNode
	KindDrafty
	KindSession
	KindMessage
	KindCommand
)

var kindNames = [...]string{
	"any", "string", "int", "[]string", "head", "bytes", "node", "drafty", "session", "message", "command",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Param declares one handler parameter. Parameters are bound to resolvers
// once, when the command is registered.
type Param struct {
	Name string
	Kind Kind
	// Default is used when the resolver has no value for a message, and
	// in place of a resolver when none matches.
	Default any
	// FromHead resolves the parameter from the message head field Name.
	FromHead bool
	// KeywordOnly strengthens name matching over type matching.
	KeywordOnly bool
}

// Getter produces a parameter value for an invocation.
type Getter func(inv *Invocation) (any, bool)

// Resolver supplies values for parameters it scores high enough on.
type Resolver struct {
	Name string
	// Kinds lists the kinds the resolver can produce, primary first.
	Kinds []Kind
	// Special resolvers produce values only meaningful by type; a type
	// match weighs as much as a name match.
	Special bool
	Get     func(inv *Invocation, p Param) (any, bool)
}

// Match scores how well the resolver fits p.
func (r *Resolver) Match(p Param) float64 {
	var rate float64
	if p.Name == r.Name {
		if p.KeywordOnly {
			rate += 1.2
		} else {
			rate += 1.0
		}
	}
	switch {
	case p.Kind == KindAny:
	case len(r.Kinds) > 0 && p.Kind == r.Kinds[0]:
		if r.Special {
			rate += 1.0
		} else {
			rate += 0.4
		}
	case slices.Contains(r.Kinds, p.Kind):
		if r.Special {
			rate += 0.5
		} else {
			rate += 0.2
		}
	default:
		rate -= 0.4
	}
	return rate
}

// Run returns the getter bound to p.
func (r *Resolver) Run(_ context.Context, p Param) (any, error) {
	return Getter(func(inv *Invocation) (any, bool) { return r.Get(inv, p) }), nil
}

// ResolverThreshold is the minimum resolver score for a binding.
const ResolverThreshold = 0.6

// Resolvers is the table parameters are bound against.
type Resolvers struct {
	reg *dispatch.Registry[Param]
}

// NewResolvers returns a table holding the built-in resolvers.
func NewResolvers(logger *slog.Logger) *Resolvers {
	rs := &Resolvers{reg: dispatch.NewRegistry[Param]("command.param", logger,
		dispatch.WithDefaultThreshold(ResolverThreshold))}
	for _, r := range builtinResolvers() {
		rs.Add(r)
	}
	return rs
}

// Add registers a resolver. Later resolvers lose ties against earlier ones.
func (rs *Resolvers) Add(r *Resolver) {
	rs.reg.Register(r, dispatch.Named("param."+r.Name))
}

// Bind resolves every parameter to a getter.
func (rs *Resolvers) Bind(params []Param) ([]Getter, error) {
	getters := make([]Getter, len(params))
	for i, p := range params {
		g, err := rs.bind(p)
		if err != nil {
			return nil, err
		}
		getters[i] = withDefault(g, p.Default)
	}
	return getters, nil
}

func (rs *Resolvers) bind(p Param) (Getter, error) {
	if p.FromHead {
		return headGetter(p), nil
	}
	out, err := rs.reg.Dispatch(context.Background(), p)
	if err != nil {
		return nil, err
	}
	if !out.Matched {
		if p.Default != nil {
			return func(*Invocation) (any, bool) { return nil, false }, nil
		}
		return nil, domain.NewDomainError("Resolvers.Bind", domain.ErrParamUnresolved,
			fmt.Sprintf("parameter %s %s", p.Name, p.Kind))
	}
	return out.Result.(Getter), nil
}

func withDefault(g Getter, def any) Getter {
	if def == nil {
		return g
	}
	return func(inv *Invocation) (any, bool) {
		if v, ok := g(inv); ok {
			return v, true
		}
		return def, true
	}
}

func headGetter(p Param) Getter {
	return func(inv *Invocation) (any, bool) {
		m := inv.Message
		switch p.Kind {
		case KindString:
			return m.HeadString(p.Name)
		case KindInt:
			return m.HeadInt(p.Name)
		}
		raw, ok := m.Head[p.Name]
		return raw, ok
	}
}

func builtinResolvers() []*Resolver {
	msg := func(get func(m *message.Message, p Param) (any, bool)) func(*Invocation, Param) (any, bool) {
		return func(inv *Invocation, p Param) (any, bool) { return get(inv.Message, p) }
	}
	return []*Resolver{
		{Name: "topic", Kinds: []Kind{KindString}, Get: msg(func(m *message.Message, _ Param) (any, bool) {
			return m.Topic, true
		})},
		{Name: "user_id", Kinds: []Kind{KindString}, Get: msg(func(m *message.Message, _ Param) (any, bool) {
			return m.UserID, true
		})},
		{Name: "seq_id", Kinds: []Kind{KindInt}, Get: msg(func(m *message.Message, _ Param) (any, bool) {
			return m.SeqID, true
		})},
		{Name: "head", Kinds: []Kind{KindHead}, Get: msg(func(m *message.Message, _ Param) (any, bool) {
			return m.Head, true
		})},
		{Name: "content", Kinds: []Kind{KindBytes}, Get: msg(func(m *message.Message, _ Param) (any, bool) {
			return []byte(m.Content), true
		})},
		{Name: "text", Kinds: []Kind{KindNode, KindString}, Get: msg(func(m *message.Message, p Param) (any, bool) {
			if p.Kind == KindString {
				return m.PlainText, true
			}
			return m.Text, true
		})},
		{Name: "raw_text", Kinds: []Kind{KindDrafty, KindString}, Get: msg(func(m *message.Message, p Param) (any, bool) {
			if p.Kind == KindString || (p.Kind == KindAny && m.Wire == nil) {
				return m.RawText, true
			}
			if m.Wire == nil {
				return nil, false
			}
			return *m.Wire, true
		})},
		{Name: "plain_text", Kinds: []Kind{KindString}, Get: msg(func(m *message.Message, _ Param) (any, bool) {
			return m.PlainText, true
		})},
		{Name: "argv", Kinds: []Kind{KindStrings}, Get: func(inv *Invocation, _ Param) (any, bool) {
			return inv.Argv, true
		}},
		{Name: "name", Kinds: []Kind{KindString}, Get: func(inv *Invocation, _ Param) (any, bool) {
			return inv.Name, true
		}},
		{Name: "session", Kinds: []Kind{KindSession}, Special: true, Get: func(inv *Invocation, _ Param) (any, bool) {
			s := inv.Session()
			return s, s != nil
		}},
		{Name: "message", Kinds: []Kind{KindMessage}, Special: true, Get: func(inv *Invocation, _ Param) (any, bool) {
			return inv.Message, true
		}},
		{Name: "command", Kinds: []Kind{KindCommand}, Special: true, Get: func(inv *Invocation, _ Param) (any, bool) {
			return inv.Command, true
		}},
	}
}

// Values holds the resolved parameters of one invocation.
type Values struct {
	inv    *Invocation
	names  []string
	values []any
}

// Invocation returns the invocation being served.
func (v Values) Invocation() *Invocation { return v.inv }

// Get returns the value of the named parameter.
func (v Values) Get(name string) (any, bool) {
	for i, n := range v.names {
		if n == name {
			return v.values[i], v.values[i] != nil
		}
	}
	return nil, false
}

// Index returns the i-th parameter value.
func (v Values) Index(i int) any { return v.values[i] }

// Len returns the number of parameters.
func (v Values) Len() int { return len(v.values) }

// String returns a string parameter or "".
func (v Values) String(name string) string {
	x, _ := v.Get(name)
	s, _ := x.(string)
	return s
}

// Int returns an int parameter or 0.
func (v Values) Int(name string) int {
	x, _ := v.Get(name)
	n, _ := x.(int)
	return n
}

// Strings returns a []string parameter.
func (v Values) Strings(name string) []string {
	x, _ := v.Get(name)
	s, _ := x.([]string)
	return s
}

// Head returns a head parameter.
func (v Values) Head(name string) map[string]json.RawMessage {
	x, _ := v.Get(name)
	h, _ := x.(map[string]json.RawMessage)
	return h
}

// Node returns a text node parameter.
func (v Values) Node(name string) text.Node {
	x, _ := v.Get(name)
	n, _ := x.(text.Node)
	return n
}

// Session returns a session parameter.
func (v Values) Session(name string) *session.Session {
	x, _ := v.Get(name)
	s, _ := x.(*session.Session)
	return s
}

// Message returns a message parameter.
func (v Values) Message(name string) *message.Message {
	x, _ := v.Get(name)
	m, _ := x.(*message.Message)
	return m
}
