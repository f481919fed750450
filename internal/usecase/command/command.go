package command

import (
	"context"

	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/usecase/session"
)

// Handler runs a command with its resolved parameters.
type Handler func(ctx context.Context, v Values) (any, error)

// Command is a named handler reachable by name or alias.
type Command struct {
	Name    string
	Aliases []string
	Params  []Param
	Handler Handler

	getters []Getter
}

// Option configures a Command.
type Option func(*Command)

// WithAliases adds alternative names.
func WithAliases(aliases ...string) Option {
	return func(c *Command) { c.Aliases = append(c.Aliases, aliases...) }
}

// WithParams declares the handler parameters.
func WithParams(params ...Param) Option {
	return func(c *Command) { c.Params = append(c.Params, params...) }
}

// New creates a command.
func New(name string, h Handler, opts ...Option) *Command {
	c := &Command{Name: name, Handler: h}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Names returns the name followed by the aliases.
func (c *Command) Names() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// Invocation is one call of a command: the resolved command, the name it
// was invoked under, its argument tokens and the triggering message.
type Invocation struct {
	ID         string
	Collection *Collection
	Command    *Command
	Name       string
	Argv       []string
	Message    *message.Message

	session *session.Session
}

// Session returns a session answering the triggering message, or nil when
// the collection has no session factory.
func (inv *Invocation) Session() *session.Session {
	if inv.session == nil && inv.Collection.sessions != nil {
		inv.session = inv.Collection.sessions(inv.Message)
	}
	return inv.session
}

func (c *Command) values(inv *Invocation) Values {
	v := Values{inv: inv, names: make([]string, len(c.Params)), values: make([]any, len(c.Params))}
	for i, p := range c.Params {
		v.names[i] = p.Name
		if x, ok := c.getters[i](inv); ok {
			v.values[i] = x
		}
	}
	return v
}
