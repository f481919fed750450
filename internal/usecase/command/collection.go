package command

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/infra/tracer"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
	"github.com/Visecy/Karuha-sub000/internal/usecase/session"
)

// Score is the dispatch score of a message recognized as a command.
const Score = 1.0

// PrepareHook runs before a handler. Returning an error wrapping
// domain.ErrCancelled vetoes the call silently; other errors fail it.
type PrepareHook func(ctx context.Context, inv *Invocation) error

// SessionFactory creates the session injected into handlers.
type SessionFactory func(m *message.Message) *session.Session

// Deps are the collaborators of a collection.
type Deps struct {
	Parser    NameParser
	Resolvers *Resolvers
	Bus       domain.EventBus
	Logger    *slog.Logger
	Sessions  SessionFactory
}

// Collection is a set of commands keyed by name and alias, optionally with
// nested sub-collections searched after its own commands.
type Collection struct {
	name      string
	parser    NameParser
	resolvers *Resolvers
	bus       domain.EventBus
	logger    *slog.Logger
	sessions  SessionFactory

	mu       sync.RWMutex
	commands map[string]*Command
	order    []*Command
	subs     []*Collection
	prepare  []PrepareHook
}

// NewCollection creates an empty collection.
func NewCollection(name string, deps Deps) *Collection {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Parser == nil {
		deps.Parser = NewPrefixParser()
	}
	if deps.Resolvers == nil {
		deps.Resolvers = NewResolvers(deps.Logger)
	}
	return &Collection{
		name:      name,
		parser:    deps.Parser,
		resolvers: deps.Resolvers,
		bus:       deps.Bus,
		logger:    deps.Logger,
		sessions:  deps.Sessions,
		commands:  make(map[string]*Command),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Register adds cmd under its name and aliases. Names must satisfy the
// parser and be unique within the collection; parameters must all bind.
func (c *Collection) Register(cmd *Command) error {
	const op = "Collection.Register"
	names := cmd.Names()
	for _, n := range names {
		if !c.parser.CheckName(n) {
			return domain.NewDomainError(op, domain.ErrCommandName, fmt.Sprintf("command '%s'", n))
		}
	}
	getters, err := c.resolvers.Bind(cmd.Params)
	if err != nil {
		return domain.NewDomainError(op, err, fmt.Sprintf("command '%s'", cmd.Name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range names {
		if _, ok := c.commands[n]; ok || slices.Contains(names[:i], n) {
			return domain.NewDomainError(op, domain.ErrCommandExists, fmt.Sprintf("command '%s'", n))
		}
	}
	cmd.getters = getters
	for _, n := range names {
		c.commands[n] = cmd
	}
	c.order = append(c.order, cmd)
	c.logger.Debug("command registered", "collection", c.name, "command", cmd.Name, "aliases", cmd.Aliases)
	return nil
}

// Add creates and registers a command.
func (c *Collection) Add(name string, h Handler, opts ...Option) (*Command, error) {
	cmd := New(name, h, opts...)
	return cmd, c.Register(cmd)
}

// Sub creates a sub-collection sharing this collection's collaborators.
func (c *Collection) Sub(name string) *Collection {
	sub := &Collection{
		name:      name,
		parser:    c.parser,
		resolvers: c.resolvers,
		bus:       c.bus,
		logger:    c.logger,
		sessions:  c.sessions,
		commands:  make(map[string]*Command),
	}
	c.AddSub(sub)
	return sub
}

// AddSub nests sub. Sub-collections are searched in the order added.
func (c *Collection) AddSub(sub *Collection) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

// OnPrepare adds a hook run before every command of this collection and
// its sub-collections.
func (c *Collection) OnPrepare(h PrepareHook) {
	c.mu.Lock()
	c.prepare = append(c.prepare, h)
	c.mu.Unlock()
}

// Commands returns the commands of this collection in registration order.
func (c *Collection) Commands() []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Lookup finds a command by name or alias, depth-first, own commands
// before sub-collections. It returns the chain of collections from c to
// the owner.
func (c *Collection) Lookup(name string) (*Command, []*Collection) {
	c.mu.RLock()
	cmd, ok := c.commands[name]
	subs := slices.Clone(c.subs)
	c.mu.RUnlock()
	if ok {
		return cmd, []*Collection{c}
	}
	for _, sub := range subs {
		if cmd, path := sub.Lookup(name); cmd != nil {
			return cmd, append([]*Collection{c}, path...)
		}
	}
	return nil, nil
}

// Match scores m for dispatch: Score when it parses as a command.
func (c *Collection) Match(m *message.Message) float64 {
	if _, _, ok := c.parser.Parse(m); ok {
		return Score
	}
	return 0
}

// Run looks up and invokes the command in m. An unknown command and a
// failing handler are reported as events; Run only returns the result of
// a successful call.
func (c *Collection) Run(ctx context.Context, m *message.Message) (any, error) {
	name, argv, ok := c.parser.Parse(m)
	if !ok {
		return nil, nil
	}
	cmd, path := c.Lookup(name)
	if cmd == nil {
		c.logger.Info("command not found", "collection", c.name, "command", name, "topic", m.Topic, "user", m.UserID)
		c.publish(ctx, domain.EventCommandNotFound, m, domain.CommandPayload{
			Collection: c.name, Command: name, Argv: argv, UserID: m.UserID, SeqID: m.SeqID,
		})
		return nil, nil
	}
	inv := &Invocation{
		ID:         newID(),
		Collection: path[len(path)-1],
		Command:    cmd,
		Name:       name,
		Argv:       argv,
		Message:    m,
	}
	return c.invoke(ctx, inv, path)
}

// Listen registers the collection as a listener of reg.
func (c *Collection) Listen(reg *dispatch.Registry[*message.Message]) *dispatch.Handle[*message.Message] {
	return reg.Register(c, dispatch.Named("command."+c.name))
}

func (c *Collection) invoke(ctx context.Context, inv *Invocation, path []*Collection) (any, error) {
	ctx, span := tracer.StartSpan(ctx, "command.invoke",
		trace.WithAttributes(
			tracer.StringAttr("command.name", inv.Command.Name),
			tracer.StringAttr("command.collection", inv.Collection.name),
			tracer.StringAttr("command.invocation_id", inv.ID),
		),
		trace.WithAttributes(tracer.MessageAttrs(inv.Message.Topic, inv.Message.UserID, inv.Message.SeqID)...),
	)
	defer span.End()

	c.publish(ctx, domain.EventCommandPrepare, inv.Message, inv.payload(nil, nil))
	for _, col := range path {
		col.mu.RLock()
		hooks := slices.Clone(col.prepare)
		col.mu.RUnlock()
		for _, h := range hooks {
			if err := h(ctx, inv); err != nil {
				return c.finish(ctx, span, inv, nil, err)
			}
		}
	}
	result, err := call(ctx, inv)
	return c.finish(ctx, span, inv, result, err)
}

func call(ctx context.Context, inv *Invocation) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command %s panicked: %v", inv.Command.Name, p)
		}
	}()
	return inv.Command.Handler(ctx, inv.Command.values(inv))
}

func (c *Collection) finish(ctx context.Context, span trace.Span, inv *Invocation, result any, err error) (any, error) {
	m := inv.Message
	tracer.Finish(span, err)
	switch {
	case err == nil:
		c.logger.Debug("command completed", "command", inv.Command.Name, "invocation", inv.ID)
		c.publish(ctx, domain.EventCommandCompleted, m, inv.payload(result, nil))
		return result, nil
	case domain.IsCancellation(err):
		c.logger.Debug("command cancelled", "command", inv.Command.Name, "invocation", inv.ID, "reason", err)
		c.publish(ctx, domain.EventCommandCancelled, m, inv.payload(nil, nil))
		return nil, nil
	default:
		c.logger.Error("command failed",
			"command", inv.Command.Name,
			"invocation", inv.ID,
			"topic", m.Topic,
			"user", m.UserID,
			"seq", m.SeqID,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		c.publish(ctx, domain.EventCommandFailed, m, inv.payload(nil, err))
		return nil, nil
	}
}

func (c *Collection) publish(ctx context.Context, t domain.EventType, m *message.Message, payload domain.CommandPayload) {
	if c.bus == nil {
		return
	}
	ev := domain.NewEvent(t, m.Topic, payload)
	ev.ID = newID()
	c.bus.Publish(ctx, ev)
}

func (inv *Invocation) payload(result any, err error) domain.CommandPayload {
	p := domain.CommandPayload{
		InvocationID: inv.ID,
		Collection:   inv.Collection.name,
		Command:      inv.Command.Name,
		Argv:         inv.Argv,
		UserID:       inv.Message.UserID,
		SeqID:        inv.Message.SeqID,
		Result:       result,
	}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
