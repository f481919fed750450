// Package session sends messages to a topic and waits for the replies that
// follow them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/text"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
)

// Listener priorities. A reply waiter outranks rule handlers; a form
// response outranks everything.
const (
	ReplyPriority = 1.2
	FormPriority  = 2.5
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Channel  domain.Channel
	Registry *dispatch.Registry[*message.Message]
	// Limiter throttles outbound messages. Nil means unlimited.
	Limiter *rate.Limiter
	Bus     domain.EventBus
	Logger  *slog.Logger
	// WaitTimeout bounds waits whose context has no deadline. Zero means
	// no bound.
	WaitTimeout time.Duration
}

// NewLimiter builds the outbound limiter from a per-minute rate, matching
// the rate configuration used elsewhere.
func NewLimiter(perMinute float64, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMinute)/60, burst)
}

// Session talks to one topic, optionally on behalf of an inbound message.
type Session struct {
	deps  Deps
	topic string
	msg   *message.Message
}

// New creates a session for topic.
func New(deps Deps, topic string) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{deps: deps, topic: topic}
}

// ForMessage creates a session answering m in its topic.
func ForMessage(deps Deps, m *message.Message) *Session {
	s := New(deps, m.Topic)
	s.msg = m
	return s
}

// Topic returns the session topic.
func (s *Session) Topic() string { return s.topic }

// Message returns the inbound message the session answers, if any.
func (s *Session) Message() *message.Message { return s.msg }

// SendOption customizes an outbound message.
type SendOption func(*domain.Publication)

// WithHead sets a head field.
func WithHead(key string, value any) SendOption {
	return func(p *domain.Publication) {
		if p.Head == nil {
			p.Head = map[string]any{}
		}
		p.Head[key] = value
	}
}

// ReplyTo marks the message as a reply to seq.
func ReplyTo(seq int) SendOption {
	return WithHead("reply", strconv.Itoa(seq))
}

// Replace marks the message as an edit of seq.
func Replace(seq int) SendOption {
	return WithHead("replace", ":"+strconv.Itoa(seq))
}

// ToTopic overrides the destination topic.
func ToTopic(topic string) SendOption {
	return func(p *domain.Publication) { p.Topic = topic }
}

// Send publishes n and returns the sequence id assigned by the server.
// Structured content carries the drafty mime head.
func (s *Session) Send(ctx context.Context, n text.Node, opts ...SendOption) (int, error) {
	content, head := text.Marshal(n)
	pub := domain.Publication{Topic: s.topic, Content: content, Head: maps.Clone(head), NoEcho: true}
	for _, opt := range opts {
		opt(&pub)
	}

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx); err != nil {
			return 0, domain.WrapOp("Session.Send", err)
		}
	}
	seq, err := s.deps.Channel.Publish(ctx, pub)
	if err != nil {
		return 0, domain.WrapOp("Session.Send", err)
	}

	s.deps.Logger.Info(fmt.Sprintf("(%s)<= %s", pub.Topic, message.Truncate(n.String(), 128)))
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventMessageSent, pub.Topic, map[string]any{"seq": seq}))
	}
	return seq, nil
}

// SendText publishes plain text.
func (s *Session) SendText(ctx context.Context, txt string, opts ...SendOption) (int, error) {
	return s.Send(ctx, text.Plain{Text: txt}, opts...)
}

// Reply publishes n as a reply to the inbound message.
func (s *Session) Reply(ctx context.Context, n text.Node, opts ...SendOption) (int, error) {
	if s.msg != nil {
		opts = append([]SendOption{ReplyTo(s.msg.SeqID)}, opts...)
	}
	return s.Send(ctx, n, opts...)
}

// WaitOptions narrows the reply being waited for. Topic defaults to the
// session topic.
type WaitOptions struct {
	Topic   string
	UserID  string
	Pattern *regexp.Regexp
}

func (s *Session) waitMatch(o WaitOptions, priority float64) func(*message.Message) float64 {
	topic := o.Topic
	if topic == "" {
		topic = s.topic
	}
	return func(m *message.Message) float64 {
		switch {
		case m.Topic != topic:
			return 0
		case o.UserID != "" && m.UserID != o.UserID:
			return 0
		case o.Pattern != nil:
			if loc := o.Pattern.FindStringIndex(m.PlainText); loc == nil || loc[0] != 0 {
				return 0
			}
		}
		return priority
	}
}

func (s *Session) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.deps.WaitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.deps.WaitTimeout)
}

// WaitReply blocks until a message matching o arrives in the topic.
func (s *Session) WaitReply(ctx context.Context, o WaitOptions) (*message.Message, error) {
	ctx, cancel := s.waitContext(ctx)
	defer cancel()
	m, err := s.deps.Registry.Wait(ctx, s.waitMatch(o, ReplyPriority), dispatch.Named("session.reply"))
	return m, domain.WrapOp("Session.WaitReply", err)
}

// Buttons builds form buttons named after their lowercased labels.
func Buttons(labels ...string) []text.Button {
	out := make([]text.Button, len(labels))
	for i, l := range labels {
		out[i] = text.Button{Text: l, Name: strings.ToLower(strings.TrimSpace(l)), Action: text.ActionPublish}
	}
	return out
}
