// Package channel connects the bot to a Tinode chat server. The protocol
// client is shared; WebSocket and gRPC only differ in how frames travel.
package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Visecy/Karuha-sub000/internal/domain"
)

// Protocol constants.
const (
	ProtocolVersion = "0.22"
	Version         = "0.1.0"
	topicMe         = "me"
)

// Conn is one bidirectional frame stream to the server. Send is never called
// concurrently; Recv is only called from the read loop.
type Conn interface {
	Send(ctx context.Context, msg *ClientMsg) error
	Recv(ctx context.Context) (*ServerMsg, error)
	Close() error
}

// Dialer opens a new Conn.
type Dialer func(ctx context.Context) (Conn, error)

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds how long a request waits for its ctrl reply.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many times a lost connection is re-dialled.
func WithRetry(n int) Option {
	return func(c *Client) { c.retry = n }
}

// WithBackoff sets the delay unit between reconnect attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// Client implements domain.Channel on top of a Tinode frame stream.
type Client struct {
	name    string
	dial    Dialer
	scheme  string
	secret  string
	timeout time.Duration
	retry   int
	backoff time.Duration
	logger  *slog.Logger

	handler domain.EnvelopeHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	doneMu  sync.Once
	stopped atomic.Bool
	nextID  atomic.Uint64

	sendMu sync.Mutex // serializes Conn.Send
	mu     sync.Mutex // guards the fields below
	link   *link
	userID string
	token  string
	topics map[string]bool
}

// link is one established connection and the requests waiting on it.
type link struct {
	conn    Conn
	ready   atomic.Bool
	mu      sync.Mutex
	pending map[string]chan *MsgServerCtrl
	closed  bool
}

// NewClient creates a protocol client. name is reported by Name.
func NewClient(name string, dial Dialer, scheme, secret string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		name:    name,
		dial:    dial,
		scheme:  scheme,
		secret:  secret,
		timeout: 10 * time.Second,
		backoff: 500 * time.Millisecond,
		logger:  logger,
		done:    make(chan struct{}),
		topics:  make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements domain.Channel.
func (c *Client) Name() string { return c.name }

// UserID returns the bot's user id once logged in.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Done is closed when the client stops for good, either through Stop or
// after reconnecting failed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Start implements domain.Channel. It connects, logs in and subscribes to
// the bot's own topic, then keeps reading in the background. Data messages
// are passed to handler one at a time in arrival order.
func (c *Client) Start(ctx context.Context, handler domain.EnvelopeHandler) error {
	c.handler = handler
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.connect(ctx); err != nil {
		c.cancel()
		c.finish()
		return fmt.Errorf("%s connect: %w", c.name, err)
	}
	c.logger.Info("channel started", "channel", c.name, "user", c.UserID())
	return nil
}

// Stop implements domain.Channel.
func (c *Client) Stop(_ context.Context) error {
	if c.stopped.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if l := c.current(); l != nil {
		l.conn.Close()
	}
	c.wg.Wait()
	c.finish()
	c.logger.Info("channel stopped", "channel", c.name)
	return nil
}

func (c *Client) finish() {
	c.doneMu.Do(func() { close(c.done) })
}

func (c *Client) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Client) connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	l := &link{conn: conn, pending: make(map[string]chan *MsgServerCtrl)}
	c.mu.Lock()
	c.link = l
	c.topics = make(map[string]bool)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(ctx, l)

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return err
	}
	l.ready.Store(true)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	ua := fmt.Sprintf("KaruhaBot/%s (%s/%s); go/%s", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	ctrl, err := c.request(ctx, "hi", &ClientMsg{Hi: &MsgClientHi{UserAgent: ua, Version: ProtocolVersion, Lang: "EN"}})
	if err != nil {
		return err
	}
	var build string
	if ctrl.Param("build", &build) {
		c.logger.Info("server info", "build", build)
	}

	scheme, secret := c.credentials()
	ctrl, err = c.request(ctx, "login", &ClientMsg{Login: &MsgClientLogin{Scheme: scheme, Secret: secret}})
	if err != nil {
		return err
	}
	c.mu.Lock()
	ctrl.Param("user", &c.userID)
	ctrl.Param("token", &c.token)
	c.mu.Unlock()
	c.logger.Info("login successful", "scheme", scheme)

	return c.Subscribe(ctx, topicMe, &MsgGetQuery{What: "sub desc"})
}

// credentials prefers a token from a previous login over the configured
// secret so reconnects do not resend a password.
func (c *Client) credentials() (string, []byte) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	scheme, secret := c.scheme, c.secret
	if token != "" {
		scheme, secret = "token", token
	}
	if scheme == "token" {
		if b, err := base64.StdEncoding.DecodeString(secret); err == nil {
			return scheme, b
		}
	}
	return scheme, []byte(secret)
}

func (c *Client) newID() string {
	return strconv.FormatUint(c.nextID.Add(1)+100, 10)
}

func (c *Client) send(ctx context.Context, l *link, msg *ClientMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := l.conn.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelClosed, err)
	}
	return nil
}

// request sends msg with a fresh id and waits for the matching ctrl reply.
func (c *Client) request(ctx context.Context, what string, msg *ClientMsg) (*MsgServerCtrl, error) {
	l := c.current()
	if l == nil || c.stopped.Load() {
		return nil, domain.ErrChannelClosed
	}
	id := c.newID()
	switch {
	case msg.Hi != nil:
		msg.Hi.ID = id
	case msg.Login != nil:
		msg.Login.ID = id
	case msg.Sub != nil:
		msg.Sub.ID = id
	case msg.Leave != nil:
		msg.Leave.ID = id
	case msg.Pub != nil:
		msg.Pub.ID = id
	}

	reply := make(chan *MsgServerCtrl, 1)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, domain.ErrChannelClosed
	}
	l.pending[id] = reply
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := c.send(ctx, l, msg); err != nil {
		return nil, domain.WrapOp(what, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case ctrl, ok := <-reply:
		if !ok {
			return nil, domain.WrapOp(what, domain.ErrChannelClosed)
		}
		if !ctrl.OK() {
			return ctrl, fmt.Errorf("%s: server replied %d %s", what, ctrl.Code, ctrl.Text)
		}
		return ctrl, nil
	case <-timer.C:
		return nil, domain.WrapOp(what, domain.ErrTimeout)
	case <-ctx.Done():
		return nil, domain.WrapOp(what, ctx.Err())
	}
}

// Subscribe attaches to topic.
func (c *Client) Subscribe(ctx context.Context, topic string, get *MsgGetQuery) error {
	if _, err := c.request(ctx, "sub "+topic, &ClientMsg{Sub: &MsgClientSub{Topic: topic, Get: get}}); err != nil {
		return err
	}
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
	c.logger.Info("subscribed", "topic", topic)
	return nil
}

// Leave detaches from topic.
func (c *Client) Leave(ctx context.Context, topic string) error {
	if _, err := c.request(ctx, "leave "+topic, &ClientMsg{Leave: &MsgClientLeave{Topic: topic}}); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
	c.logger.Info("left topic", "topic", topic)
	return nil
}

// Subscribed reports whether the client is attached to topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

// Publish implements domain.Channel. Messages are marked as automated
// unless the head already says otherwise.
func (c *Client) Publish(ctx context.Context, pub domain.Publication) (int, error) {
	head := make(map[string]any, len(pub.Head)+1)
	for k, v := range pub.Head {
		head[k] = v
	}
	if _, ok := head["auto"]; !ok {
		head["auto"] = true
	}
	ctrl, err := c.request(ctx, "pub "+pub.Topic, &ClientMsg{Pub: &MsgClientPub{
		Topic:   pub.Topic,
		NoEcho:  pub.NoEcho,
		Head:    head,
		Content: pub.Content,
	}})
	if err != nil {
		return 0, err
	}
	var seq int
	ctrl.Param("seq", &seq)
	return seq, nil
}

// NoteRead implements domain.Channel.
func (c *Client) NoteRead(ctx context.Context, topic string, seq int) error {
	l := c.current()
	if l == nil {
		return domain.ErrChannelClosed
	}
	return c.send(ctx, l, &ClientMsg{Note: &MsgClientNote{Topic: topic, What: "read", SeqID: seq}})
}

func (c *Client) readLoop(ctx context.Context, l *link) {
	defer c.wg.Done()
	for {
		msg, err := l.conn.Recv(ctx)
		if err != nil {
			l.close()
			if ctx.Err() != nil || c.stopped.Load() || !l.ready.Load() {
				return
			}
			c.logger.Error("disconnected from server", "channel", c.name, "error", err)
			c.wg.Add(1)
			go c.reconnect(ctx)
			return
		}
		c.route(ctx, l, msg)
	}
}

func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

func (c *Client) reconnect(ctx context.Context) {
	defer c.wg.Done()
	for attempt := 1; attempt <= c.retry; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
		if err := c.connect(ctx); err != nil {
			c.logger.Warn("reconnect failed", "channel", c.name, "attempt", attempt, "error", err)
			continue
		}
		c.logger.Info("reconnected", "channel", c.name, "attempt", attempt)
		return
	}
	c.logger.Error("giving up on server connection", "channel", c.name, "attempts", c.retry)
	c.finish()
}

func (c *Client) route(ctx context.Context, l *link, msg *ServerMsg) {
	switch {
	case msg.Ctrl != nil:
		if msg.Ctrl.ID == "" {
			return
		}
		l.mu.Lock()
		ch, ok := l.pending[msg.Ctrl.ID]
		delete(l.pending, msg.Ctrl.ID)
		l.mu.Unlock()
		if ok {
			ch <- msg.Ctrl
		}
	case msg.Data != nil:
		d := msg.Data
		env := domain.Envelope{Topic: d.Topic, From: d.From, SeqID: d.SeqID, Head: d.Head, Content: d.Content}
		if err := c.handler(ctx, env); err != nil {
			c.logger.Warn("envelope handler failed", "topic", d.Topic, "seq", d.SeqID, "error", err)
		}
	case msg.Meta != nil && msg.Meta.Topic == topicMe:
		for _, s := range msg.Meta.Sub {
			if s.Topic != "" && !c.Subscribed(s.Topic) {
				c.async(ctx, func(ctx context.Context) error { return c.Subscribe(ctx, s.Topic, nil) })
			}
		}
	case msg.Pres != nil && msg.Pres.Topic == topicMe:
		p := msg.Pres
		switch p.What {
		case "on":
			c.async(ctx, func(ctx context.Context) error { return c.Subscribe(ctx, p.Src, &MsgGetQuery{What: "desc sub"}) })
		case "msg":
			if !c.Subscribed(p.Src) {
				get := &MsgGetQuery{What: "desc sub data", Data: &MsgGetOpts{SinceID: p.SeqID}}
				c.async(ctx, func(ctx context.Context) error { return c.Subscribe(ctx, p.Src, get) })
			}
		case "off":
			if c.Subscribed(p.Src) {
				c.async(ctx, func(ctx context.Context) error { return c.Leave(ctx, p.Src) })
			}
		}
	}
}

// async runs a request outside the read loop, which must keep reading to
// deliver the reply.
func (c *Client) async(ctx context.Context, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(ctx); err != nil {
			c.logger.Warn("background request failed", "channel", c.name, "error", err)
		}
	}()
}

var _ domain.Channel = (*Client)(nil)
