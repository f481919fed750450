package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
)

func rawJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// fakeServer answers client frames the way a Tinode server would.
type fakeServer struct {
	mu      sync.Mutex
	logins  []MsgClientLogin
	subs    []MsgClientSub
	leaves  []string
	pubs    []MsgClientPub
	notes   []MsgClientNote
	seq     int
	pubCode int           // non-zero rejects publishes with this code
	silent  bool          // drop publishes without replying
	echo    bool          // answer every publish with a data frame
	meSubs  []MsgTopicSub // sent as meta after subscribing to "me"
}

func ctrl(id string, code int, params map[string]any) *ServerMsg {
	c := &MsgServerCtrl{ID: id, Code: code, Text: "ok"}
	if len(params) > 0 {
		c.Params = make(map[string]json.RawMessage, len(params))
		for k, v := range params {
			c.Params[k] = rawJSON(v)
		}
	}
	return &ServerMsg{Ctrl: c}
}

func (s *fakeServer) answer(m *ClientMsg, reply func(*ServerMsg)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case m.Hi != nil:
		reply(ctrl(m.Hi.ID, 201, map[string]any{"build": "fake", "ver": ProtocolVersion}))
	case m.Login != nil:
		s.logins = append(s.logins, *m.Login)
		reply(ctrl(m.Login.ID, 200, map[string]any{"user": "usrBot", "token": "dG9rZW4="}))
	case m.Sub != nil:
		s.subs = append(s.subs, *m.Sub)
		reply(ctrl(m.Sub.ID, 200, nil))
		if m.Sub.Topic == topicMe && len(s.meSubs) > 0 {
			reply(&ServerMsg{Meta: &MsgServerMeta{Topic: topicMe, Sub: s.meSubs}})
		}
	case m.Leave != nil:
		s.leaves = append(s.leaves, m.Leave.Topic)
		reply(ctrl(m.Leave.ID, 200, nil))
	case m.Pub != nil:
		s.pubs = append(s.pubs, *m.Pub)
		switch {
		case s.silent:
		case s.pubCode != 0:
			reply(ctrl(m.Pub.ID, s.pubCode, nil))
		default:
			s.seq++
			reply(ctrl(m.Pub.ID, 202, map[string]any{"seq": s.seq}))
			if s.echo {
				reply(&ServerMsg{Data: &MsgServerData{
					Topic:   m.Pub.Topic,
					From:    "usrOther",
					SeqID:   s.seq,
					Content: rawJSON(m.Pub.Content),
				}})
			}
		}
	case m.Note != nil:
		s.notes = append(s.notes, *m.Note)
	}
}

func (s *fakeServer) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.subs, func(sub MsgClientSub) bool { return sub.Topic == topic })
}

func (s *fakeServer) snapshotLogins() []MsgClientLogin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logins)
}

func (s *fakeServer) snapshotNotes() []MsgClientNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notes)
}

// pipeConn is an in-memory Conn whose other end is served by a fakeServer.
type pipeConn struct {
	in     chan *ClientMsg
	out    chan *ServerMsg
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan *ClientMsg, 64),
		out:    make(chan *ServerMsg, 64),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) Send(ctx context.Context, m *ClientMsg) error {
	select {
	case c.in <- m:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Recv(ctx context.Context) (*ServerMsg, error) {
	select {
	case m := <-c.out:
		return m, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) push(m *ServerMsg) {
	select {
	case c.out <- m:
	case <-c.closed:
	}
}

// pipeNetwork dials pipeConns served by srv and remembers them.
type pipeNetwork struct {
	srv *fakeServer

	mu    sync.Mutex
	conns []*pipeConn
	fail  bool
}

func (n *pipeNetwork) dial(context.Context) (Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return nil, io.ErrUnexpectedEOF
	}
	c := newPipeConn()
	n.conns = append(n.conns, c)
	go func() {
		for {
			select {
			case m := <-c.in:
				n.srv.answer(m, c.push)
			case <-c.closed:
				return
			}
		}
	}()
	return c, nil
}

func (n *pipeNetwork) conn(i int) *pipeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[i]
}

func (n *pipeNetwork) setFail(v bool) {
	n.mu.Lock()
	n.fail = v
	n.mu.Unlock()
}
