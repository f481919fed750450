package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Visecy/Karuha-sub000/internal/domain"
)

func TestWebSocketConfigURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  WebSocketConfig
		want string
	}{
		{"plain", WebSocketConfig{Host: "localhost:6060"}, "ws://localhost:6060/v0/channels"},
		{"api key", WebSocketConfig{Host: "localhost:6060", APIKey: "abc"}, "ws://localhost:6060/v0/channels?apikey=abc"},
		{"secure", WebSocketConfig{Host: "chat.example.com", Secure: true}, "wss://chat.example.com/v0/channels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.URL())
		})
	}
}

func newWebSocketServer(t *testing.T, srv *fakeServer) (*httptest.Server, <-chan http.Header) {
	t.Helper()
	headers := make(chan http.Header, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/channels" || r.URL.Query().Get("apikey") != "key" {
			http.Error(w, "bad endpoint", http.StatusNotFound)
			return
		}
		headers <- r.Header.Clone()
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()
		for {
			var msg ClientMsg
			if err := wsjson.Read(ctx, ws, &msg); err != nil {
				return
			}
			srv.answer(&msg, func(reply *ServerMsg) {
				_ = wsjson.Write(ctx, ws, reply)
			})
		}
	}))
	t.Cleanup(ts.Close)
	return ts, headers
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := &fakeServer{echo: true}
	ts, headers := newWebSocketServer(t, srv)

	got := make(chan domain.Envelope, 1)
	cfg := WebSocketConfig{Host: strings.TrimPrefix(ts.URL, "http://"), APIKey: "key"}
	c := NewWebSocket(cfg, "basic", "bot:pass", discardLogger(), WithTimeout(2*time.Second))
	require.Equal(t, "websocket", c.Name())

	require.NoError(t, c.Start(context.Background(), func(_ context.Context, env domain.Envelope) error {
		got <- env
		return nil
	}))
	defer c.Stop(context.Background())

	h := <-headers
	assert.Equal(t, "key", h.Get("X-Tinode-APIKey"))
	assert.Equal(t, "usrBot", c.UserID())

	seq, err := c.Publish(context.Background(), domain.Publication{Topic: "grpA", Content: "ping"})
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	select {
	case env := <-got:
		assert.Equal(t, "grpA", env.Topic)
		assert.Equal(t, "usrOther", env.From)
		assert.JSONEq(t, `"ping"`, string(env.Content))
	case <-time.After(2 * time.Second):
		t.Fatal("echoed data not delivered")
	}
}

func TestWebSocketDialRejected(t *testing.T) {
	ts, _ := newWebSocketServer(t, &fakeServer{})

	cfg := WebSocketConfig{Host: strings.TrimPrefix(ts.URL, "http://"), APIKey: "wrong"}
	_, err := DialWebSocket(cfg)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial")
}
