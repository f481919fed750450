package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsReadLimit caps a single inbound frame.
const wsReadLimit = 1 << 22

// WebSocketConfig describes a Tinode WebSocket endpoint.
type WebSocketConfig struct {
	Host   string // host:port
	APIKey string
	Secure bool
}

// URL returns the Tinode channels endpoint for cfg.
func (cfg WebSocketConfig) URL() string {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Host, Path: "/v0/channels"}
	if cfg.APIKey != "" {
		u.RawQuery = url.Values{"apikey": {cfg.APIKey}}.Encode()
	}
	return u.String()
}

// DialWebSocket returns a Dialer speaking Tinode JSON frames over WebSocket.
func DialWebSocket(cfg WebSocketConfig) Dialer {
	return func(ctx context.Context) (Conn, error) {
		header := http.Header{}
		if cfg.APIKey != "" {
			header.Set("X-Tinode-APIKey", cfg.APIKey)
		}
		ws, _, err := websocket.Dial(ctx, cfg.URL(), &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", cfg.Host, err)
		}
		ws.SetReadLimit(wsReadLimit)
		return &wsConn{ws: ws}, nil
	}
}

// NewWebSocket creates a Client over WebSocket.
func NewWebSocket(cfg WebSocketConfig, scheme, secret string, logger *slog.Logger, opts ...Option) *Client {
	return NewClient("websocket", DialWebSocket(cfg), scheme, secret, logger, opts...)
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, msg *ClientMsg) error {
	return wsjson.Write(ctx, c.ws, msg)
}

func (c *wsConn) Recv(ctx context.Context) (*ServerMsg, error) {
	var msg ServerMsg
	if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
