package channel

import (
	"encoding/json"
	"time"
)

// Client-to-server frames. Exactly one field of ClientMsg is set.

// ClientMsg is a single client frame.
type ClientMsg struct {
	Hi    *MsgClientHi    `json:"hi,omitempty"`
	Login *MsgClientLogin `json:"login,omitempty"`
	Sub   *MsgClientSub   `json:"sub,omitempty"`
	Leave *MsgClientLeave `json:"leave,omitempty"`
	Pub   *MsgClientPub   `json:"pub,omitempty"`
	Note  *MsgClientNote  `json:"note,omitempty"`
}

// MsgClientHi opens a session.
type MsgClientHi struct {
	ID        string `json:"id,omitempty"`
	UserAgent string `json:"ua,omitempty"`
	Version   string `json:"ver,omitempty"`
	Lang      string `json:"lang,omitempty"`
}

// MsgClientLogin authenticates the session.
type MsgClientLogin struct {
	ID     string `json:"id,omitempty"`
	Scheme string `json:"scheme"`
	Secret []byte `json:"secret"`
}

// MsgGetQuery selects what a subscription returns.
type MsgGetQuery struct {
	What string      `json:"what"`
	Data *MsgGetOpts `json:"data,omitempty"`
}

// MsgGetOpts narrows a data query.
type MsgGetOpts struct {
	SinceID int `json:"since,omitempty"`
	Limit   int `json:"limit,omitempty"`
}

// MsgClientSub subscribes to a topic.
type MsgClientSub struct {
	ID    string       `json:"id,omitempty"`
	Topic string       `json:"topic"`
	Get   *MsgGetQuery `json:"get,omitempty"`
}

// MsgClientLeave detaches from a topic.
type MsgClientLeave struct {
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// MsgClientPub publishes content to a topic.
type MsgClientPub struct {
	ID      string         `json:"id,omitempty"`
	Topic   string         `json:"topic"`
	NoEcho  bool           `json:"noecho,omitempty"`
	Head    map[string]any `json:"head,omitempty"`
	Content any            `json:"content"`
}

// MsgClientNote is a fire-and-forget notification such as a read receipt.
type MsgClientNote struct {
	Topic string `json:"topic"`
	What  string `json:"what"`
	SeqID int    `json:"seq,omitempty"`
}

// Server-to-client frames.

// ServerMsg is a single server frame.
type ServerMsg struct {
	Ctrl *MsgServerCtrl `json:"ctrl,omitempty"`
	Data *MsgServerData `json:"data,omitempty"`
	Meta *MsgServerMeta `json:"meta,omitempty"`
	Pres *MsgServerPres `json:"pres,omitempty"`
	Info *MsgServerInfo `json:"info,omitempty"`
}

// MsgServerCtrl answers a client request carrying the same id.
type MsgServerCtrl struct {
	ID        string                     `json:"id,omitempty"`
	Topic     string                     `json:"topic,omitempty"`
	Code      int                        `json:"code"`
	Text      string                     `json:"text,omitempty"`
	Params    map[string]json.RawMessage `json:"params,omitempty"`
	Timestamp time.Time                  `json:"ts"`
}

// OK reports whether the code is a 2xx or 3xx.
func (c *MsgServerCtrl) OK() bool { return c.Code >= 200 && c.Code < 400 }

// Param decodes params[key] into v and reports whether it was present and valid.
func (c *MsgServerCtrl) Param(key string, v any) bool {
	raw, ok := c.Params[key]
	return ok && json.Unmarshal(raw, v) == nil
}

// MsgServerData is a message published to a topic.
type MsgServerData struct {
	Topic     string                     `json:"topic"`
	From      string                     `json:"from,omitempty"`
	SeqID     int                        `json:"seq"`
	Head      map[string]json.RawMessage `json:"head,omitempty"`
	Content   json.RawMessage            `json:"content"`
	Timestamp time.Time                  `json:"ts"`
}

// MsgTopicSub is one entry of a subscription list.
type MsgTopicSub struct {
	Topic string `json:"topic,omitempty"`
	SeqID int    `json:"seq,omitempty"`
	Read  int    `json:"read,omitempty"`
}

// MsgServerMeta carries topic metadata; only the subscription list is used.
type MsgServerMeta struct {
	ID    string        `json:"id,omitempty"`
	Topic string        `json:"topic"`
	Sub   []MsgTopicSub `json:"sub,omitempty"`
}

// MsgServerPres is a presence notification.
type MsgServerPres struct {
	Topic string `json:"topic"`
	Src   string `json:"src,omitempty"`
	What  string `json:"what"`
	SeqID int    `json:"seq,omitempty"`
}

// MsgServerInfo is a forwarded client note.
type MsgServerInfo struct {
	Topic string `json:"topic"`
	From  string `json:"from,omitempty"`
	What  string `json:"what"`
	SeqID int    `json:"seq,omitempty"`
}
