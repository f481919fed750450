package domain

import (
	"context"
	"encoding/json"
)

// Envelope is a data message delivered by a transport. Content holds the
// raw JSON content bytes, either a bare string or a structured rich-text
// object.
type Envelope struct {
	Topic   string                     `json:"topic"`
	From    string                     `json:"from,omitempty"`
	SeqID   int                        `json:"seq"`
	Head    map[string]json.RawMessage `json:"head,omitempty"`
	Content json.RawMessage            `json:"content,omitempty"`
}

// Publication is an outbound message for a topic.
type Publication struct {
	Topic   string         `json:"topic"`
	Head    map[string]any `json:"head,omitempty"`
	Content any            `json:"content"`
	NoEcho  bool           `json:"noecho,omitempty"`
}

// EnvelopeHandler is a callback the channel invokes for every inbound data
// message. It is called sequentially in arrival order.
type EnvelopeHandler func(ctx context.Context, env Envelope) error

// Channel is the transport port: it carries framed messages to and from the
// chat server.
type Channel interface {
	Start(ctx context.Context, handler EnvelopeHandler) error
	Stop(ctx context.Context) error
	// Publish sends a message and returns the server-assigned sequence id.
	Publish(ctx context.Context, pub Publication) (int, error)
	// NoteRead acknowledges that seq in topic has been read.
	NoteRead(ctx context.Context, topic string, seq int) error
	Name() string
}
