package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"
	EventDecodeDegraded  EventType = "message.decode_degraded"

	EventDispatchUnmatched EventType = "dispatch.unmatched"
	EventHandlerFailed     EventType = "dispatch.handler_failed"

	EventCommandNotFound  EventType = "command.not_found"
	EventCommandPrepare   EventType = "command.prepare"
	EventCommandCancelled EventType = "command.cancelled"
	EventCommandCompleted EventType = "command.completed"
	EventCommandFailed    EventType = "command.failed"
)

// Event is the envelope published on the event bus.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// CommandPayload is the payload of every command.* event.
type CommandPayload struct {
	InvocationID string   `json:"invocation_id,omitempty"`
	Collection   string   `json:"collection,omitempty"`
	Command      string   `json:"command"`
	Argv         []string `json:"argv,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	SeqID        int      `json:"seq_id,omitempty"`
	Result       any      `json:"result,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// HandlerFailurePayload is the payload of EventHandlerFailed.
type HandlerFailurePayload struct {
	ListenerID string `json:"listener_id"`
	Listener   string `json:"listener"`
	UserID     string `json:"user_id,omitempty"`
	SeqID      int    `json:"seq_id"`
	Error      string `json:"error"`
	Code       string `json:"code"`
}

// NewEvent builds an event with a JSON payload. A payload that cannot be
// marshalled is dropped rather than failing the publish.
func NewEvent(t EventType, topic string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), Topic: topic}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}
