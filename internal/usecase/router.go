package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/text"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
)

// LogTextLimit bounds the message text echoed into the log.
const LogTextLimit = 128

// Router feeds inbound envelopes from a channel into the message registry.
// Envelopes are decoded in arrival order; each decoded message is then
// dispatched on its own goroutine so slow handlers never stall the stream.
type Router struct {
	channel  domain.Channel
	registry *dispatch.Registry[*message.Message]
	decoder  *text.Decoder
	bus      domain.EventBus
	logger   *slog.Logger
	wg       sync.WaitGroup // in-flight dispatches
}

// NewRouter creates a router. bus may be nil.
func NewRouter(ch domain.Channel, reg *dispatch.Registry[*message.Message], bus domain.EventBus, logger *slog.Logger) *Router {
	return &Router{
		channel:  ch,
		registry: reg,
		decoder:  text.NewDecoder(logger),
		bus:      bus,
		logger:   logger,
	}
}

// Start begins consuming envelopes from the channel.
func (r *Router) Start(ctx context.Context) error {
	return domain.WrapOp("Router.Start", r.channel.Start(ctx, r.Handle))
}

// Handle decodes one envelope and schedules its dispatch. It is the
// channel's EnvelopeHandler and must be called in arrival order.
func (r *Router) Handle(ctx context.Context, env domain.Envelope) error {
	m := message.New(env, r.decoder)
	r.logger.Info("("+m.Topic+")=> "+message.Truncate(m.RawText, LogTextLimit),
		"user", m.UserID, "seq", m.SeqID)

	if err := r.channel.NoteRead(ctx, m.Topic, m.SeqID); err != nil {
		r.logger.Warn("note read failed", "topic", m.Topic, "seq", m.SeqID, "error", err)
	}

	r.publish(ctx, domain.EventMessageReceived, m, nil)
	if m.Degraded {
		r.publish(ctx, domain.EventDecodeDegraded, m, nil)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.dispatch(ctx, m)
	}()
	return nil
}

func (r *Router) dispatch(ctx context.Context, m *message.Message) {
	out, err := r.registry.Dispatch(ctx, m)
	if err != nil {
		code := domain.ErrorCodeOf(err)
		r.logger.Error("message handler failed",
			"listener", out.Listener.Name,
			"listener_id", out.Listener.ID,
			"message", m.ID(),
			"user", m.UserID,
			"code", string(code),
			"error", err,
		)
		r.publish(ctx, domain.EventHandlerFailed, m, domain.HandlerFailurePayload{
			ListenerID: out.Listener.ID,
			Listener:   out.Listener.Name,
			UserID:     m.UserID,
			SeqID:      m.SeqID,
			Error:      err.Error(),
			Code:       string(code),
		})
		return
	}
	if !out.Matched {
		r.logger.Debug("no listener matched", "message", m.ID())
		r.publish(ctx, domain.EventDispatchUnmatched, m, nil)
	}
}

// Wait blocks until every scheduled dispatch has returned. Call during
// shutdown after the channel has stopped.
func (r *Router) Wait() { r.wg.Wait() }

type messageRef struct {
	UserID string `json:"user_id,omitempty"`
	SeqID  int    `json:"seq_id"`
}

func (r *Router) publish(ctx context.Context, t domain.EventType, m *message.Message, payload any) {
	if r.bus == nil {
		return
	}
	if payload == nil {
		payload = messageRef{UserID: m.UserID, SeqID: m.SeqID}
	}
	r.bus.Publish(ctx, domain.NewEvent(t, m.Topic, payload))
}
