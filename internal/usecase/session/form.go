package session

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/text"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
)

const formResponseMime = "application/json"

// FormResponse extracts the button response to the form sent as seq.
func FormResponse(m *message.Message, seq int) (map[string]any, bool) {
	for _, e := range m.Entities(text.TagFile) {
		if e.Data["mime"] != formResponseMime {
			continue
		}
		val, ok := e.Data["val"].(map[string]any)
		if !ok {
			continue
		}
		if n, ok := val["seq"].(float64); !ok || int(n) != seq {
			continue
		}
		resp, _ := val["resp"].(map[string]any)
		return resp, true
	}
	return nil, false
}

// expectedResponse is what a client sends back when b is pressed.
func expectedResponse(b text.Button) map[string]any {
	if b.Name == "" {
		return nil
	}
	if b.Value == "" {
		return map[string]any{b.Name: float64(1)}
	}
	return map[string]any{b.Name: b.Value}
}

// SendForm sends a form made of a bold title and one button per line, then
// waits for a button to be pressed and returns its index.
func (s *Session) SendForm(ctx context.Context, title string, buttons ...text.Button) (int, error) {
	nodes := []text.Node{text.Styled{Text: title, Style: text.Bold}}
	for _, b := range buttons {
		nodes = append(nodes, text.NewLine, b)
	}
	form := text.Form{Content: text.Join(nodes...)}
	if len(buttons) == 0 {
		_, err := s.Send(ctx, form)
		return 0, err
	}

	// The waiter is registered first so no response can slip through
	// between publishing and waiting. It stays inert until seq is known.
	var sent atomic.Int64
	base := s.waitMatch(WaitOptions{}, FormPriority)
	pending := s.deps.Registry.Expect(func(m *message.Message) float64 {
		seq := sent.Load()
		if seq == 0 {
			return 0
		}
		if _, ok := FormResponse(m, int(seq)); !ok {
			return 0
		}
		return base(m)
	}, dispatch.Named("session.form"))

	seq, err := s.Send(ctx, form)
	if err != nil {
		pending.Cancel()
		return 0, domain.WrapOp("Session.SendForm", err)
	}
	sent.Store(int64(seq))

	ctx, cancel := s.waitContext(ctx)
	defer cancel()
	m, err := pending.Wait(ctx)
	if err != nil {
		return 0, domain.WrapOp("Session.SendForm", err)
	}
	resp, _ := FormResponse(m, seq)
	for i, b := range buttons {
		if want := expectedResponse(b); want != nil && reflect.DeepEqual(want, resp) {
			return i, nil
		}
	}
	return 0, domain.NewDomainError("Session.SendForm", domain.ErrInvalidInput, "unexpected form response")
}

// Confirm asks a yes/no question and reports whether Yes was pressed.
func (s *Session) Confirm(ctx context.Context, title string) (bool, error) {
	idx, err := s.SendForm(ctx, title, Buttons("Yes", "No")...)
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}
