package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/text"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
)

type fakeChannel struct {
	mu     sync.Mutex
	seq    int
	pubs   []domain.Publication
	onPub  func(seq int, pub domain.Publication)
	pubErr error
}

func (f *fakeChannel) Start(context.Context, domain.EnvelopeHandler) error { return nil }
func (f *fakeChannel) Stop(context.Context) error                          { return nil }
func (f *fakeChannel) NoteRead(context.Context, string, int) error         { return nil }
func (f *fakeChannel) Name() string                                        { return "fake" }

func (f *fakeChannel) Publish(_ context.Context, pub domain.Publication) (int, error) {
	if f.pubErr != nil {
		return 0, f.pubErr
	}
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.pubs = append(f.pubs, pub)
	f.mu.Unlock()
	if f.onPub != nil {
		f.onPub(seq, pub)
	}
	return seq, nil
}

func newDeps(ch *fakeChannel) Deps {
	return Deps{
		Channel:  ch,
		Registry: dispatch.NewRegistry[*message.Message]("message", slog.Default()),
		Logger:   slog.Default(),
	}
}

func inbound(t *testing.T, topic, from string, seq int, content any) *message.Message {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	return message.New(domain.Envelope{Topic: topic, From: from, SeqID: seq, Content: raw}, text.NewDecoder(nil))
}

// deliver dispatches m until some listener takes it.
func deliver(t *testing.T, reg *dispatch.Registry[*message.Message], m *message.Message) {
	t.Helper()
	go func() {
		for range 1000 {
			out, _ := reg.Dispatch(context.Background(), m)
			if out.Matched {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestSendPlainAndStructured(t *testing.T) {
	ch := &fakeChannel{}
	s := New(newDeps(ch), "grpA")

	seq, err := s.SendText(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	_, err = s.Send(context.Background(), text.Styled{Text: "x", Style: text.Bold}, ReplyTo(5))
	require.NoError(t, err)

	require.Len(t, ch.pubs, 2)
	assert.Equal(t, "hi", ch.pubs[0].Content)
	assert.Nil(t, ch.pubs[0].Head)
	assert.Equal(t, "grpA", ch.pubs[0].Topic)

	assert.IsType(t, text.Drafty{}, ch.pubs[1].Content)
	assert.Equal(t, text.MimeDrafty, ch.pubs[1].Head["mime"])
	assert.Equal(t, "5", ch.pubs[1].Head["reply"])
}

func TestSendError(t *testing.T) {
	ch := &fakeChannel{pubErr: domain.ErrChannelClosed}
	_, err := New(newDeps(ch), "grpA").SendText(context.Background(), "hi")
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestReplyAndOptions(t *testing.T) {
	ch := &fakeChannel{}
	s := ForMessage(newDeps(ch), inbound(t, "grpA", "usrB", 9, "ping"))

	_, err := s.Reply(context.Background(), text.Plain{Text: "pong"}, ToTopic("grpB"), Replace(3))
	require.NoError(t, err)
	assert.Equal(t, "grpB", ch.pubs[0].Topic)
	assert.Equal(t, "9", ch.pubs[0].Head["reply"])
	assert.Equal(t, ":3", ch.pubs[0].Head["replace"])
	assert.Equal(t, 9, s.Message().SeqID)
}

func TestSendRateLimited(t *testing.T) {
	ch := &fakeChannel{}
	deps := newDeps(ch)
	deps.Limiter = NewLimiter(60, 1)
	s := New(deps, "grpA")

	_, err := s.SendText(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.SendText(ctx, "second")
	assert.Error(t, err)
	assert.Len(t, ch.pubs, 1)

	assert.Nil(t, NewLimiter(0, 1))
}

func TestWaitReply(t *testing.T) {
	ch := &fakeChannel{}
	deps := newDeps(ch)
	s := New(deps, "grpA")

	deliver(t, deps.Registry, inbound(t, "grpA", "usrB", 3, "yes please"))
	m, err := s.WaitReply(context.Background(), WaitOptions{UserID: "usrB", Pattern: regexp.MustCompile(`yes`)})
	require.NoError(t, err)
	assert.Equal(t, 3, m.SeqID)
	assert.Equal(t, 0, deps.Registry.Len())
}

func TestWaitReplyMatch(t *testing.T) {
	s := New(newDeps(&fakeChannel{}), "grpA")
	match := s.waitMatch(WaitOptions{UserID: "usrB", Pattern: regexp.MustCompile(`yes`)}, ReplyPriority)

	assert.Equal(t, ReplyPriority, match(inbound(t, "grpA", "usrB", 1, "yes")))
	assert.Equal(t, 0.0, match(inbound(t, "grpB", "usrB", 1, "yes")))
	assert.Equal(t, 0.0, match(inbound(t, "grpA", "usrC", 1, "yes")))
	assert.Equal(t, 0.0, match(inbound(t, "grpA", "usrB", 1, "oh yes")))
}

func TestWaitReplyTimeout(t *testing.T) {
	deps := newDeps(&fakeChannel{})
	deps.WaitTimeout = 20 * time.Millisecond
	s := New(deps, "grpA")

	_, err := s.WaitReply(context.Background(), WaitOptions{})
	assert.ErrorIs(t, err, domain.ErrWaitTimeout)
	assert.Equal(t, 0, deps.Registry.Len())
}

func formReply(t *testing.T, seq int, resp map[string]any) *message.Message {
	return inbound(t, "grpA", "usrB", seq+1, text.Drafty{
		Txt: "No",
		Fmt: []text.Format{{At: -1, Key: 0}},
		Ent: []text.Extend{{Tp: text.TagFile, Data: map[string]any{
			"mime": "application/json",
			"val":  map[string]any{"seq": seq, "resp": resp},
		}}},
	})
}

func TestSendForm(t *testing.T) {
	ch := &fakeChannel{}
	deps := newDeps(ch)
	ch.onPub = func(seq int, _ domain.Publication) {
		deliver(t, deps.Registry, formReply(t, seq, map[string]any{"no": 1}))
	}
	s := New(deps, "grpA")

	ok, err := s.Confirm(context.Background(), "Proceed?")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, ch.pubs, 1)
	form := text.Decode(ch.pubs[0].Content.(text.Drafty))
	assert.Equal(t, text.Form{Content: text.Join(
		text.Styled{Text: "Proceed?", Style: text.Bold},
		text.NewLine,
		text.Button{Text: "Yes", Name: "yes", Action: text.ActionPublish},
		text.NewLine,
		text.Button{Text: "No", Name: "no", Action: text.ActionPublish},
	)}, form)
}

func TestSendFormIgnoresOtherForms(t *testing.T) {
	ch := &fakeChannel{}
	deps := newDeps(ch)
	ch.onPub = func(seq int, _ domain.Publication) {
		deliver(t, deps.Registry, formReply(t, seq+100, map[string]any{"yes": 1}))
	}
	deps.WaitTimeout = 50 * time.Millisecond
	s := New(deps, "grpA")

	_, err := s.SendForm(context.Background(), "Pick", Buttons("Yes")...)
	assert.ErrorIs(t, err, domain.ErrWaitTimeout)
}

func TestSendFormWithoutButtons(t *testing.T) {
	ch := &fakeChannel{}
	idx, err := New(newDeps(ch), "grpA").SendForm(context.Background(), "Notice")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Len(t, ch.pubs, 1)
}

func TestFormResponse(t *testing.T) {
	m := formReply(t, 4, map[string]any{"opt": "b"})
	resp, ok := FormResponse(m, 4)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"opt": "b"}, resp)

	_, ok = FormResponse(m, 5)
	assert.False(t, ok)
	_, ok = FormResponse(inbound(t, "grpA", "usrB", 1, "plain"), 4)
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"opt": "b"}, expectedResponse(text.Button{Name: "opt", Value: "b"}))
	assert.Nil(t, expectedResponse(text.Button{}))
}
