package channel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Visecy/Karuha-sub000/internal/domain"
)

func startClient(t *testing.T, srv *fakeServer, handler domain.EnvelopeHandler, opts ...Option) (*Client, *pipeNetwork) {
	t.Helper()
	nw := &pipeNetwork{srv: srv}
	if handler == nil {
		handler = func(context.Context, domain.Envelope) error { return nil }
	}
	c := NewClient("test", nw.dial, "basic", "bot:pass", discardLogger(), opts...)
	require.NoError(t, c.Start(context.Background(), handler))
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c, nw
}

func TestClientHandshake(t *testing.T) {
	srv := &fakeServer{}
	c, _ := startClient(t, srv, nil)

	logins := srv.snapshotLogins()
	require.Len(t, logins, 1)
	assert.Equal(t, "basic", logins[0].Scheme)
	assert.Equal(t, []byte("bot:pass"), logins[0].Secret)
	assert.Equal(t, "usrBot", c.UserID())
	assert.True(t, srv.subscribed("me"))
	assert.True(t, c.Subscribed("me"))
	assert.Equal(t, "test", c.Name())
}

func TestClientRequestIDsIncrease(t *testing.T) {
	srv := &fakeServer{}
	startClient(t, srv, nil)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.NotEmpty(t, srv.subs)
	assert.Equal(t, "103", srv.subs[0].ID, "hi=101 login=102 sub=103")
	assert.Equal(t, "sub desc", srv.subs[0].Get.What)
}

func TestClientPublish(t *testing.T) {
	srv := &fakeServer{}
	c, _ := startClient(t, srv, nil)
	ctx := context.Background()

	seq, err := c.Publish(ctx, domain.Publication{Topic: "grpA", Content: "hello", NoEcho: true})
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	seq, err = c.Publish(ctx, domain.Publication{Topic: "grpA", Content: "again", Head: map[string]any{"auto": false, "mime": "text/x-drafty"}})
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.pubs, 2)
	assert.Equal(t, true, srv.pubs[0].Head["auto"])
	assert.True(t, srv.pubs[0].NoEcho)
	assert.Equal(t, false, srv.pubs[1].Head["auto"], "explicit head value is kept")
	assert.Equal(t, "text/x-drafty", srv.pubs[1].Head["mime"])
}

func TestClientPublishRejected(t *testing.T) {
	srv := &fakeServer{pubCode: 403}
	c, _ := startClient(t, srv, nil)

	_, err := c.Publish(context.Background(), domain.Publication{Topic: "grpA", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClientRequestTimeout(t *testing.T) {
	srv := &fakeServer{silent: true}
	c, _ := startClient(t, srv, nil, WithTimeout(50*time.Millisecond))

	_, err := c.Publish(context.Background(), domain.Publication{Topic: "grpA", Content: "x"})
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestClientRequestContextCancelled(t *testing.T) {
	srv := &fakeServer{silent: true}
	c, _ := startClient(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Publish(ctx, domain.Publication{Topic: "grpA", Content: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientDeliversDataInOrder(t *testing.T) {
	srv := &fakeServer{}
	got := make(chan domain.Envelope, 8)
	c, nw := startClient(t, srv, func(ctx context.Context, env domain.Envelope) error {
		got <- env
		return nil
	})

	conn := nw.conn(0)
	for i := 1; i <= 3; i++ {
		conn.push(&ServerMsg{Data: &MsgServerData{
			Topic:   "usrAlice",
			From:    "usrAlice",
			SeqID:   i,
			Head:    map[string]json.RawMessage{"mime": rawJSON("text/x-drafty")},
			Content: rawJSON("msg"),
		}})
	}
	for i := 1; i <= 3; i++ {
		select {
		case env := <-got:
			assert.Equal(t, i, env.SeqID)
			assert.Equal(t, "usrAlice", env.Topic)
			assert.JSONEq(t, `"msg"`, string(env.Content))
			assert.JSONEq(t, `"text/x-drafty"`, string(env.Head["mime"]))
		case <-time.After(time.Second):
			t.Fatalf("envelope %d not delivered", i)
		}
	}

	require.NoError(t, c.NoteRead(context.Background(), "usrAlice", 3))
	require.Eventually(t, func() bool { return len(srv.snapshotNotes()) == 1 }, time.Second, 5*time.Millisecond)
	note := srv.snapshotNotes()[0]
	assert.Equal(t, MsgClientNote{Topic: "usrAlice", What: "read", SeqID: 3}, note)
}

func TestClientHandlerErrorKeepsReading(t *testing.T) {
	srv := &fakeServer{}
	got := make(chan int, 2)
	_, nw := startClient(t, srv, func(ctx context.Context, env domain.Envelope) error {
		got <- env.SeqID
		return errors.New("boom")
	})

	conn := nw.conn(0)
	conn.push(&ServerMsg{Data: &MsgServerData{Topic: "grpA", SeqID: 1}})
	conn.push(&ServerMsg{Data: &MsgServerData{Topic: "grpA", SeqID: 2}})
	assert.Equal(t, 1, <-got)
	assert.Equal(t, 2, <-got)
}

func TestClientPresenceSubscribes(t *testing.T) {
	srv := &fakeServer{}
	c, nw := startClient(t, srv, nil)
	conn := nw.conn(0)

	conn.push(&ServerMsg{Pres: &MsgServerPres{Topic: "me", Src: "grpB", What: "msg", SeqID: 7}})
	require.Eventually(t, func() bool { return c.Subscribed("grpB") }, time.Second, 5*time.Millisecond)

	srv.mu.Lock()
	sub := srv.subs[len(srv.subs)-1]
	srv.mu.Unlock()
	assert.Equal(t, "grpB", sub.Topic)
	require.NotNil(t, sub.Get)
	require.NotNil(t, sub.Get.Data)
	assert.Equal(t, 7, sub.Get.Data.SinceID)

	conn.push(&ServerMsg{Pres: &MsgServerPres{Topic: "me", Src: "grpB", What: "off"}})
	require.Eventually(t, func() bool { return !c.Subscribed("grpB") }, time.Second, 5*time.Millisecond)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"grpB"}, srv.leaves)
}

func TestClientPresenceIgnoresOtherTopics(t *testing.T) {
	srv := &fakeServer{}
	seen := make(chan struct{})
	c, nw := startClient(t, srv, func(context.Context, domain.Envelope) error {
		close(seen)
		return nil
	})

	nw.conn(0).push(&ServerMsg{Pres: &MsgServerPres{Topic: "grpA", Src: "grpB", What: "on"}})
	// the data frame behind it proves the presence frame was consumed
	nw.conn(0).push(&ServerMsg{Data: &MsgServerData{Topic: "grpA", SeqID: 1}})
	<-seen
	assert.False(t, c.Subscribed("grpB"))
	assert.False(t, srv.subscribed("grpB"))
}

func TestClientMetaSubscribesKnownTopics(t *testing.T) {
	srv := &fakeServer{meSubs: []MsgTopicSub{{Topic: "grpA"}, {Topic: "usrAlice"}}}
	c, _ := startClient(t, srv, nil)

	require.Eventually(t, func() bool {
		return c.Subscribed("grpA") && c.Subscribed("usrAlice")
	}, time.Second, 5*time.Millisecond)
}

func TestClientReconnectUsesToken(t *testing.T) {
	srv := &fakeServer{}
	c, nw := startClient(t, srv, nil, WithRetry(3), WithBackoff(5*time.Millisecond))

	nw.conn(0).Close()
	require.Eventually(t, func() bool { return len(srv.snapshotLogins()) == 2 }, time.Second, 5*time.Millisecond)

	logins := srv.snapshotLogins()
	assert.Equal(t, "token", logins[1].Scheme)
	assert.Equal(t, []byte("token"), logins[1].Secret)

	require.Eventually(t, func() bool { return c.Subscribed("me") }, time.Second, 5*time.Millisecond)
	_, err := c.Publish(context.Background(), domain.Publication{Topic: "grpA", Content: "back"})
	assert.NoError(t, err)
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	srv := &fakeServer{}
	c, nw := startClient(t, srv, nil, WithRetry(2), WithBackoff(time.Millisecond))

	nw.setFail(true)
	nw.conn(0).Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not give up")
	}
}

func TestClientStop(t *testing.T) {
	srv := &fakeServer{}
	c, _ := startClient(t, srv, nil)

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()), "second stop is a no-op")
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed after stop")
	}
	_, err := c.Publish(context.Background(), domain.Publication{Topic: "grpA", Content: "x"})
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestClientStartDialFailure(t *testing.T) {
	nw := &pipeNetwork{srv: &fakeServer{}, fail: true}
	c := NewClient("test", nw.dial, "basic", "bot:pass", discardLogger())

	err := c.Start(context.Background(), func(context.Context, domain.Envelope) error { return nil })
	require.Error(t, err)
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed after failed start")
	}
}

func TestCredentialsDecodeTokenSecret(t *testing.T) {
	c := NewClient("test", nil, "token", "dG9rZW4=", discardLogger())
	scheme, secret := c.credentials()
	assert.Equal(t, "token", scheme)
	assert.Equal(t, []byte("token"), secret)

	c = NewClient("test", nil, "basic", "bot:pass", discardLogger())
	scheme, secret = c.credentials()
	assert.Equal(t, "basic", scheme)
	assert.Equal(t, []byte("bot:pass"), secret)
}
