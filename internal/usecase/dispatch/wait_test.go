package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Visecy/Karuha-sub000/internal/domain"
)

func matchText(s string) func(event) float64 {
	return func(ev event) float64 {
		if ev.text == s {
			return 1
		}
		return 0
	}
}

func TestWaitResolves(t *testing.T) {
	r := newTestRegistry()
	p := r.Expect(matchText("yes"))

	go func() {
		_, _ = r.Dispatch(context.Background(), event{text: "no"})
		_, _ = r.Dispatch(context.Background(), event{text: "yes"})
	}()

	ev, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yes", ev.text)
	assert.Equal(t, 0, r.Len())
}

func TestWaitTimeout(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Wait(ctx, matchText("never"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWaitTimeout))
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, 0, r.Len(), "timed out waiter must be deactivated")
}

func TestWaitContextCancelled(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Wait(ctx, matchText("never"))
	assert.ErrorIs(t, err, domain.ErrWaitCancelled)
	assert.Equal(t, 0, r.Len())
}

func TestPendingCancel(t *testing.T) {
	r := newTestRegistry()
	p := r.Expect(matchText("x"))

	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(context.Background())
		done <- err
	}()
	p.Cancel()
	p.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrWaitCancelled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Cancel")
	}
	assert.Equal(t, 0, r.Len())

	out, err := r.Dispatch(context.Background(), event{text: "x"})
	require.NoError(t, err)
	assert.False(t, out.Matched)
}

func TestWaitKeepsDeliveredEvent(t *testing.T) {
	r := newTestRegistry()
	p := r.Expect(matchText("x"))

	_, err := r.Dispatch(context.Background(), event{text: "x"})
	require.NoError(t, err)
	p.Cancel()

	ev, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", ev.text)
}
