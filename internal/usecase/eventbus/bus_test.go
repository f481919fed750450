package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Visecy/Karuha-sub000/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventCommandCompleted, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventCommandCompleted {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventCommandCompleted))
	bus.Publish(context.Background(), newEvent(domain.EventCommandFailed))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventMessageReceived))
	bus.Publish(context.Background(), newEvent(domain.EventCommandNotFound))
	bus.Close()
	assert.Equal(t, int32(2), got.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var typed, all atomic.Int32
	unsubTyped := bus.Subscribe(domain.EventMessageReceived, func(context.Context, domain.Event) { typed.Add(1) })
	unsubAll := bus.SubscribeAll(func(context.Context, domain.Event) { all.Add(1) })

	unsubTyped()
	unsubAll()
	unsubAll()

	bus.Publish(context.Background(), newEvent(domain.EventMessageReceived))
	bus.Close()
	assert.Zero(t, typed.Load())
	assert.Zero(t, all.Load())
}

func TestPublishFillsIdentity(t *testing.T) {
	bus := newTestBus()

	got := make(chan domain.Event, 1)
	bus.SubscribeAll(func(_ context.Context, e domain.Event) { got <- e })
	bus.Publish(context.Background(), domain.Event{Type: domain.EventMessageSent})
	bus.Close()

	e := <-got
	assert.Len(t, e.ID, 26)
	assert.False(t, e.Timestamp.IsZero())
}

func TestHandlersOutliveCancelledPublisher(t *testing.T) {
	bus := newTestBus()

	errs := make(chan error, 1)
	bus.SubscribeAll(func(ctx context.Context, _ domain.Event) {
		time.Sleep(10 * time.Millisecond)
		errs <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, newEvent(domain.EventCommandFailed))
	cancel()
	bus.Close()
	require.NoError(t, <-errs)
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventMessageReceived, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventMessageReceived))
		}()
	}
	wg.Wait()
	bus.Close()
	assert.Equal(t, int32(100), got.Load())
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventMessageReceived, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventMessageReceived, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventMessageReceived))
	bus.Close()
	assert.Equal(t, int32(1), got.Load(), "second handler still runs")
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventMessageReceived, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventMessageReceived))
	bus.Close() // blocks until the handler finishes
	require.Equal(t, int32(1), got.Load())

	bus.Publish(context.Background(), newEvent(domain.EventMessageReceived))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), got.Load(), "no delivery after close")
}
