package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/Visecy/Karuha-sub000/internal/domain"
)

// Pending is a once listener whose selection resolves a future. Register it
// before triggering whatever produces the awaited event.
type Pending[T any] struct {
	handle    *Handle[T]
	result    chan T
	cancelled chan struct{}
	cancel    sync.Once

	mu      sync.Mutex
	removed bool
}

type waiter[T any] struct {
	match  func(T) float64
	result chan T
}

func (w *waiter[T]) Match(ev T) float64 { return w.match(ev) }

func (w *waiter[T]) Run(_ context.Context, ev T) (any, error) {
	w.result <- ev
	return nil, nil
}

// Expect registers a once listener scored by match and returns the pending
// result.
func (r *Registry[T]) Expect(match func(T) float64, opts ...RegisterOption) *Pending[T] {
	w := &waiter[T]{match: match, result: make(chan T, 1)}
	p := &Pending[T]{result: w.result, cancelled: make(chan struct{})}
	p.handle = r.Register(w, append([]RegisterOption{Named("waiter")}, append(opts, Once())...)...)
	return p
}

// ID returns the listener id of the waiter.
func (p *Pending[T]) ID() string { return p.handle.ID() }

// Wait blocks until the waiter is selected, ctx ends or Cancel is called.
// It must not be called more than once.
// On expiry or cancellation the waiter is deactivated; an event that was
// already delivered is still returned.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case ev := <-p.result:
		return ev, nil
	case <-ctx.Done():
		if ev, ok := p.abandon(); ok {
			return ev, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, domain.WrapOp("Pending.Wait", domain.ErrWaitTimeout)
		}
		return zero, domain.WrapOp("Pending.Wait", domain.ErrWaitCancelled)
	case <-p.cancelled:
		if ev, ok := p.abandon(); ok {
			return ev, nil
		}
		return zero, domain.WrapOp("Pending.Wait", domain.ErrWaitCancelled)
	}
}

// abandon deactivates the waiter. If a dispatch selected it first the
// delivered event is returned.
func (p *Pending[T]) abandon() (T, bool) {
	if p.deactivate() {
		var zero T
		return zero, false
	}
	ev, ok := <-p.result
	return ev, ok
}

// deactivate reports whether the waiter was removed by this pending rather
// than selected by a dispatch.
func (p *Pending[T]) deactivate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.removed {
		p.removed = p.handle.Remove()
	}
	return p.removed
}

// Cancel deactivates the waiter and releases a blocked Wait with a
// cancellation error.
func (p *Pending[T]) Cancel() {
	p.cancel.Do(func() {
		p.deactivate()
		close(p.cancelled)
	})
}

// Wait registers a waiter and blocks for it. See Pending.Wait.
func (r *Registry[T]) Wait(ctx context.Context, match func(T) float64, opts ...RegisterOption) (T, error) {
	return r.Expect(match, opts...).Wait(ctx)
}
