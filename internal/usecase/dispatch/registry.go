// Package dispatch selects, among competing listeners, the single best match
// for an event and runs it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/Visecy/Karuha-sub000/internal/infra/tracer"
)

// DefaultThreshold is the minimum score a listener needs to be selected.
const DefaultThreshold = 0.4

// Listener competes for events of type T. Match scores the event; the
// highest scoring listener above the threshold has Run invoked.
type Listener[T any] interface {
	Match(ev T) float64
	Run(ctx context.Context, ev T) (any, error)
}

// Funcs adapts a pair of functions to Listener.
type Funcs[T any] struct {
	MatchFunc func(ev T) float64
	RunFunc   func(ctx context.Context, ev T) (any, error)
}

func (f Funcs[T]) Match(ev T) float64 { return f.MatchFunc(ev) }

func (f Funcs[T]) Run(ctx context.Context, ev T) (any, error) { return f.RunFunc(ctx, ev) }

// Info identifies a registered listener.
type Info struct {
	ID   string
	Name string
	Once bool
}

type entry[T any] struct {
	info     Info
	listener Listener[T]
	active   atomic.Bool
}

// Stats holds registry counters.
type Stats struct {
	Active     int
	Dispatched uint64
	Matched    uint64
	Unmatched  uint64
	Failed     uint64
}

// Registry holds the active listeners for one event type. It is safe for
// concurrent use; listeners may register and deregister from inside Run.
type Registry[T any] struct {
	name      string
	logger    *slog.Logger
	threshold float64

	mu      sync.RWMutex
	entries []*entry[T] // registration order

	dispatched atomic.Uint64
	matched    atomic.Uint64
	unmatched  atomic.Uint64
	failed     atomic.Uint64
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	threshold float64
}

// WithDefaultThreshold overrides DefaultThreshold for a registry.
func WithDefaultThreshold(th float64) Option {
	return func(o *options) { o.threshold = th }
}

// NewRegistry creates an empty registry. name is used in logs and traces.
func NewRegistry[T any](name string, logger *slog.Logger, opts ...Option) *Registry[T] {
	o := options{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{name: name, logger: logger, threshold: o.threshold}
}

// RegisterOption configures a single registration.
type RegisterOption func(*Info)

// Once removes the listener as soon as it is selected.
func Once() RegisterOption {
	return func(i *Info) { i.Once = true }
}

// Named sets the listener name used in logs and events.
func Named(name string) RegisterOption {
	return func(i *Info) { i.Name = name }
}

// Handle controls a registered listener.
type Handle[T any] struct {
	reg *Registry[T]
	e   *entry[T]
}

// ID returns the unique listener id.
func (h *Handle[T]) ID() string { return h.e.info.ID }

// Info returns the listener identity.
func (h *Handle[T]) Info() Info { return h.e.info }

// Active reports whether the listener can still be selected.
func (h *Handle[T]) Active() bool { return h.e.active.Load() }

// Remove deregisters the listener. It reports whether this call deactivated
// it; false means it was already removed or, for a once listener, already
// selected.
func (h *Handle[T]) Remove() bool {
	if !h.e.active.CompareAndSwap(true, false) {
		return false
	}
	h.reg.drop(h.e)
	return true
}

// Register adds l and returns a handle for removing it.
func (r *Registry[T]) Register(l Listener[T], opts ...RegisterOption) *Handle[T] {
	e := &entry[T]{listener: l, info: Info{ID: newID()}}
	for _, opt := range opts {
		opt(&e.info)
	}
	if e.info.Name == "" {
		e.info.Name = fmt.Sprintf("%T", l)
	}
	e.active.Store(true)

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	r.logger.Debug("listener registered",
		"registry", r.name, "listener", e.info.Name, "id", e.info.ID, "once", e.info.Once)
	return &Handle[T]{reg: r, e: e}
}

func (r *Registry[T]) drop(e *entry[T]) {
	r.mu.Lock()
	r.entries = slices.DeleteFunc(r.entries, func(x *entry[T]) bool { return x == e })
	r.mu.Unlock()
	r.logger.Debug("listener removed", "registry", r.name, "listener", e.info.Name, "id", e.info.ID)
}

// Len returns the number of active listeners.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// DispatchOption tunes a single Dispatch call.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	threshold float64
	filter    func(Info) bool
}

// WithThreshold sets the minimum score for this call.
func WithThreshold(th float64) DispatchOption {
	return func(o *dispatchOptions) { o.threshold = th }
}

// WithFilter restricts the call to listeners accepted by fn.
func WithFilter(fn func(Info) bool) DispatchOption {
	return func(o *dispatchOptions) { o.filter = fn }
}

// Outcome describes the result of a Dispatch call.
type Outcome struct {
	Matched  bool
	Listener Info
	Score    float64
	Result   any
}

type candidate[T any] struct {
	e     *entry[T]
	score float64
}

// Dispatch scores ev against a snapshot of the active listeners and runs the
// best match. Equal scores are resolved in favour of the earliest
// registration. When nothing reaches the threshold the outcome is unmatched
// and no listener runs. The error is the selected listener's own.
func (r *Registry[T]) Dispatch(ctx context.Context, ev T, opts ...DispatchOption) (Outcome, error) {
	o := dispatchOptions{threshold: r.threshold}
	for _, opt := range opts {
		opt(&o)
	}
	r.dispatched.Add(1)

	r.mu.RLock()
	snapshot := slices.Clone(r.entries)
	r.mu.RUnlock()

	cands := make([]candidate[T], 0, len(snapshot))
	for _, e := range snapshot {
		if !e.active.Load() || (o.filter != nil && !o.filter(e.info)) {
			continue
		}
		score := r.score(e, ev)
		if score >= o.threshold {
			cands = append(cands, candidate[T]{e: e, score: score})
		}
	}
	slices.SortStableFunc(cands, func(a, b candidate[T]) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	for _, c := range cands {
		if c.e.info.Once {
			// Losing this race means a concurrent dispatch took it.
			if !c.e.active.CompareAndSwap(true, false) {
				continue
			}
			r.drop(c.e)
		} else if !c.e.active.Load() {
			continue
		}
		r.matched.Add(1)
		return r.run(ctx, c, ev)
	}

	r.unmatched.Add(1)
	return Outcome{}, nil
}

func (r *Registry[T]) score(e *entry[T], ev T) (score float64) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("listener match panicked",
				"registry", r.name, "listener", e.info.Name, "id", e.info.ID, "panic", p)
			score = -1
		}
	}()
	return e.listener.Match(ev)
}

func (r *Registry[T]) run(ctx context.Context, c candidate[T], ev T) (out Outcome, err error) {
	ctx, span := tracer.StartSpan(ctx, r.name+".run",
		trace.WithAttributes(
			tracer.StringAttr("listener.name", c.e.info.Name),
			tracer.StringAttr("listener.id", c.e.info.ID),
			tracer.FloatAttr("listener.score", c.score),
		),
	)
	defer span.End()

	out = Outcome{Matched: true, Listener: c.e.info, Score: c.score}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener %s panicked: %v", c.e.info.Name, p)
		}
		if err != nil {
			r.failed.Add(1)
		}
		tracer.Finish(span, err)
	}()
	out.Result, err = c.e.listener.Run(ctx, ev)
	return out, err
}

// Stats returns a snapshot of the registry counters.
func (r *Registry[T]) Stats() Stats {
	return Stats{
		Active:     r.Len(),
		Dispatched: r.dispatched.Load(),
		Matched:    r.matched.Load(),
		Unmatched:  r.unmatched.Load(),
		Failed:     r.failed.Load(),
	}
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
