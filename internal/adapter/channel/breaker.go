package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Breaker guards a channel's Publish with a circuit breaker. When publishing
// keeps failing the circuit opens and sends fail fast with
// domain.ErrChannelUnhealthy until a trial request succeeds. Every other method is
// passed through.
type Breaker struct {
	domain.Channel
	breaker *gobreaker.CircuitBreaker[int]
}

// NewBreaker wraps inner. Zero-valued settings fall back to defaults.
func NewBreaker(inner domain.Channel, cfg config.BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "publish:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller giving up is not the server's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{Channel: inner, breaker: cb}
}

// Publish implements domain.Channel through the breaker.
func (b *Breaker) Publish(ctx context.Context, pub domain.Publication) (int, error) {
	seq, err := b.breaker.Execute(func() (int, error) {
		return b.Channel.Publish(ctx, pub)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrChannelUnhealthy, b.Name(), err)
	}
	return seq, err
}

// State returns the current circuit breaker state for monitoring.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current circuit breaker counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}
