package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerGenerator wraps a Generator with circuit breaker protection.
// Only stream setup passes through the breaker. Failures after the stream
// is open arrive on the channel and never trip it, and neither do errors
// caused by the request itself.
type CircuitBreakerGenerator struct {
	inner   domain.Generator
	breaker *gobreaker.CircuitBreaker[<-chan domain.StreamDelta]
}

// NewCircuitBreakerGenerator wraps inner with a circuit breaker. Zero values
// in cfg fall back to defaults.
func NewCircuitBreakerGenerator(inner domain.Generator, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerGenerator {
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

	cb := gobreaker.NewCircuitBreaker[<-chan domain.StreamDelta](gobreaker.Settings{
		Name:        "bedrock:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open state
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
		IsSuccessful: func(err error) bool {
			return err == nil || isClientFault(err)
		},
	})

	return &CircuitBreakerGenerator{inner: inner, breaker: cb}
}

// Stream implements domain.Generator.
func (g *CircuitBreakerGenerator) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
	ch, err := g.breaker.Execute(func() (<-chan domain.StreamDelta, error) {
		return g.inner.Stream(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("strategy %q: %w: %w", g.inner.Name(), domain.ErrCircuitOpen, err)
	}
	return ch, err
}

// Name implements domain.Generator.
func (g *CircuitBreakerGenerator) Name() string { return g.inner.Name() }

// State returns the current breaker state for monitoring.
func (g *CircuitBreakerGenerator) State() gobreaker.State {
	return g.breaker.State()
}

// Counts returns the current breaker counters.
func (g *CircuitBreakerGenerator) Counts() gobreaker.Counts {
	return g.breaker.Counts()
}

var _ domain.Generator = (*CircuitBreakerGenerator)(nil)
