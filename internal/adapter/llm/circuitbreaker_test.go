package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
)

func failingGenerator(calls *atomic.Int32, err error) *mockGenerator {
	return &mockGenerator{
		name: "converse",
		streamFunc: func(context.Context, domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
			calls.Add(1)
			return nil, err
		},
	}
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	cb := NewCircuitBreakerGenerator(&mockGenerator{name: "converse"}, config.CircuitBreakerConfig{}, newTestLogger())

	ch, err := cb.Stream(context.Background(), domain.GenerationRequest{})
	require.NoError(t, err)
	deltas := collect(t, ch)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Done)
	assert.Equal(t, "converse", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	inner := failingGenerator(&calls, domain.WrapOp("converse", domain.ErrUpstreamUnavailable))

	cb := NewCircuitBreakerGenerator(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.Stream(context.Background(), domain.GenerationRequest{})
		require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Stream(context.Background(), domain.GenerationRequest{})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, domain.CodeCircuitOpen, domain.ErrorCodeOf(err))
	assert.Equal(t, int32(3), calls.Load(), "generator should not be called when circuit is open")
}

func TestCircuitBreakerIgnoresClientFaults(t *testing.T) {
	var calls atomic.Int32
	inner := failingGenerator(&calls, domain.WrapOp("converse", domain.ErrModelInvalid))

	cb := NewCircuitBreakerGenerator(inner, config.CircuitBreakerConfig{MaxFailures: 2}, newTestLogger())

	for i := 0; i < 5; i++ {
		_, err := cb.Stream(context.Background(), domain.GenerationRequest{})
		require.ErrorIs(t, err, domain.ErrModelInvalid)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, int32(5), calls.Load())
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	inner := &mockGenerator{
		name: "converse",
		streamFunc: func(context.Context, domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
			if fail.Load() {
				return nil, errors.New("down")
			}
			ch := make(chan domain.StreamDelta, 1)
			ch <- domain.StreamDelta{Done: true}
			close(ch)
			return ch, nil
		},
	}

	cb := NewCircuitBreakerGenerator(inner, config.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     50 * time.Millisecond,
		Interval:    60 * time.Second,
	}, newTestLogger())

	for i := 0; i < 2; i++ {
		cb.Stream(context.Background(), domain.GenerationRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	fail.Store(false)
	_, err := cb.Stream(context.Background(), domain.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerMidStreamFailureDoesNotTrip(t *testing.T) {
	inner := &mockGenerator{
		name: "converse",
		streamFunc: func(context.Context, domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
			ch := make(chan domain.StreamDelta, 2)
			ch <- domain.StreamDelta{Content: "x"}
			ch <- domain.StreamDelta{Done: true, Err: domain.ErrStreamInterrupted}
			close(ch)
			return ch, nil
		},
	}
	cb := NewCircuitBreakerGenerator(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	for i := 0; i < 3; i++ {
		ch, err := cb.Stream(context.Background(), domain.GenerationRequest{})
		require.NoError(t, err)
		collect(t, ch)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}
