package llm

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bedrock-relay/internal/domain"
)

// --- Fake event stream ---

// fakeReader replays a fixed event sequence, then reports err.
type fakeReader[T any] struct {
	events chan T
	err    error

	mu     sync.Mutex
	closed bool
}

func newFakeReader[T any](err error, events ...T) *fakeReader[T] {
	ch := make(chan T, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return &fakeReader[T]{events: ch, err: err}
}

// newBlockingReader returns a reader whose channel never closes on its own.
func newBlockingReader[T any]() *fakeReader[T] {
	return &fakeReader[T]{events: make(chan T)}
}

func (r *fakeReader[T]) Events() <-chan T { return r.events }
func (r *fakeReader[T]) Err() error       { return r.err }

func (r *fakeReader[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader[T]) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// --- Mock generator ---

type mockGenerator struct {
	name       string
	streamFunc func(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockGenerator) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}
	ch := make(chan domain.StreamDelta, 1)
	ch <- domain.StreamDelta{Done: true}
	close(ch)
	return ch, nil
}

func (m *mockGenerator) Name() string { return m.name }

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// captureLogger returns a debug logger writing into the returned buffer.
func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// collect drains ch, failing the test if it does not close in time.
func collect(t *testing.T, ch <-chan domain.StreamDelta) []domain.StreamDelta {
	t.Helper()
	var out []domain.StreamDelta
	timeout := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		case <-timeout:
			require.FailNow(t, "stream did not close")
		}
	}
}

// fragments returns the content of every non-terminal delta.
func fragments(deltas []domain.StreamDelta) []string {
	var out []string
	for _, d := range deltas {
		if !d.Done {
			out = append(out, d.Content)
		}
	}
	return out
}
