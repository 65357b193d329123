package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bedrock-relay/internal/adapter/llm"
	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
)

// stubGenerator is a domain.Generator driven by a function field.
type stubGenerator struct {
	streamFunc func(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error)
}

func (s *stubGenerator) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
	return s.streamFunc(ctx, req)
}

func (s *stubGenerator) Name() string { return "stub" }

// scripted returns a generator that replays deltas and records the request.
func scripted(got *domain.GenerationRequest, deltas ...domain.StreamDelta) *stubGenerator {
	return &stubGenerator{streamFunc: func(_ context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
		if got != nil {
			*got = req
		}
		ch := make(chan domain.StreamDelta, len(deltas))
		for _, d := range deltas {
			ch <- d
		}
		close(ch)
		return ch, nil
	}}
}

func text(s string) domain.StreamDelta { return domain.StreamDelta{Content: s} }

func done() domain.StreamDelta { return domain.StreamDelta{Done: true} }

func failed(err error) domain.StreamDelta { return domain.StreamDelta{Done: true, Err: err} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServerConfig(format string) config.ServerConfig {
	cfg := config.Defaults().Server
	cfg.StreamFormat = format
	return cfg
}

func newTestServer(t *testing.T, format string, gen domain.Generator) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(ctx, testServerConfig(format), Deps{
		Generator: gen,
		Models:    llm.NewCatalog(config.Defaults().Models),
	}, testLogger())
}

func postGenerate(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// fixedClock returns successive instants one microsecond apart.
func fixedClock(start time.Time) func() time.Time {
	var n int64
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Microsecond)
	}
}
