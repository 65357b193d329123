package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedrock-relay/internal/adapter/llm"
	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
)

func getHealth(t *testing.T, h http.Handler) HealthResponse {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHealthFormat(t *testing.T) {
	instant := time.Date(2025, 3, 1, 22, 30, 15, 123456000, time.UTC)
	h := healthHandler(func() time.Time { return instant }, &Metrics{})

	resp := getHealth(t, h)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "2025-03-01T22:30:15.123456+00:00", resp.UTCTime)
	assert.Equal(t, "2025-03-02T02:30:15.123456+04:00", resp.BakuTime)
}

func TestHealthAlwaysHasMicroseconds(t *testing.T) {
	instant := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	resp := getHealth(t, healthHandler(func() time.Time { return instant }, &Metrics{}))
	assert.Equal(t, "2025-01-01T00:00:00.000000+00:00", resp.UTCTime)
	assert.Equal(t, "2025-01-01T04:00:00.000000+04:00", resp.BakuTime)
}

func TestHealthSameInstant(t *testing.T) {
	resp := getHealth(t, healthHandler(time.Now, &Metrics{}))

	utc, err := time.Parse(isoMicros, resp.UTCTime)
	require.NoError(t, err)
	baku, err := time.Parse(isoMicros, resp.BakuTime)
	require.NoError(t, err)

	assert.True(t, utc.Equal(baku), "both fields must describe the same instant")
	_, offset := baku.Zone()
	assert.Equal(t, 4*60*60, offset)
}

func TestHealthMonotonic(t *testing.T) {
	srv := NewServer(context.Background(), testServerConfig(FormatRaw), Deps{
		Generator: scripted(nil, done()),
		Models:    llm.NewCatalog(config.Defaults().Models),
		Now:       fixedClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)),
	}, testLogger())

	var prev time.Time
	for i := 0; i < 50; i++ {
		resp := getHealth(t, srv.Handler())
		ts, err := time.Parse(isoMicros, resp.UTCTime)
		require.NoError(t, err)
		assert.False(t, ts.Before(prev), "utc_time went backwards: %s < %s", ts, prev)
		prev = ts
	}
}

func TestHealthMonotonicRealClock(t *testing.T) {
	h := healthHandler(time.Now, &Metrics{})
	var prev time.Time
	for i := 0; i < 20; i++ {
		ts, err := time.Parse(isoMicros, getHealth(t, h).UTCTime)
		require.NoError(t, err)
		assert.False(t, ts.Before(prev))
		prev = ts
	}
}

func TestHealthWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &stubGenerator{streamFunc: func(ctx context.Context, _ domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
		ch := make(chan domain.StreamDelta)
		go func() {
			defer close(ch)
			select {
			case ch <- text("slow"):
			case <-ctx.Done():
				return
			}
			close(started)
			select {
			case <-release:
				ch <- done()
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}}

	srv := newTestServer(t, FormatRaw, gen)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"p","modelName":"m"}`))
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := http.Client{Timeout: time.Second}
			resp, err := client.Get(ts.URL + "/health")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	close(release)
	<-streamDone
	assert.Equal(t, int64(10), srv.Metrics().HealthChecks.Load())
}
