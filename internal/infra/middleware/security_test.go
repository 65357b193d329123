package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedrock-relay/internal/infra/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for header, want := range expected {
		assert.Equal(t, want, w.Header().Get(header), header)
	}
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "HSTS requires TLS")
}

func TestSecurityHeadersHSTSWithTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)

	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}

func doFrom(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 60, BurstSize: 3})(okHandler)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doFrom(h, "192.168.1.1:1234", nil).Code, "request %d", i+1)
	}

	w := doFrom(h, "192.168.1.1:1234", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimitSeparatesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 60, BurstSize: 1})(okHandler)

	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.1:2", nil).Code)
	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.2:1", nil).Code)
}

func TestRateLimitTokenRefill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 600/min = 10 tokens per second.
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 600, BurstSize: 1})(okHandler)

	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.9:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.9:1", nil).Code)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.9:1", nil).Code)
}

func TestRateLimitCleanupGoroutineStops(t *testing.T) {
	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 60, BurstSize: 1})
	require.Greater(t, runtime.NumGoroutine(), before, "cleanup goroutine should be running")
	cancel()

	// Poll on this goroutine only; assert.Eventually runs helpers of its own
	// that would keep the count above the baseline.
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before)
}

func TestClientIP(t *testing.T) {
	trusted := []string{"10.0.0.1"}
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		proxies []string
		want    string
	}{
		{"direct", "203.0.113.5:5555", nil, nil, "203.0.113.5"},
		{"ipv6", "[2001:db8::1]:443", nil, nil, "2001:db8::1"},
		{"spoofed xff ignored", "203.0.113.5:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "203.0.113.5"},
		{"untrusted peer", "203.0.113.5:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, trusted, "203.0.113.5"},
		{"trusted xff chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, trusted, "1.2.3.4"},
		{"trusted real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": " 5.6.7.8 "}, trusted, "5.6.7.8"},
		{"trusted no headers", "10.0.0.1:80", nil, trusted, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.proxies))
		})
	}
}
