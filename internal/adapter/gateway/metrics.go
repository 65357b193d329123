package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"bedrock-relay/internal/domain"
)

// Metrics holds relay counters. All fields are safe for concurrent use.
type Metrics struct {
	RequestsTotal    atomic.Int64
	BadRequests      atomic.Int64
	SetupFailures    atomic.Int64
	StreamsActive    atomic.Int64
	StreamsCompleted atomic.Int64
	StreamsFailed    atomic.Int64
	StreamsCancelled atomic.Int64
	FragmentsTotal   atomic.Int64
	HealthChecks     atomic.Int64
}

// recordOutcome counts a finished stream.
func (m *Metrics) recordOutcome(o domain.Outcome) {
	switch o {
	case domain.OutcomeCompleted:
		m.StreamsCompleted.Add(1)
	case domain.OutcomeFailed:
		m.StreamsFailed.Add(1)
	case domain.OutcomeCancelled:
		m.StreamsCancelled.Add(1)
	}
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
func metricsHandler(startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}
		gauge := func(name, help, value string) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, value)
		}

		counter("relay_generate_requests_total", "Total /generate requests received.", metrics.RequestsTotal.Load())
		counter("relay_generate_bad_requests_total", "Requests rejected before reaching upstream.", metrics.BadRequests.Load())
		counter("relay_upstream_setup_failures_total", "Requests that failed before any fragment was sent.", metrics.SetupFailures.Load())
		counter("relay_streams_completed_total", "Streams that ended normally.", metrics.StreamsCompleted.Load())
		counter("relay_streams_failed_total", "Streams that failed after headers were sent.", metrics.StreamsFailed.Load())
		counter("relay_streams_cancelled_total", "Streams abandoned by the client.", metrics.StreamsCancelled.Load())
		counter("relay_fragments_total", "Text fragments relayed to clients.", metrics.FragmentsTotal.Load())
		counter("relay_health_checks_total", "Liveness probes served.", metrics.HealthChecks.Load())
		gauge("relay_streams_active", "Streams currently being relayed.", fmt.Sprint(metrics.StreamsActive.Load()))
		gauge("relay_uptime_seconds", "Seconds since the relay started.", fmt.Sprintf("%.0f", time.Since(startTime).Seconds()))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge("go_goroutines", "Number of goroutines.", fmt.Sprint(runtime.NumGoroutine()))
		gauge("go_memstats_alloc_bytes", "Bytes of allocated heap objects.", fmt.Sprint(mem.Alloc))
		gauge("go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", fmt.Sprint(mem.Sys))
		fmt.Fprintf(w, "# HELP %[1]s %[2]s\n# TYPE %[1]s counter\n%[1]s %[3]f\n",
			"relay_gc_pause_seconds_total", "Cumulative GC stop-the-world pause time.", float64(mem.PauseTotalNs)/1e9)
	}
}
