package gateway

import (
	"net/http"
	"time"
)

// isoMicros renders ISO-8601 with microseconds and a numeric offset,
// e.g. 2025-01-01T12:00:00.000000+00:00.
const isoMicros = "2006-01-02T15:04:05.000000-07:00"

// bakuZone is Azerbaijan time. The country has no daylight saving, so a
// fixed offset is exact and needs no tzdata.
var bakuZone = time.FixedZone("Asia/Baku", 4*60*60)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status   string `json:"status"`
	UTCTime  string `json:"utc_time"`
	BakuTime string `json:"baku_time"`
}

// healthHandler answers liveness probes without touching the upstream, so
// it stays responsive while streams are in flight.
func healthHandler(now func() time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		metrics.HealthChecks.Add(1)
		t := now()
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:   "healthy",
			UTCTime:  t.UTC().Format(isoMicros),
			BakuTime: t.In(bakuZone).Format(isoMicros),
		})
	}
}
