// Package middleware connects HTTP servers to the shutdown coordinator.
//
// Track is the request boundary: it admits each request through the
// coordinator's tracker and turns rejections into 503 responses with a
// Retry-After hint. Readiness and Liveness are the probe endpoints, and
// Metrics counts what the boundary did.
//
//	coord := shutdown.NewCoordinator(cfg)
//	metrics, _ := middleware.NewMetrics(telemetry.NewMeter(nil))
//	opts := middleware.DefaultOptions()
//	opts.Metrics = metrics
//
//	mux.Handle("GET /healthz/ready", middleware.Readiness(coord))
//	mux.Handle("GET /livez", middleware.Liveness())
//	mux.Handle("GET /metrics", metrics.Handler(coord))
//
//	track, _ := middleware.Track(coord.Tracker(), opts)
//	srv.Handler = middleware.RequestLog(logger)(track(mux))
package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Admitter is the request-boundary side of the coordinator.
// *shutdown.RequestTracker implements it.
type Admitter interface {
	Start() bool
	Complete()
}

// StatusSource is the read side of the coordinator used by probes.
// *shutdown.Coordinator implements it.
type StatusSource interface {
	IsShuttingDown() bool
	State() shutdown.State
	InFlight() int64
}

// Options configures Track.
type Options struct {
	// RetryAfter is sent on rejected requests.
	// Default: 10 seconds
	RetryAfter time.Duration

	// ExemptPaths are doublestar patterns matched against the URL path.
	// Matching requests bypass admission (probes and metrics must keep
	// answering while draining).
	ExemptPaths []string

	// InstanceID is included in rejection bodies.
	InstanceID string

	// Logger receives one line per rejected request.
	Logger *logging.Logger

	// Metrics, when set, counts admissions and rejections.
	Metrics *Metrics
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		RetryAfter:  10 * time.Second,
		ExemptPaths: []string{"/healthz/**", "/livez", "/metrics"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
