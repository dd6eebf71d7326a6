package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vinayprograms/drainkit/telemetry"
)

// Instrument names for the request boundary.
const (
	MetricAdmitted  = "drainkit.requests.admitted"
	MetricRejected  = "drainkit.requests.rejected"
	MetricCompleted = "drainkit.requests.completed"
)

// Metrics counts what the request boundary did, as OpenTelemetry counters
// on a telemetry.Meter.
type Metrics struct {
	meter     *telemetry.Meter
	admitted  metric.Int64Counter
	rejected  metric.Int64Counter
	completed metric.Int64Counter
}

// Counts is a snapshot of the boundary counters.
type Counts struct {
	Admitted  int64
	Rejected  int64
	Completed int64
}

// NewMetrics registers the boundary counters on m.
func NewMetrics(m *telemetry.Meter) (*Metrics, error) {
	admitted, err := m.Int64Counter(MetricAdmitted, "Requests admitted while running.")
	if err != nil {
		return nil, err
	}
	rejected, err := m.Int64Counter(MetricRejected, "Requests turned away after shutdown began.")
	if err != nil {
		return nil, err
	}
	completed, err := m.Int64Counter(MetricCompleted, "Admitted requests that finished.")
	if err != nil {
		return nil, err
	}
	return &Metrics{meter: m, admitted: admitted, rejected: rejected, completed: completed}, nil
}

func methodAttr(r *http.Request) metric.AddOption {
	return metric.WithAttributes(attribute.String("http.request.method", r.Method))
}

func (m *Metrics) recordAdmitted(r *http.Request) {
	if m != nil {
		m.admitted.Add(r.Context(), 1, methodAttr(r))
	}
}

func (m *Metrics) recordRejected(r *http.Request) {
	if m != nil {
		m.rejected.Add(r.Context(), 1, methodAttr(r))
	}
}

func (m *Metrics) recordCompleted(r *http.Request) {
	if m != nil {
		m.completed.Add(r.Context(), 1, methodAttr(r))
	}
}

// Counts collects the current totals.
func (m *Metrics) Counts(ctx context.Context) (Counts, error) {
	totals, err := m.meter.Totals(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Admitted:  totals[MetricAdmitted],
		Rejected:  totals[MetricRejected],
		Completed: totals[MetricCompleted],
	}, nil
}

// Handler serves the counters, plus the live state and in-flight count,
// as a flat JSON object.
func (m *Metrics) Handler(s StatusSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := m.Counts(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"requests_admitted":  c.Admitted,
			"requests_rejected":  c.Rejected,
			"requests_completed": c.Completed,
			"in_flight":          s.InFlight(),
			"state":              s.State().String(),
		})
	})
}
