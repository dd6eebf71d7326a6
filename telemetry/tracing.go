// OpenTelemetry tracing support for the shutdown sequence.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with shutdown-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer bound to a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Shutdown Spans ---

// ShutdownSpanOptions describes the finished shutdown sequence.
type ShutdownSpanOptions struct {
	Status      string
	FailedTasks int
	Stragglers  int64
}

// StartShutdownSpan starts the root span of a shutdown sequence.
func (t *Tracer) StartShutdownSpan(ctx context.Context, trigger string, timeout time.Duration) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("shutdown.trigger", trigger),
		attribute.Int64("shutdown.timeout_ms", timeout.Milliseconds()),
	)
	return ctx, span
}

// EndShutdownSpan ends the root span. A partial outcome is recorded as an
// error status so it stands out in trace views.
func (t *Tracer) EndShutdownSpan(span trace.Span, opts ShutdownSpanOptions) {
	span.SetAttributes(
		attribute.String("shutdown.status", opts.Status),
		attribute.Int("shutdown.failed_tasks", opts.FailedTasks),
		attribute.Int64("shutdown.stragglers", opts.Stragglers),
	)
	if opts.FailedTasks > 0 {
		span.SetStatus(codes.Error, "cleanup incomplete")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// DrainSpanOptions contains the drain result.
type DrainSpanOptions struct {
	Drained    bool
	Stragglers int64
	Waited     time.Duration
}

// StartDrainSpan starts a span covering the drain window.
func (t *Tracer) StartDrainSpan(ctx context.Context, inFlight int64) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown.drain")
	span.SetAttributes(attribute.Int64("drain.in_flight", inFlight))
	return ctx, span
}

// EndDrainSpan ends a drain span. A timeout is not an error.
func (t *Tracer) EndDrainSpan(span trace.Span, opts DrainSpanOptions) {
	span.SetAttributes(
		attribute.Bool("drain.drained", opts.Drained),
		attribute.Int64("drain.stragglers", opts.Stragglers),
		attribute.Int64("drain.waited_ms", opts.Waited.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// StartCleanupSpan starts a span for a single cleanup task.
func (t *Tracer) StartCleanupSpan(ctx context.Context, name string, index int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "cleanup."+name)
	span.SetAttributes(
		attribute.String("cleanup.name", name),
		attribute.Int("cleanup.index", index),
	)
	return ctx, span
}

// EndCleanupSpan ends a cleanup span.
func (t *Tracer) EndCleanupSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
