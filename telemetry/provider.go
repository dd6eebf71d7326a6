// OpenTelemetry setup for a drainkit process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attributes describing the shutdown policy of the instance, so a
// trace of a slow exit can be read against the limits it ran under.
const (
	AttrDrainTimeoutMS = attribute.Key("drainkit.drain_timeout_ms")
	AttrTaskTimeoutMS  = attribute.Key("drainkit.task_timeout_ms")
)

// DefaultServiceName is used when ProviderConfig.ServiceName is empty.
const DefaultServiceName = "drainkit"

// ProviderConfig describes the instance and where its spans go.
type ProviderConfig struct {
	// ServiceName and ServiceVersion identify the service.
	ServiceName    string
	ServiceVersion string

	// InstanceID is recorded as service.instance.id.
	InstanceID string

	// DrainTimeout and TaskTimeout are recorded on the resource.
	DrainTimeout time.Duration
	TaskTimeout  time.Duration

	// Endpoint of the OTLP collector, host:port. A scheme prefix is ignored.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string

	// Insecure disables TLS to the collector.
	Insecure bool
}

// NewResource builds the resource shared by traces and metrics. Attributes
// from OTEL_RESOURCE_ATTRIBUTES are merged in; a malformed variable is
// ignored rather than failing startup.
func NewResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		AttrDrainTimeoutMS.Int64(cfg.DrainTimeout.Milliseconds()),
		AttrTaskTimeoutMS.Int64(cfg.TaskTimeout.Milliseconds()),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// Provider owns the trace pipeline. It is a shutdown.Cleaner: register it
// first so it runs last and still exports the spans of every other task.
type Provider struct {
	tp     *sdktrace.TracerProvider
	res    *resource.Resource
	tracer *Tracer
}

// InitProvider exports spans to cfg.Endpoint and installs the provider,
// the W3C propagators, and the global Tracer.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracerFromProvider(tp, instrumentationName)
	SetGlobalTracer(tracer)
	return &Provider{tp: tp, res: res, tracer: tracer}, nil
}

func newExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	if endpoint == "" {
		return nil, errors.New("telemetry endpoint not configured")
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown telemetry protocol %q (use grpc or http)", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return exp, nil
}

// Tracer returns the tracer bound to this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Resource returns the resource spans are exported with.
func (p *Provider) Resource() *resource.Resource {
	return p.res
}

// Cleanup implements shutdown.Cleaner. Buffered spans are exported before
// the exporter stops, bounded by ctx.
func (p *Provider) Cleanup(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}
