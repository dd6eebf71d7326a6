package telemetry

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/vinayprograms/drainkit"

// Meter records instruments in process and reads them back on demand. The
// request boundary counts through it and /metrics reports the totals, so
// the numbers stay available while the instance drains and no collector
// is reachable. After Cleanup the last collected totals stay readable.
type Meter struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	meter    metric.Meter

	mu    sync.Mutex
	final map[string]int64
}

// NewMeter creates a meter. res may be nil.
func NewMeter(res *resource.Resource) *Meter {
	reader := sdkmetric.NewManualReader()
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	return &Meter{
		provider: provider,
		reader:   reader,
		meter:    provider.Meter(instrumentationName),
	}
}

// Int64Counter creates a monotonic counter.
func (m *Meter) Int64Counter(name, description string) (metric.Int64Counter, error) {
	c, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", name, err)
	}
	return c, nil
}

// Totals collects every int64 sum and returns its value summed across
// attribute sets, keyed by instrument name.
func (m *Meter) Totals(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return maps.Clone(m.final), nil
	}
	return m.collect(ctx)
}

func (m *Meter) collect(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			totals[md.Name] = total
		}
	}
	return totals, nil
}

// Cleanup implements shutdown.Cleaner. It takes a final collection, then
// shuts the provider down; later recordings are dropped.
func (m *Meter) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return nil
	}
	final, err := m.collect(ctx)
	if err != nil {
		final = map[string]int64{}
	}
	m.final = final
	if sderr := m.provider.Shutdown(ctx); sderr != nil {
		return fmt.Errorf("meter shutdown: %w", sderr)
	}
	return err
}
