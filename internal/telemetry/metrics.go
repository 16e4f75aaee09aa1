package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments recorded on the context aggregation path.
// A nil *Metrics is a valid no-op recorder so callers never branch on wiring.
type Metrics struct {
	assemblyDuration metric.Float64Histogram
	sourceDuration   metric.Float64Histogram
	contextCost      metric.Int64Histogram

	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cacheEvictions  metric.Int64Counter
	breakerChanges  metric.Int64Counter
	reductions      metric.Int64Counter
	notifications   metric.Int64Counter
	contextRequests metric.Int64Counter
}

// NewMetrics registers the service instruments on the supplied meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := new(Metrics)
	var err error

	if m.assemblyDuration, err = meter.Float64Histogram("context.assembly.duration",
		metric.WithDescription("Customer context assembly duration"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create assembly histogram: %w", err)
	}
	if m.sourceDuration, err = meter.Float64Histogram("source.fetch.duration",
		metric.WithDescription("Single source fetch duration"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create source histogram: %w", err)
	}
	if m.contextCost, err = meter.Int64Histogram("context.cost",
		metric.WithDescription("Estimated context cost in budget units"), metric.WithUnit("{unit}")); err != nil {
		return nil, fmt.Errorf("create cost histogram: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter("cache.hits",
		metric.WithDescription("Context cache hits")); err != nil {
		return nil, fmt.Errorf("create cache hit counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter("cache.misses",
		metric.WithDescription("Context cache misses")); err != nil {
		return nil, fmt.Errorf("create cache miss counter: %w", err)
	}
	if m.cacheEvictions, err = meter.Int64Counter("cache.evictions",
		metric.WithDescription("Context cache capacity evictions")); err != nil {
		return nil, fmt.Errorf("create cache eviction counter: %w", err)
	}
	if m.breakerChanges, err = meter.Int64Counter("breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions")); err != nil {
		return nil, fmt.Errorf("create breaker counter: %w", err)
	}
	if m.reductions, err = meter.Int64Counter("context.reductions",
		metric.WithDescription("Contexts reduced to fit the cost budget")); err != nil {
		return nil, fmt.Errorf("create reduction counter: %w", err)
	}
	if m.notifications, err = meter.Int64Counter("notifications.dispatched",
		metric.WithDescription("Outbound notification dispatch outcomes")); err != nil {
		return nil, fmt.Errorf("create notification counter: %w", err)
	}
	if m.contextRequests, err = meter.Int64Counter("context.requests",
		metric.WithDescription("Customer context requests by result")); err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	return m, nil
}

// RecordAssembly records one context request with its end-to-end duration.
func (m *Metrics) RecordAssembly(ctx context.Context, result string, millis float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrResult.String(result),
	)
	m.contextRequests.Add(ctx, 1, attrs)
	m.assemblyDuration.Record(ctx, millis, attrs)
}

// RecordSourceFetch records the duration and outcome of one upstream fetch.
func (m *Metrics) RecordSourceFetch(ctx context.Context, source, result string, millis float64) {
	if m == nil {
		return
	}
	m.sourceDuration.Record(ctx, millis,
		metric.WithAttributes(SourceAttributes(Environment(), source, result)...))
}

// RecordContextCost records the estimated cost of an assembled context.
func (m *Metrics) RecordContextCost(ctx context.Context, stage string, units int) {
	if m == nil {
		return
	}
	m.contextCost.Record(ctx, int64(units), metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrStage.String(stage),
	))
}

// RecordCacheAccess accumulates cache hit/miss/eviction deltas.
func (m *Metrics) RecordCacheAccess(ctx context.Context, backend string, hits, misses, evictions int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrCacheBackend.String(backend),
	)
	if hits > 0 {
		m.cacheHits.Add(ctx, hits, attrs)
	}
	if misses > 0 {
		m.cacheMisses.Add(ctx, misses, attrs)
	}
	if evictions > 0 {
		m.cacheEvictions.Add(ctx, evictions, attrs)
	}
}

// RecordBreakerTransition counts one breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.Add(ctx, 1,
		metric.WithAttributes(BreakerAttributes(Environment(), breaker, to)...))
}

// RecordReduction counts one budget reduction with the number of discarded fields.
func (m *Metrics) RecordReduction(ctx context.Context, discarded int) {
	if m == nil {
		return
	}
	m.reductions.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrReason.String(fmt.Sprintf("discarded_%d", discarded)),
	))
}

// RecordNotification counts one outbound notification outcome.
func (m *Metrics) RecordNotification(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrResult.String(result),
	))
}
