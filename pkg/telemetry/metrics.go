package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var noopMeter = noop.NewMeterProvider().Meter(InstrumentationName)

// Metrics holds the coordinator counters. The zero value is not usable; call NewMetrics.
type Metrics struct {
	eventsProcessed metric.Int64Counter
	handlerOutcomes metric.Int64Counter
	deferredFired   metric.Int64Counter
}

// NewMetrics registers the counters on the global meter provider. Instruments created
// before Init delegate to the provider installed later.
func NewMetrics() *Metrics {
	meter := otel.Meter(InstrumentationName)

	// Instrument creation only fails on invalid names; the no-op fallbacks keep callers simple.
	processed, err := meter.Int64Counter("rc.events.processed",
		metric.WithDescription("Queue entries acknowledged, by route"))
	if err != nil {
		processed, _ = noopMeter.Int64Counter("rc.events.processed")
	}
	outcomes, err := meter.Int64Counter("rc.handler.outcomes",
		metric.WithDescription("Rule handler invocations, by outcome"))
	if err != nil {
		outcomes, _ = noopMeter.Int64Counter("rc.handler.outcomes")
	}
	fired, err := meter.Int64Counter("rc.deferred.fired",
		metric.WithDescription("Deferred events re-injected into the live queue"))
	if err != nil {
		fired, _ = noopMeter.Int64Counter("rc.deferred.fired")
	}

	return &Metrics{eventsProcessed: processed, handlerOutcomes: outcomes, deferredFired: fired}
}

func (m *Metrics) EventProcessed(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.eventsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (m *Metrics) HandlerOutcome(ctx context.Context, handler, outcome string) {
	if m == nil {
		return
	}
	m.handlerOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("handler", handler),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) DeferredFired(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deferredFired.Add(ctx, int64(n))
}
