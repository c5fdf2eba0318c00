package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-recovery/pkg/config"
	"github.com/zoff-tech/go-recovery/pkg/executor"
	"github.com/zoff-tech/go-recovery/pkg/scheduler"
	"github.com/zoff-tech/go-recovery/pkg/telemetry"
	"github.com/zoff-tech/go-recovery/schema"
)

// Routes reported in logs and the rc.events.processed metric.
const (
	RouteWake      = "wake"
	RouteTimeout   = "timeout"
	RouteDebug     = "debug"
	RouteHandler   = "handler"
	RouteMalformed = "malformed"
	RouteSkipped   = "skipped"
)

// EventQueue is the live queue as seen by the dispatcher and coordinator.
type EventQueue interface {
	Snapshot(ctx context.Context) ([]schema.QueueEntry, error)
	Pending(ctx context.Context, key string) (bool, error)
	Ack(ctx context.Context, key string) error
}

// RuleExecutor runs the handler for one event.
type RuleExecutor interface {
	Execute(ctx context.Context, handlerID string, event executor.Event) executor.Outcome
	DebugType() string
}

// TimeoutScheduler records deferred events and re-injects them when due.
type TimeoutScheduler interface {
	Register(ctx context.Context, delay time.Duration, d schema.Descriptor) (time.Time, error)
	Scan(ctx context.Context) (int, error)
}

// Result describes one pass over a snapshot.
type Result struct {
	Processed int
	Skipped   int
	Remaining int
	Cancelled bool
}

// Dispatcher consumes queue entries one at a time, in order.
type Dispatcher struct {
	queue     EventQueue
	executor  RuleExecutor
	scheduler TimeoutScheduler
	settings  config.SchedulerSettings
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// NewDispatcher creates a new instance of Dispatcher.
func NewDispatcher(q EventQueue, exec RuleExecutor, sched TimeoutScheduler, cfg config.SchedulerSettings, logger *slog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:     q,
		executor:  exec,
		scheduler: sched,
		settings:  cfg,
		logger:    telemetry.OrDefault(logger),
		metrics:   metrics,
		tracer:    otel.Tracer(telemetry.InstrumentationName),
	}
}

// Process handles entries in order. Cancellation is checked between entries and stops
// processing without error; the entries not reached stay in the queue. A store failure
// aborts and leaves the in-flight entry in place.
func (d *Dispatcher) Process(ctx context.Context, entries []schema.QueueEntry) (Result, error) {
	var res Result
	for i, entry := range entries {
		if ctx.Err() != nil {
			res.Cancelled = true
			res.Remaining = len(entries) - i
			d.logger.WarnContext(ctx, "processing cancelled", "remaining", res.Remaining)
			return res, nil
		}

		// An entry that has started runs to its acknowledgement.
		route, err := d.processEntry(context.WithoutCancel(ctx), entry)
		if err != nil {
			return res, fmt.Errorf("process %s: %w", entry.Key, err)
		}
		if route == RouteSkipped {
			res.Skipped++
		} else {
			res.Processed++
		}
	}
	return res, nil
}

func (d *Dispatcher) processEntry(ctx context.Context, entry schema.QueueEntry) (route string, err error) {
	ctx, span := d.tracer.Start(ctx, "ProcessQueueEntry", trace.WithAttributes(
		attribute.String("queue.key", entry.Key),
	))
	defer func() {
		span.SetAttributes(attribute.String("event.route", route))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := d.logger.With("queue_key", entry.Key)

	pending, err := d.queue.Pending(ctx, entry.Key)
	if err != nil {
		return "", err
	}
	if !pending {
		logger.DebugContext(ctx, "entry already consumed")
		return RouteSkipped, nil
	}

	eventID := strings.TrimPrefix(entry.Key, schema.QueuePrefix)
	env, decodeErr := schema.DecodeEnvelope(entry.Value)
	if decodeErr != nil {
		logger.WarnContext(ctx, "malformed event, using default handler", "error", decodeErr)
		route = RouteMalformed
		d.executor.Execute(ctx, "", executor.Event{
			Payload:       string(entry.Value),
			QueueKey:      entry.Key,
			CorrelationID: eventID,
		})
	} else {
		span.SetAttributes(attribute.String("event.message_type", env.MessageType))
		logger = logger.With("message_type", env.MessageType)
		route, err = d.route(ctx, logger, entry.Key, eventID, env)
		if err != nil {
			return route, err
		}
	}

	if err := d.queue.Ack(ctx, entry.Key); err != nil {
		return route, err
	}
	d.metrics.EventProcessed(ctx, route)
	logger.InfoContext(ctx, "event processed", "route", route)
	return route, nil
}

func (d *Dispatcher) route(ctx context.Context, logger *slog.Logger, key, eventID string, env schema.Envelope) (string, error) {
	switch {
	case env.MessageType == d.settings.WakeType:
		logger.InfoContext(ctx, "wake event received", "payload", env.Payload)
		return RouteWake, nil

	case strings.HasPrefix(env.MessageType, d.settings.TimeoutPrefix):
		delay, err := scheduler.ParseDelay(env.Payload)
		if err != nil {
			logger.WarnContext(ctx, "dropping timeout request", "error", err)
			return RouteTimeout, nil
		}
		desc := schema.Descriptor{
			Target:        schema.TimeoutTarget(env.MessageType, d.settings.TimeoutPrefix),
			CorrelationID: eventID,
		}
		if err := desc.Validate(); err != nil {
			logger.WarnContext(ctx, "dropping timeout request", "error", err)
			return RouteTimeout, nil
		}
		wakeAt, err := d.scheduler.Register(ctx, delay, desc)
		if err != nil {
			return RouteTimeout, err
		}
		logger.InfoContext(ctx, "event deferred", "wake_at", wakeAt, "target", desc.Target)
		return RouteTimeout, nil

	case env.MessageType == d.executor.DebugType():
		d.executor.Execute(ctx, env.MessageType, executor.Event{
			MessageType:   env.MessageType,
			Payload:       env.Payload,
			QueueKey:      key,
			CorrelationID: eventID,
		})
		return RouteDebug, nil

	default:
		d.executor.Execute(ctx, env.MessageType, executor.Event{
			MessageType:   env.MessageType,
			Payload:       env.Payload,
			QueueKey:      key,
			CorrelationID: eventID,
		})
		return RouteHandler, nil
	}
}

// withLogger returns a copy of d that logs through logger.
func (d *Dispatcher) withLogger(logger *slog.Logger) *Dispatcher {
	clone := *d
	clone.logger = logger
	return &clone
}
