package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-recovery/pkg/telemetry"
	"github.com/zoff-tech/go-recovery/schema"
)

// Locker serialises invocations.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release() error
}

// Summary describes one invocation.
type Summary struct {
	InvocationID string
	Passes       int
	Processed    int
	Skipped      int
	Fired        int
	Remaining    int
	Cancelled    bool
}

func (s *Summary) add(r Result) {
	s.Passes++
	s.Processed += r.Processed
	s.Skipped += r.Skipped
	s.Remaining = r.Remaining
	s.Cancelled = r.Cancelled
}

// Coordinator runs one invocation: the trigger snapshot, then due-scans and drain passes
// until the queue is empty or maxPasses is reached. A due-scan is always the last step
// of an uncancelled invocation, so exactly one wake is armed for what is left deferred.
type Coordinator struct {
	lock        Locker
	lockTimeout time.Duration
	queue       EventQueue
	dispatcher  *Dispatcher
	scheduler   TimeoutScheduler
	maxPasses   int
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewCoordinator(lock Locker, lockTimeout time.Duration, q EventQueue, d *Dispatcher, sched TimeoutScheduler, maxPasses int, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		lock:        lock,
		lockTimeout: lockTimeout,
		queue:       q,
		dispatcher:  d,
		scheduler:   sched,
		maxPasses:   maxPasses,
		logger:      telemetry.OrDefault(logger),
		tracer:      otel.Tracer(telemetry.InstrumentationName),
	}
}

func (c *Coordinator) Run(ctx context.Context, snapshot []schema.QueueEntry) (summary Summary, err error) {
	summary.InvocationID = uuid.NewString()
	logger := c.logger.With("invocation_id", summary.InvocationID)

	ctx, span := c.tracer.Start(ctx, "Coordinator.Run", trace.WithAttributes(
		attribute.String("invocation.id", summary.InvocationID),
		attribute.Int("invocation.snapshot_size", len(snapshot)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("invocation.processed", summary.Processed),
			attribute.Int("invocation.fired", summary.Fired),
			attribute.Bool("invocation.cancelled", summary.Cancelled),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := c.lock.Acquire(ctx, c.lockTimeout); err != nil {
		return summary, fmt.Errorf("acquire leader lock: %w", err)
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			logger.Warn("failed to release leader lock", "error", err)
		}
	}()

	dispatcher := c.dispatcher.withLogger(logger)

	res, err := dispatcher.Process(ctx, snapshot)
	summary.add(res)
	if err != nil || res.Cancelled {
		return summary, err
	}

	for pass := 1; ; pass++ {
		if ctx.Err() != nil {
			summary.Cancelled = true
			return summary, nil
		}

		fired, err := c.scheduler.Scan(ctx)
		summary.Fired += fired
		if err != nil {
			return summary, fmt.Errorf("due-scan: %w", err)
		}
		if ctx.Err() != nil {
			summary.Cancelled = true
			return summary, nil
		}
		if pass > c.maxPasses {
			logger.Warn("drain pass limit reached", "max_passes", c.maxPasses)
			break
		}

		entries, err := c.queue.Snapshot(ctx)
		if err != nil {
			return summary, err
		}
		if len(entries) == 0 {
			break
		}

		res, err := dispatcher.Process(ctx, entries)
		summary.add(res)
		if err != nil || res.Cancelled {
			return summary, err
		}
	}

	logger.Info("invocation finished",
		"passes", summary.Passes,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"fired", summary.Fired,
	)
	return summary, nil
}
