package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-recovery/pkg/store"
	"github.com/zoff-tech/go-recovery/pkg/telemetry"
	"github.com/zoff-tech/go-recovery/pkg/waker"
	"github.com/zoff-tech/go-recovery/schema"
)

// ErrInvalidDelay is returned by ParseDelay for payloads that are not a non-negative number of seconds.
var ErrInvalidDelay = errors.New("invalid delay")

// TimeoutScheduler keeps the deferred index and re-injects due events into the live queue.
type TimeoutScheduler struct {
	kv      store.KVStore
	queue   waker.Pusher
	waker   waker.Waker
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

func New(kv store.KVStore, queue waker.Pusher, w waker.Waker, logger *slog.Logger, metrics *telemetry.Metrics) *TimeoutScheduler {
	return &TimeoutScheduler{
		kv:      kv,
		queue:   queue,
		waker:   w,
		now:     time.Now,
		logger:  telemetry.OrDefault(logger).With("component", "scheduler"),
		metrics: metrics,
		tracer:  otel.Tracer(telemetry.InstrumentationName),
	}
}

// SetClock replaces the time source.
func (s *TimeoutScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// ParseDelay reads a timeout payload: seconds, fractional allowed.
func ParseDelay(payload string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || secs < 0 || math.IsInf(secs, 0) || math.IsNaN(secs) || secs > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelay, payload)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Register adds d to the deferred entry for now+delay at second precision and returns the
// wake time. Registrations resolving to the same second share one entry.
func (s *TimeoutScheduler) Register(ctx context.Context, delay time.Duration, d schema.Descriptor) (time.Time, error) {
	if err := d.Validate(); err != nil {
		return time.Time{}, err
	}

	wakeAt := s.now().Add(delay).UTC().Truncate(time.Second)
	key := schema.DeferredKey(wakeAt)

	ctx, span := s.tracer.Start(ctx, "Scheduler.Register", trace.WithAttributes(
		attribute.String("deferred.key", key),
		attribute.String("deferred.descriptor", d.String()),
	))
	defer span.End()

	existing, err := s.kv.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		return time.Time{}, fmt.Errorf("read %s: %w", key, err)
	}

	descriptors := splitDescriptors(existing)
	for _, current := range descriptors {
		if current == d.String() {
			return wakeAt, nil
		}
	}
	descriptors = append(descriptors, d.String())

	if err := s.kv.Put(ctx, key, []byte(strings.Join(descriptors, ","))); err != nil {
		span.RecordError(err)
		return time.Time{}, fmt.Errorf("write %s: %w", key, err)
	}

	s.logger.InfoContext(ctx, "timeout registered", "wake_at", wakeAt, "descriptor", d.String(), "coalesced", len(descriptors))
	return wakeAt, nil
}

// Scan re-injects every due deferred event, oldest first, and arms the wake for the
// earliest remaining entry. It returns how many events were re-injected. Cancellation
// stops it between entries; entries left due are covered by the wake.
func (s *TimeoutScheduler) Scan(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Scan")
	defer span.End()

	entries, err := s.kv.List(ctx, schema.DeferredPrefix)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("list deferred: %w", err)
	}

	pending := make(wakeQueue, 0, len(entries))
	for _, e := range entries {
		wakeAt, err := schema.ParseDeferredKey(e.Key)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unparsable deferred key", "key", e.Key, "error", err)
			continue
		}
		pending = append(pending, deferredItem{key: e.Key, wakeAt: wakeAt, value: e.Value})
	}
	heap.Init(&pending)

	now := s.now()
	fired := 0
	for pending.Len() > 0 && !pending.peek().wakeAt.After(now) {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "due-scan cancelled", "due_left", pending.Len())
			break
		}
		item := heap.Pop(&pending).(deferredItem)
		// An entry that has started is pushed and deleted together.
		n, err := s.fire(context.WithoutCancel(ctx), item)
		fired += n
		if err != nil {
			span.RecordError(err)
			s.metrics.DeferredFired(ctx, fired)
			return fired, err
		}
	}
	s.metrics.DeferredFired(ctx, fired)
	span.SetAttributes(attribute.Int("deferred.fired", fired), attribute.Int("deferred.remaining", pending.Len()))

	if pending.Len() == 0 {
		return fired, nil
	}
	next := pending.peek().wakeAt
	if err := s.waker.EnsureWake(context.WithoutCancel(ctx), next); err != nil {
		span.RecordError(err)
		return fired, fmt.Errorf("arm wake for %s: %w", next.Format(time.RFC3339), err)
	}
	return fired, nil
}

// fire pushes the descriptors of one due entry, then deletes it. A failure leaves the
// entry in place, so already pushed descriptors may be delivered again.
func (s *TimeoutScheduler) fire(ctx context.Context, item deferredItem) (int, error) {
	pushed := 0
	for _, raw := range splitDescriptors(item.value) {
		d, err := schema.ParseDescriptor(raw)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping invalid descriptor", "key", item.key, "descriptor", raw, "error", err)
			continue
		}
		key, err := s.queue.Push(ctx, d.Envelope())
		if err != nil {
			return pushed, fmt.Errorf("re-inject %s: %w", raw, err)
		}
		pushed++
		s.logger.InfoContext(ctx, "deferred event due", "deferred_key", item.key, "queue_key", key, "descriptor", raw)
	}

	if err := s.kv.Delete(ctx, item.key); err != nil {
		return pushed, fmt.Errorf("delete %s: %w", item.key, err)
	}
	return pushed, nil
}

func splitDescriptors(value []byte) []string {
	if len(value) == 0 {
		return nil
	}
	var out []string
	for _, part := range strings.Split(string(value), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
