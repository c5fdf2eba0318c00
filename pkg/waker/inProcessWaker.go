package waker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zoff-tech/go-recovery/pkg/telemetry"
)

// InProcessWaker arms a time.Timer inside the running process. It suits long-lived
// watchers, where the process outlives the timer.
type InProcessWaker struct {
	mu       sync.Mutex
	timer    *time.Timer
	armed    time.Time
	queue    Pusher
	wakeType string
	now      func() time.Time
	logger   *slog.Logger
}

func NewInProcessWaker(queue Pusher, wakeType string, logger *slog.Logger) *InProcessWaker {
	return &InProcessWaker{
		queue:    queue,
		wakeType: wakeType,
		now:      time.Now,
		logger:   telemetry.OrDefault(logger).With("component", "waker"),
	}
}

func (w *InProcessWaker) EnsureWake(ctx context.Context, wakeAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil && w.armed.Equal(wakeAt) {
		return nil
	}
	w.stopLocked()

	delay := wakeAt.Sub(w.now())
	if delay <= 0 {
		_, err := w.queue.Push(ctx, wakeEnvelope(w.wakeType, wakeAt))
		return err
	}

	w.armed = wakeAt
	w.timer = time.AfterFunc(delay, func() { w.fire(wakeAt) })
	w.logger.Debug("wake armed", "wake_at", wakeAt, "delay", delay)
	return nil
}

func (w *InProcessWaker) fire(wakeAt time.Time) {
	w.mu.Lock()
	if w.timer == nil || !w.armed.Equal(wakeAt) {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.armed = time.Time{}
	w.mu.Unlock()

	if _, err := w.queue.Push(context.Background(), wakeEnvelope(w.wakeType, wakeAt)); err != nil {
		w.logger.Error("failed to enqueue wake event", "wake_at", wakeAt, "error", err)
	}
}

// Armed returns the pending wake time, if any.
func (w *InProcessWaker) Armed() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed, w.timer != nil
}

// Stop cancels the pending timer.
func (w *InProcessWaker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *InProcessWaker) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = time.Time{}
}
