package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zoff-tech/go-recovery/pkg/broker"
	"github.com/zoff-tech/go-recovery/pkg/store"
	"github.com/zoff-tech/go-recovery/pkg/telemetry"
	"github.com/zoff-tech/go-recovery/schema"
)

// Queue is the live event queue kept under schema.QueuePrefix.
type Queue struct {
	kv       store.KVStore
	notifier broker.MessageBroker
	logger   *slog.Logger
}

// New creates a Queue. notifier may be nil when nobody watches for changes.
func New(kv store.KVStore, notifier broker.MessageBroker, logger *slog.Logger) *Queue {
	return &Queue{kv: kv, notifier: notifier, logger: telemetry.OrDefault(logger)}
}

// Push appends env to the queue and returns its key.
func (q *Queue) Push(ctx context.Context, env schema.Envelope) (string, error) {
	value, err := env.Encode()
	if err != nil {
		return "", err
	}

	key := schema.NewQueueKey()
	if err := q.kv.Put(ctx, key, value); err != nil {
		return "", fmt.Errorf("push %s: %w", env.MessageType, err)
	}

	if q.notifier != nil {
		// The entry is durable already; watchers also poll.
		if err := q.notifier.Publish(ctx, schema.NewNotification(key, "push")); err != nil {
			q.logger.Warn("failed to publish queue notification", "key", key, "error", err)
		}
	}
	return key, nil
}

// Snapshot returns every live entry in key order.
func (q *Queue) Snapshot(ctx context.Context) ([]schema.QueueEntry, error) {
	entries, err := q.kv.List(ctx, schema.QueuePrefix)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	out := make([]schema.QueueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, schema.QueueEntry{Key: e.Key, Value: e.Value})
	}
	return out, nil
}

// Pending reports whether key is still undelivered.
func (q *Queue) Pending(ctx context.Context, key string) (bool, error) {
	_, err := q.kv.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check %s: %w", key, err)
	}
}

// Ack removes a delivered entry.
func (q *Queue) Ack(ctx context.Context, key string) error {
	if err := q.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("ack %s: %w", key, err)
	}
	return nil
}
