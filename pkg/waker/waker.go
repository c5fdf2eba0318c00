package waker

import (
	"context"
	"time"

	"github.com/zoff-tech/go-recovery/schema"
)

// Waker keeps at most one pending wake-up for the coordinator.
type Waker interface {
	// EnsureWake arms the single timer for wakeAt, replacing any other. Arming the time
	// already armed is a no-op. A wakeAt not in the future enqueues the wake event at once.
	EnsureWake(ctx context.Context, wakeAt time.Time) error
}

// Pusher enqueues events on the live queue.
type Pusher interface {
	Push(ctx context.Context, env schema.Envelope) (string, error)
}

// wakeEnvelope is the event a firing timer enqueues.
func wakeEnvelope(wakeType string, wakeAt time.Time) schema.Envelope {
	return schema.NewEnvelope(wakeType, wakeAt.UTC().Format(time.RFC3339))
}
