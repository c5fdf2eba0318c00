package broker

import (
	"context"

	"github.com/zoff-tech/go-recovery/schema"
)

// MessageBroker carries queue-changed notifications between producers and the watch loop.
type MessageBroker interface {
	// Publish announces that the live queue changed.
	Publish(ctx context.Context, n schema.Notification) error
	// Subscribe calls fn for every notification until ctx is done. It blocks.
	Subscribe(ctx context.Context, fn func(schema.Notification)) error
	// Close cleans up any resources (connections).
	Close() error
}
