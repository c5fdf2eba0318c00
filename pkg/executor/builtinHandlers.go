package executor

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler processes one event. Returning an error maps to OutcomeNonZeroExit.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// debugHandler dumps the event at info level.
type debugHandler struct {
	logger *slog.Logger
}

func (d debugHandler) Handle(ctx context.Context, event Event) error {
	d.logger.InfoContext(ctx, "debug event",
		"message_type", event.MessageType,
		"payload", event.Payload,
		"queue_key", event.QueueKey,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

// loggingHandler is the last-resort default: events nobody claims are logged and dropped.
type loggingHandler struct {
	logger *slog.Logger
}

func (l loggingHandler) Handle(ctx context.Context, event Event) error {
	l.logger.WarnContext(ctx, "no handler for event",
		"message_type", event.MessageType,
		"payload_bytes", len(event.Payload),
		"queue_key", event.QueueKey,
	)
	return nil
}

// callSafely turns a handler panic into an error.
func callSafely(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}
