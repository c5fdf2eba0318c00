package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-recovery/pkg/config"
	"github.com/zoff-tech/go-recovery/pkg/telemetry"
)

const defaultHandlerID = "default"

// Executor selects and runs the handler for an event type within bounded time.
type Executor struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	handlersDir string
	debugType   string
	soft        time.Duration
	hard        time.Duration

	debug    Handler
	fallback Handler
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// New creates an Executor. logger and metrics may be nil.
func New(cfg config.ExecutorSettings, logger *slog.Logger, metrics *telemetry.Metrics) *Executor {
	logger = telemetry.OrDefault(logger).With("component", "executor")
	return &Executor{
		handlers:    make(map[string]Handler),
		handlersDir: cfg.HandlersDir,
		debugType:   cfg.DebugType,
		soft:        cfg.SoftTimeout,
		hard:        cfg.HardTimeout,
		debug:       debugHandler{logger: logger},
		fallback:    loggingHandler{logger: logger},
		logger:      logger,
		metrics:     metrics,
		tracer:      otel.Tracer(telemetry.InstrumentationName),
	}
}

// Register binds an in-process handler to id. Registering "default" replaces the fallback.
func (e *Executor) Register(id string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[id] = h
}

// DebugType is the message type served by the built-in debug handler.
func (e *Executor) DebugType() string {
	return e.debugType
}

// Execute runs the handler resolved for handlerID. Coordinator cancellation does not
// interrupt a running handler; only the soft and hard bounds do.
func (e *Executor) Execute(ctx context.Context, handlerID string, event Event) Outcome {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "Execute", trace.WithAttributes(
		attribute.String("handler.id", handlerID),
		attribute.String("event.message_type", event.MessageType),
	))
	defer span.End()

	name, h, program := e.resolve(handlerID)

	var outcome Outcome
	if program != "" {
		res := runProgram(ctx, program, event, e.soft, e.hard)
		outcome = res.outcome
		if res.err != nil && outcome == OutcomeNonZeroExit {
			span.RecordError(res.err)
		}
		if res.output != "" {
			e.logger.DebugContext(ctx, "handler output", "handler", name, "output", res.output)
		}
	} else {
		outcome = e.runInProcess(ctx, name, h, event)
	}

	span.SetAttributes(
		attribute.String("handler.resolved", name),
		attribute.String("handler.outcome", string(outcome)),
	)
	e.metrics.HandlerOutcome(ctx, name, string(outcome))

	level := slog.LevelInfo
	if outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "handler finished",
		"handler", name,
		"message_type", event.MessageType,
		"queue_key", event.QueueKey,
		"outcome", outcome,
		"duration", time.Since(start),
	)
	return outcome
}

// resolve returns the handler name plus either an in-process handler or a program path.
func (e *Executor) resolve(handlerID string) (string, Handler, string) {
	if handlerID == e.debugType {
		return "debug", e.debug, ""
	}

	e.mu.RLock()
	h, ok := e.handlers[handlerID]
	fallback, hasFallback := e.handlers[defaultHandlerID]
	e.mu.RUnlock()

	if ok {
		return handlerID, h, ""
	}
	if path, ok := resolveProgram(e.handlersDir, handlerID); ok {
		return handlerID, nil, path
	}
	if hasFallback {
		return defaultHandlerID, fallback, ""
	}
	if path, ok := resolveProgram(e.handlersDir, defaultHandlerID); ok {
		return defaultHandlerID, nil, path
	}
	return defaultHandlerID, e.fallback, ""
}

func (e *Executor) runInProcess(parent context.Context, name string, h Handler, event Event) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.soft)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callSafely(ctx, h, event)
	}()

	hard := time.NewTimer(e.hard)
	defer hard.Stop()

	select {
	case err := <-done:
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return OutcomeSoftTimeout
		case err != nil:
			e.logger.WarnContext(parent, "handler failed", "handler", name, "error", err)
			return OutcomeNonZeroExit
		default:
			return OutcomeSuccess
		}
	case <-hard.C:
		// The goroutine cannot be killed; it is abandoned and its result discarded.
		return OutcomeHardKill
	}
}
