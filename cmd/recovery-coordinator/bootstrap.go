package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zoff-tech/go-recovery/pkg/broker"
	"github.com/zoff-tech/go-recovery/pkg/config"
	"github.com/zoff-tech/go-recovery/pkg/executor"
	"github.com/zoff-tech/go-recovery/pkg/lock"
	"github.com/zoff-tech/go-recovery/pkg/processor"
	"github.com/zoff-tech/go-recovery/pkg/queue"
	"github.com/zoff-tech/go-recovery/pkg/scheduler"
	"github.com/zoff-tech/go-recovery/pkg/store"
	"github.com/zoff-tech/go-recovery/pkg/telemetry"
	"github.com/zoff-tech/go-recovery/pkg/waker"
)

// runtime wires the coordinator from settings.
type runtime struct {
	cfg         *config.Settings
	logger      *slog.Logger
	kv          store.KVStore
	broker      broker.MessageBroker
	queue       *queue.Queue
	executor    *executor.Executor
	scheduler   *scheduler.TimeoutScheduler
	waker       waker.Waker
	coordinator *processor.Coordinator

	shutdownTelemetry func()
}

func bootstrap(ctx context.Context, cfg *config.Settings, childArgs []string, logOut io.Writer) (*runtime, error) {
	logger := telemetry.NewLogger(cfg.Observability, logOut)

	// Initialize telemetry (tracing and metrics)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics := telemetry.NewMetrics()

	kv, err := store.NewStore(ctx, cfg.Store)
	if err != nil {
		shutdownTelemetry()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	b, err := broker.NewBroker(ctx, &cfg.Broker)
	if err != nil {
		_ = kv.Close()
		shutdownTelemetry()
		return nil, fmt.Errorf("failed to initialize broker: %w", err)
	}

	rt := &runtime{
		cfg:               cfg,
		logger:            logger,
		kv:                kv,
		broker:            b,
		shutdownTelemetry: shutdownTelemetry,
	}
	rt.queue = queue.New(kv, b, logger)
	rt.executor = executor.New(cfg.Executor, logger, metrics)

	switch cfg.Scheduler.Waker {
	case "inprocess":
		rt.waker = waker.NewInProcessWaker(rt.queue, cfg.Scheduler.WakeType, logger)
	default:
		pw, err := waker.NewProcessWaker(kv, rt.queue, cfg.Scheduler.WakeType, childArgs, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.waker = pw
	}

	rt.scheduler = scheduler.New(kv, rt.queue, rt.waker, logger, metrics)
	dispatcher := processor.NewDispatcher(rt.queue, rt.executor, rt.scheduler, cfg.Scheduler, logger, metrics)
	rt.coordinator = processor.NewCoordinator(lock.New(cfg.LockPath), cfg.LockTimeout,
		rt.queue, dispatcher, rt.scheduler, cfg.MaxPasses, logger)

	return rt, nil
}

func (rt *runtime) Close() {
	if stopper, ok := rt.waker.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	if err := rt.broker.Close(); err != nil {
		rt.logger.Warn("failed to close broker", "error", err)
	}
	if err := rt.kv.Close(); err != nil {
		rt.logger.Warn("failed to close store", "error", err)
	}
	rt.shutdownTelemetry()
}
