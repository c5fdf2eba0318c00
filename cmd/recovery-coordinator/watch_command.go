package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zoff-tech/go-recovery/schema"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay resident and drain the queue on every change notification and poll tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			settings := *cfg
			settings.Scheduler.Waker = "inprocess"
			if settings.Broker.Type == "none" {
				// In-process wake-ups still need to reach the loop.
				settings.Broker.Type = "local"
			}

			watchCtx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := bootstrap(watchCtx, &settings, ctx.childArgs(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			return watch(watchCtx, rt, settings.PollInterval)
		},
	}
}

// watch runs an invocation at start, on each notification and on each poll tick.
// Triggers arriving while an invocation runs coalesce into one follow-up run.
func watch(ctx context.Context, rt *runtime, poll time.Duration) error {
	triggers := make(chan struct{}, 1)
	kick := func() {
		select {
		case triggers <- struct{}{}:
		default:
		}
	}
	kick()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.broker.Subscribe(ctx, func(n schema.Notification) {
			rt.logger.Debug("queue changed", "key", n.Key, "reason", n.Reason)
			kick()
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				kick()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-triggers:
				summary, err := rt.coordinator.Run(ctx, nil)
				if err != nil {
					// A failed invocation is retried on the next trigger.
					rt.logger.Error("invocation failed", "invocation_id", summary.InvocationID, "error", err)
				}
			}
		}
	})

	rt.logger.Info("watching queue", "poll_interval", poll, "broker", rt.cfg.Broker.Type)
	return g.Wait()
}
