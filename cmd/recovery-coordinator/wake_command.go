package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoff-tech/go-recovery/pkg/waker"
)

func newWakeCommand(ctx *commandContext) *cobra.Command {
	var at string
	var token string
	var drain bool

	cmd := &cobra.Command{
		Use:    "wake",
		Short:  "Sleep until --at, then enqueue the wake event unless superseded",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			wakeAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			if token == "" {
				return errors.New("--token is required")
			}

			wakeCtx, stop := signalContext(cmd.Context())
			defer stop()

			// SIGTERM here means a newer timer replaced this one.
			if err := waker.SleepUntil(wakeCtx, wakeAt); err != nil {
				return nil
			}

			settings := *cfg
			settings.Scheduler.Waker = "process"
			rt, err := bootstrap(wakeCtx, &settings, ctx.childArgs(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			pw, ok := rt.waker.(*waker.ProcessWaker)
			if !ok {
				return errors.New("wake requires the process waker")
			}
			fired, err := pw.Fire(wakeCtx, token)
			if err != nil || !fired || !drain {
				return err
			}

			summary, err := rt.coordinator.Run(wakeCtx, nil)
			if err != nil {
				return err
			}
			if summary.Cancelled {
				return errCancelled
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Wake time, RFC 3339")
	cmd.Flags().StringVar(&token, "token", "", "Token identifying this timer in the wake record")
	cmd.Flags().BoolVar(&drain, "drain", true, "Run an invocation after enqueueing the wake event")
	return cmd
}
