package main

import (
	"github.com/spf13/cobra"

	"github.com/zoff-tech/go-recovery/schema"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process a queue snapshot read from stdin, then drain the queue",
		Long: "Reads the watch payload (a JSON array of {Key, Value} objects) from stdin. " +
			"Empty input or null means no changes; the queue is still drained and due timeouts fired.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			entries, err := schema.ParseTrigger(cmd.InOrStdin())
			if err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := bootstrap(runCtx, cfg, ctx.childArgs(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, err := rt.coordinator.Run(runCtx, entries)
			if err != nil {
				rt.logger.Error("invocation failed", "invocation_id", summary.InvocationID, "error", err)
				return err
			}
			if summary.Cancelled {
				rt.logger.Warn("invocation cancelled", "invocation_id", summary.InvocationID, "remaining", summary.Remaining)
				return errCancelled
			}
			return nil
		},
	}
}
