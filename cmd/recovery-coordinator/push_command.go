package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoff-tech/go-recovery/schema"
)

func newPushCommand(ctx *commandContext) *cobra.Command {
	var messageType string
	var payload string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Enqueue one event and print its queue key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if messageType == "" {
				return errors.New("--type is required")
			}

			rt, err := bootstrap(cmd.Context(), cfg, ctx.childArgs(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			key, err := rt.queue.Push(cmd.Context(), schema.NewEnvelope(messageType, payload))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&messageType, "type", "t", "", "Message type")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "Payload")
	return cmd
}
