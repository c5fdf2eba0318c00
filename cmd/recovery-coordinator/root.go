package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoff-tech/go-recovery/pkg/config"
)

// errCancelled reports an invocation stopped by a signal. It exits 1 without a message.
var errCancelled = errors.New("invocation cancelled")

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Settings
	configErr  error
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "recovery-coordinator",
		Short:         "Drain the recovery event queue and schedule deferred events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Directory containing coordinator.yaml")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newWakeCommand(ctx))
	rootCmd.AddCommand(newPushCommand(ctx))

	return rootCmd
}

func (c *commandContext) ensureConfig() (*config.Settings, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.LoadFromFile(c.configDir())
	})
	return c.config, c.configErr
}

func (c *commandContext) configDir() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// childArgs are passed on to processes this one spawns.
func (c *commandContext) childArgs() []string {
	if dir := c.configDir(); dir != "" {
		return []string{"--config", dir}
	}
	return nil
}

// signalContext is cancelled by SIGTERM or SIGINT.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
