package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nudge/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the nudge daemon in the foreground (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			err = daemonrun.Run(commandCtx(cmd), cfg, daemonrun.Options{
				LogLevel:   logLevel,
				ConfigPath: ctx.daemonConfigPath(),
				Executable: exe,
			})
			if errors.Is(err, daemonrun.ErrLocked) {
				fmt.Fprintln(cmd.ErrOrStderr(), "nudge daemon already running; exiting")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the logLevel setting (debug, info, warn, error)")
	return cmd
}
