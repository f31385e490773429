package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nudge/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the current daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.CurrentLogPath()
			out := cmd.OutOrStdout()

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			if len(tail) == 0 && !follow {
				fmt.Fprintf(out, "No daemon log at %s\n", path)
				return nil
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			runCtx, stop := signal.NotifyContext(commandCtx(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(runCtx, path, logs.FollowOptions{Offset: offset}, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	return cmd
}
