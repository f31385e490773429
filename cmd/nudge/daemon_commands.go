package main

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"nudge/internal/deps"
	"nudge/internal/ledger"
	"nudge/internal/supervisor"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the nudge daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			pid, err := sup.Start(commandCtx(cmd))
			switch {
			case errors.Is(err, supervisor.ErrAlreadyRunning):
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			case errors.Is(err, supervisor.ErrStartInProgress):
				fmt.Fprintln(stdout, "Daemon start already in progress")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(stdout, "Daemon started (pid %d)\n", pid)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the nudge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			result, err := sup.Stop(commandCtx(cmd))
			if err != nil {
				return err
			}
			printStopResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the daemon if it is running, then start it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := sup.Stop(commandCtx(cmd))
			if err != nil {
				return err
			}
			if result.WasRunning {
				printStopResult(stdout, result)
			}
			pid, err := sup.Start(commandCtx(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", pid)
			return nil
		},
	}

	killCmd := &cobra.Command{
		Use:   "kill",
		Short: "Force-kill every daemon process and remove runtime files",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			killed, err := sup.ForceKill(commandCtx(cmd))
			if errors.Is(err, supervisor.ErrNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Killed %d daemon process(es)\n", killed)
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, session and check-in status",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			st := sup.Status(commandCtx(cmd))
			if statusJSON {
				return writeJSON(cmd, st)
			}
			cfg := ctx.configValue()
			requirements := append(deps.SessionRequirements(runtime.GOOS), deps.NotifierRequirements(cfg.Notifications.Command)...)
			checks := deps.CheckBinaries(requirements)
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				renderStatus(cmd.OutOrStdout(), st, l, checks, nowFunc())
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, killCmd, statusCmd}
}

func printStopResult(out io.Writer, result supervisor.StopResult) {
	if !result.WasRunning {
		fmt.Fprintln(out, "Daemon is not running")
		return
	}
	for _, pid := range result.Killed {
		fmt.Fprintf(out, "Daemon process %d did not exit in time; killed\n", pid)
	}
	fmt.Fprintln(out, "Daemon stopped")
}

func renderStatus(out io.Writer, st supervisor.DaemonStatus, l *ledger.Ledger, checks []deps.Status, now time.Time) {
	p := newStatusPrinter(out)
	settings := l.Settings()

	p.section("Daemon")
	if st.IsRunning {
		p.linef("State", toneGood, "Running (pid %d)", st.PID)
	} else {
		p.line("State", toneWarn, "Not running")
	}
	if st.NextCheckIn != nil {
		wait := max(st.NextCheckIn.Sub(now).Round(time.Minute), 0)
		p.linef("Next check-in", toneNeutral, "%s (in %s)", formatClock(*st.NextCheckIn, now), formatMinutes(int(wait/time.Minute)))
	} else if st.IsRunning {
		p.line("Next check-in", toneNeutral, "Pending")
	}
	p.line("Interval", toneNeutral, formatMinutes(settings.NotificationInterval))
	p.gap()

	p.section("Session")
	if settings.SessionFeaturesEnabled() && st.IsRunning {
		p.line("Session", stateTone(st.SessionState), stateLabel(st.SessionState))
		p.line("Screen", stateTone(st.LockState), stateLabel(st.LockState))
	} else {
		p.line("Monitor", toneNeutral, "Off")
	}
	for _, flag := range []struct {
		label string
		on    bool
	}{
		{"Start on login", settings.AutoStartOnLogin},
		{"Stop on logout", settings.AutoStopOnLogout},
		{"Start on unlock", settings.AutoStartOnUnlock},
		{"Stop on lock", settings.AutoStopOnLock},
	} {
		p.line(flag.label, toneNeutral, yesNo(flag.on))
	}
	p.gap()

	if len(checks) > 0 {
		p.section("Dependencies")
		for _, line := range dependencyLines(p, checks) {
			fmt.Fprintln(out, line)
		}
		p.gap()
	}

	p.section("Ledger")
	p.linef("Entries", toneNeutral, "%d", l.Len())
	if last, ok := l.Last(); ok {
		p.linef("Last", toneNeutral, "%s at %s", last.Description, formatClock(last.TimestampEnd, now))
	} else {
		p.line("Last", toneNeutral, "Nothing logged yet")
	}
}

// dependencyLines reports missing required binaries in red and missing
// optional ones in yellow.
func dependencyLines(p *statusPrinter, checks []deps.Status) []string {
	lines := make([]string, 0, len(checks))
	for _, check := range checks {
		switch {
		case check.Available:
			lines = append(lines, p.format(check.Name, toneGood, "Ready ("+check.Path+")"))
		case check.Description != "":
			lines = append(lines, p.format(check.Name, missingTone(check), check.Detail+"; "+check.Description+" unavailable"))
		default:
			lines = append(lines, p.format(check.Name, missingTone(check), check.Detail))
		}
	}
	return lines
}

func missingTone(check deps.Status) tone {
	if check.Optional {
		return toneWarn
	}
	return toneBad
}
