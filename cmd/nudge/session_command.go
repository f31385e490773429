package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/session"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Sample the login and screen-lock state",
		Long: "Sample the login and screen-lock state once.\n\n" +
			"With --watch the session monitor runs in the foreground and applies the\n" +
			"auto start/stop settings exactly like the daemon would, printing each transition.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe := session.NewProbe(cfg.ProbeTimeout())
			out := cmd.OutOrStdout()

			if !watch {
				sample, err := probe.Sample(commandCtx(cmd))
				if err != nil {
					return fmt.Errorf("session probe %s: %w", probe.Name(), err)
				}
				sessState := session.SessionInactive
				if sample.SessionActive {
					sessState = session.SessionActive
				}
				lockState := session.LockUnlocked
				if sample.Locked {
					lockState = session.LockLocked
				}
				p := newStatusPrinter(out)
				p.section("Session")
				p.line("Probe", toneNeutral, probe.Name())
				p.line("Session", stateTone(sessState.String()), stateLabel(sessState.String()))
				p.line("Screen", stateTone(lockState.String()), stateLabel(lockState.String()))
				return nil
			}

			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(commandCtx(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				store, err := journal.Open(cfg.JournalPath())
				if err != nil {
					ctx.cliLogger().Warn("journal unavailable", logging.Error(err))
					store = nil
				}
				defer store.Close()

				monitor := session.New(session.Options{
					Probe:      probe,
					Ledger:     l,
					Supervisor: sup,
					Settings:   l.Settings,
					Logger:     ctx.cliLogger(),
					Journal:    store,
					Interval:   interval,
					Netlink:    cfg.Session.Netlink,
				})
				monitor.Subscribe(func(ev session.Event) {
					fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), stateLabel(ev.String()))
					// Pick up `nudge config set` changes before the next transition.
					monitor.UpdateConfig(l.ReloadSettings())
				})
				fmt.Fprintf(out, "Watching session via %s (Ctrl-C to stop)\n", probe.Name())
				if err := monitor.Start(runCtx); err != nil {
					return err
				}
				<-runCtx.Done()
				monitor.Stop()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep polling and react to transitions until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval for --watch (default: sessionCheckInterval setting)")
	return cmd
}
