package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nudge/internal/journal"
)

var historyKinds = []journal.Kind{
	journal.KindLogin,
	journal.KindLogout,
	journal.KindLock,
	journal.KindUnlock,
	journal.KindDaemonStarted,
	journal.KindDaemonStopped,
	journal.KindCheckInSent,
	journal.KindCheckInFailed,
	journal.KindCheckInSkipped,
	journal.KindRecoveryApplied,
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var kinds []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent daemon, session and check-in events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			filter, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			return ctx.withJournal(func(store *journal.Store) error {
				entries, err := store.Recent(commandCtx(cmd), limit, filter...)
				if err != nil {
					return err
				}
				if asJSON {
					if entries == nil {
						entries = []journal.Entry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No events recorded yet")
					return nil
				}
				now := nowFunc()
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						formatClock(e.At, now),
						string(e.Kind),
						e.Detail,
						strconv.Itoa(e.PID),
					})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					headers:   []string{"Time", "Event", "Detail", "PID"},
					aligns:    []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
					maxWidths: []int{0, 0, 50, 0},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only show these event kinds (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func parseKinds(values []string) ([]journal.Kind, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]journal.Kind, 0, len(values))
	for _, raw := range values {
		value := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, k := range historyKinds {
			if string(k) == value {
				out = append(out, k)
				found = true
				break
			}
		}
		if !found {
			names := make([]string, 0, len(historyKinds))
			for _, k := range historyKinds {
				names = append(names, string(k))
			}
			return nil, fmt.Errorf("unknown event kind %q (use one of: %s)", raw, strings.Join(names, ", "))
		}
	}
	return out, nil
}
