package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nudge/internal/ledger"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

func newActivityCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newLogCommand(ctx),
		newListCommand(ctx),
		newEditCommand(ctx),
		newDeleteCommand(ctx),
		newPruneCommand(ctx),
	}
}

func newLogCommand(ctx *commandContext) *cobra.Command {
	var at string
	var duration string
	cmd := &cobra.Command{
		Use:   "log <description...>",
		Short: "Record what you just finished working on",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := nowFunc()
			end, err := parseAt(at, now)
			if err != nil {
				return err
			}
			override, err := parseDurationFlag(duration)
			if err != nil {
				return err
			}
			description := strings.Join(args, " ")
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				activity, err := l.Append(commandCtx(cmd), description, end, override)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged %q at %s (%s)\n",
					activity.Description, formatClock(activity.TimestampEnd, now), shortID(activity.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "End time (HH:MM, YYYY-MM-DD HH:MM or RFC3339); default now")
	cmd.Flags().StringVar(&duration, "duration", "", "Explicit duration, e.g. 45m (back-dates the start)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var hours int
	var date string
	var since string
	var until string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show logged activities (today by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := nowFunc()
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				var activities []ledger.Activity
				switch {
				case hours > 0:
					activities = l.LastHours(now, hours)
				case since != "" || until != "":
					var filter ledger.Filter
					var err error
					if since != "" {
						if filter.Since, err = parseAt(since, now); err != nil {
							return err
						}
					}
					if until != "" {
						if filter.Until, err = parseAt(until, now); err != nil {
							return err
						}
					}
					activities = l.Query(filter)
				default:
					day, err := parseDay(date, now)
					if err != nil {
						return err
					}
					activities = l.OnDate(day, now.Location())
				}

				if asJSON {
					if activities == nil {
						activities = []ledger.Activity{}
					}
					return writeJSON(cmd, activities)
				}
				out := cmd.OutOrStdout()
				if len(activities) == 0 {
					fmt.Fprintln(out, "No activities logged in this range")
					return nil
				}
				fmt.Fprintln(out, renderActivities(activities, now))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Show activities from the last N hours")
	cmd.Flags().StringVar(&date, "date", "", "Show one day (YYYY-MM-DD, today, yesterday)")
	cmd.Flags().StringVar(&since, "since", "", "Start of range (inclusive)")
	cmd.Flags().StringVar(&until, "until", "", "End of range (exclusive)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderActivities(activities []ledger.Activity, now time.Time) string {
	rows := make([][]string, 0, len(activities))
	total := 0
	for _, a := range activities {
		total += a.DurationMinutes
		rows = append(rows, []string{
			shortID(a.ID),
			formatClock(a.TimestampEnd, now),
			formatMinutes(a.DurationMinutes),
			a.Description,
		})
	}
	return renderTable(tableSpec{
		headers:   []string{"ID", "Ended", "Duration", "Description"},
		aligns:    []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		maxWidths: []int{0, 0, 0, 60},
		footer:    []string{"", fmt.Sprintf("%d entries", len(activities)), formatMinutes(total), ""},
	}, rows)
}

func newEditCommand(ctx *commandContext) *cobra.Command {
	var description string
	var at string
	var duration string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change an activity's description, end time or duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := nowFunc()
			var patch ledger.Patch
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if at != "" {
				end, err := parseAt(at, now)
				if err != nil {
					return err
				}
				patch.TimestampEnd = &end
			}
			if duration != "" {
				d, err := parseDurationFlag(duration)
				if err != nil {
					return err
				}
				minutes := int(*d / time.Minute)
				patch.DurationMinutes = &minutes
			}
			if patch.Description == nil && patch.TimestampEnd == nil && patch.DurationMinutes == nil {
				return errors.New("nothing to change (use --description, --at or --duration)")
			}
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				id, err := resolveActivityID(l, args[0])
				if err != nil {
					return err
				}
				updated, err := l.Update(commandCtx(cmd), id, patch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: %q ended %s (%s)\n",
					shortID(updated.ID), updated.Description, formatClock(updated.TimestampEnd, now), formatMinutes(updated.DurationMinutes))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&at, "at", "", "New end time")
	cmd.Flags().StringVar(&duration, "duration", "", "Duration override until the next change")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				id, err := resolveActivityID(l, args[0])
				if err != nil {
					return err
				}
				if err := l.Delete(commandCtx(cmd), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", shortID(id))
				return nil
			})
		},
	}
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop activities older than dataRetentionDays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				days := l.Settings().DataRetentionDays
				out := cmd.OutOrStdout()
				if days <= 0 {
					fmt.Fprintln(out, "Retention is disabled (dataRetentionDays = 0)")
					return nil
				}
				removed, err := l.Prune(commandCtx(cmd), nowFunc())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d activities older than %d days\n", removed, days)
				return nil
			})
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveActivityID accepts a full id or a unique prefix.
func resolveActivityID(l *ledger.Ledger, ref string) (string, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return "", errors.New("activity id is required")
	}
	if _, err := l.Get(ref); err == nil {
		return ref, nil
	}
	var matches []string
	for _, a := range l.All() {
		if strings.HasPrefix(a.ID, ref) {
			matches = append(matches, a.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ledger.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("activity id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
