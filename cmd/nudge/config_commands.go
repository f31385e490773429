package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nudge/internal/config"
	"nudge/internal/ledger"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change tracking settings",
	}

	configCmd.AddCommand(
		newConfigShowCommand(ctx),
		newConfigGetCommand(ctx),
		newConfigSetCommand(ctx),
		newConfigInitCommand(),
	)
	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every tracking setting and the application config location",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				settings := l.Settings()
				if asJSON {
					return writeJSON(cmd, settings)
				}
				var rows [][]string
				for _, key := range ledger.SettingKeys() {
					value, err := settings.Get(key)
					if err != nil {
						return err
					}
					rows = append(rows, []string{key, value})
				}
				note := ""
				if !ctx.configExists {
					note = " (not present, defaults in use)"
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Config file: %s%s\nData dir:    %s\n\n", ctx.configPath, note, cfg.Paths.DataDir)
				fmt.Fprintln(out, renderTable(tableSpec{
					headers: []string{"Setting", "Value"},
					aligns:  []columnAlignment{alignLeft, alignRight},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newConfigGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one tracking setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				value, err := l.Settings().Get(args[0])
				if err != nil {
					return settingError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one tracking setting (a running daemon picks it up)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd, func(l *ledger.Ledger) error {
				updated, err := l.UpdateSettings(commandCtx(cmd), args[0], args[1])
				if err != nil {
					return settingError(err)
				}
				value, _ := updated.Get(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
				return nil
			})
		},
	}
}

func settingError(err error) error {
	if errors.Is(err, ledger.ErrUnknownSetting) {
		return fmt.Errorf("%w (known settings: %s)", err, strings.Join(ledger.SettingKeys(), ", "))
	}
	return err
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample application configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("check config path: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n"+
				"Tracking settings (check-in interval, auto start/stop) are changed with `nudge config set`.\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if p := strings.TrimSpace(flagValue); p != "" {
		return config.ExpandPath(p)
	}
	return config.DefaultConfigPath()
}
