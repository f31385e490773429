package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"nudge/internal/config"
	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/supervisor"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// daemonConfigPath is passed to the spawned daemon only when the file exists.
func (c *commandContext) daemonConfigPath() string {
	if _, err := c.ensureConfig(); err != nil || !c.configExists {
		return ""
	}
	return c.configPath
}

func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.configValue())
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) supervisor() (*supervisor.Supervisor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return supervisor.New(supervisor.Options{
		Dir:          cfg.Paths.DataDir,
		Executable:   exe,
		ConfigPath:   c.daemonConfigPath(),
		Logger:       c.cliLogger(),
		StartTimeout: cfg.StartTimeout(),
		GracePeriod:  cfg.StopGracePeriod(),
	}), nil
}

// withLedger opens the ledger for one command. The daemon check keeps a
// pending emergency snapshot in place while a daemon still owns it.
func (c *commandContext) withLedger(cmd *cobra.Command, fn func(*ledger.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	sup, err := c.supervisor()
	if err != nil {
		return err
	}
	ctx := commandCtx(cmd)
	led, err := ledger.Open(ledger.Options{
		Dir:           cfg.Paths.DataDir,
		Logger:        c.cliLogger(),
		DaemonRunning: func() bool { return sup.IsRunning(ctx) },
	})
	if err != nil {
		return err
	}
	defer led.Close()
	return fn(led)
}

func (c *commandContext) withJournal(fn func(*journal.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func commandCtx(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
