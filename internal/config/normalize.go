package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeNotifications()
	c.normalizeSession()
	c.normalizeDaemon()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NUDGE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	if c.Notifications.FailureThreshold <= 0 {
		c.Notifications.FailureThreshold = defaultNotifyFailureThreshold
	}
	cmd := make([]string, 0, len(c.Notifications.Command))
	for _, part := range c.Notifications.Command {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cmd = append(cmd, trimmed)
		}
	}
	c.Notifications.Command = cmd
}

func (c *Config) normalizeSession() {
	if c.Session.ProbeTimeout <= 0 {
		c.Session.ProbeTimeout = defaultProbeTimeout
	}
}

func (c *Config) normalizeDaemon() {
	if c.Daemon.StartTimeout <= 0 {
		c.Daemon.StartTimeout = defaultStartTimeout
	}
	if c.Daemon.StopGracePeriod <= 0 {
		c.Daemon.StopGracePeriod = defaultStopGracePeriod
	}
	if c.Daemon.StatusInterval <= 0 {
		c.Daemon.StatusInterval = defaultStatusInterval
	}
}
