package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for check-in delivery.
type Notifications struct {
	NtfyTopic        string   `toml:"ntfy_topic"`
	RequestTimeout   int      `toml:"request_timeout"`
	Command          []string `toml:"command"`
	FailureThreshold int      `toml:"failure_threshold"`
}

// Session contains configuration for OS session probing.
type Session struct {
	ProbeTimeout int  `toml:"probe_timeout"`
	Netlink      bool `toml:"netlink"`
}

// Daemon contains configuration for daemon lifecycle timings.
type Daemon struct {
	StartTimeout    int `toml:"start_timeout"`
	StopGracePeriod int `toml:"stop_grace_period"`
	StatusInterval  int `toml:"status_interval"`
}

// Config encapsulates application-level configuration for nudge.
//
// User-tunable tracking settings (check-in interval, auto start/stop flags)
// live in the ledger's config.json instead; this file only describes where
// things live and how the process behaves.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Session       Session       `toml:"session"`
	Daemon        Daemon        `toml:"daemon"`
}

// DefaultConfigPath returns the expanded ~/.config/nudge/config.toml.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// Load reads the TOML file at path, or the default location when path is
// empty, over the built-in defaults. A missing file is not an error; exists
// reports whether one was read. The result is normalized and validated.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	if path == "" {
		path = defaultConfigPath
	}
	if resolved, err = ExpandPath(path); err != nil {
		return nil, "", false, err
	}

	loaded := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		exists = true
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", false, fmt.Errorf("read config: %w", err)
	}

	if err := loaded.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", false, err
	}
	return &loaded, resolved, exists, nil
}

// EnsureDirectories creates the data, log and backup directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.BackupDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// BackupDir holds the rotating ledger backups.
func (c *Config) BackupDir() string { return filepath.Join(c.Paths.DataDir, "backups") }

// JournalPath is the SQLite event journal.
func (c *Config) JournalPath() string { return filepath.Join(c.Paths.DataDir, "journal.db") }

// CurrentLogPath is the nudge.log pointer to the active daemon run's log.
func (c *Config) CurrentLogPath() string { return filepath.Join(c.Paths.LogDir, "nudge.log") }

func (c *Config) ProbeTimeout() time.Duration { return seconds(c.Session.ProbeTimeout) }
func (c *Config) StartTimeout() time.Duration { return seconds(c.Daemon.StartTimeout) }
func (c *Config) StopGracePeriod() time.Duration { return seconds(c.Daemon.StopGracePeriod) }
func (c *Config) StatusInterval() time.Duration { return seconds(c.Daemon.StatusInterval) }
func (c *Config) NotificationTimeout() time.Duration { return seconds(c.Notifications.RequestTimeout) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ExpandPath resolves a leading "~" or "~/" against the home directory and
// returns an absolute, cleaned path. Empty input stays empty.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample configuration to path, creating
// parent directories.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
