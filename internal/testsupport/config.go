package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"nudge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Netlink is disabled so tests never open udev sockets.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Logging.Format = "json"
	cfgVal.Session.Netlink = false
	cfgVal.Daemon.StopGracePeriod = 1

	b := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return b.cfg
}

// WithNtfyTopic sets the ntfy topic URL on the test config.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}

// WithNotifyCommand sets the desktop notification command.
func WithNotifyCommand(argv ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.Command = argv
	}
}

// WithStubbedBinaries puts shell stubs for names (loginctl when empty) first
// on PATH. Each stub printf's output, which may use printf escapes, and
// exits 0.
func WithStubbedBinaries(output string, names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"loginctl"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("stub bin dir: %v", err)
		}
		body := "#!/bin/sh\n"
		if output != "" {
			body += "printf '" + output + "'\n"
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), []byte(body), 0o755); err != nil {
				b.t.Fatalf("stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
