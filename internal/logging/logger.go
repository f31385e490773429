package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nudge/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
	// LevelVar overrides Level and lets the caller adjust verbosity later.
	LevelVar *slog.LevelVar
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	handler, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

// NewHandler builds the handler behind New.
func NewHandler(opts Options) (slog.Handler, error) {
	lvl := opts.LevelVar
	if lvl == nil {
		lvl = new(slog.LevelVar)
		lvl.Set(ParseLevel(opts.Level))
	}
	withSource := opts.Development || lvl.Level() <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != "" && format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	out, err := openOutputs(opts.OutputPaths)
	if err != nil {
		return nil, err
	}
	if format == "json" {
		return jsonHandler(out, lvl, withSource), nil
	}
	return newConsoleHandler(out, lvl, withSource), nil
}

// NewFromConfig creates the CLI logger on stderr so stdout stays scriptable.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	return New(Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
}

// NewDaemonLogger creates the daemon logger and returns its per-run file path.
func NewDaemonLogger(cfg *config.Config, runID string) (*slog.Logger, string, error) {
	return NewDaemonLoggerWithLevel(cfg, runID, nil)
}

// NewDaemonLoggerWithLevel writes configured-format output to stderr and a
// JSON copy to <log_dir>/nudge-<runID>.log, both gated by level. A nil level
// uses cfg.Logging.Level.
func NewDaemonLoggerWithLevel(cfg *config.Config, runID string, level *slog.LevelVar) (*slog.Logger, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("daemon logger: config is required")
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure log directory: %w", err)
	}
	if level == nil {
		level = new(slog.LevelVar)
		level.Set(ParseLevel(cfg.Logging.Level))
	}
	runLog := filepath.Join(cfg.Paths.LogDir, "nudge-"+runID+".log")

	stderr, err := NewHandler(Options{Format: cfg.Logging.Format, LevelVar: level})
	if err != nil {
		return nil, "", err
	}
	file, err := NewHandler(Options{Format: "json", OutputPaths: []string{runLog}, LevelVar: level})
	if err != nil {
		return nil, "", err
	}
	return slog.New(slog.NewMultiHandler(stderr, file)), runLog, nil
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "warning":
		return slog.LevelWarn
	case "debug", "info", "warn", "error":
		if err := l.UnmarshalText([]byte(name)); err == nil {
			return l
		}
	}
	return slog.LevelInfo
}

// openOutputs resolves "stdout", "stderr" and file paths into one writer.
// Files are created in append mode.
func openOutputs(paths []string) (io.Writer, error) {
	var writers []io.Writer
	opened := make(map[string]bool)
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" || opened[p] {
			continue
		}
		opened[p] = true
		w, err := openOutput(p)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	switch len(writers) {
	case 0:
		return os.Stderr, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openOutput(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// jsonHandler emits lowercase levels, RFC 3339 UTC "ts" and file:line sources.
func jsonHandler(w io.Writer, lvl *slog.LevelVar, withSource bool) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if a.Value.Kind() == slog.KindTime {
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339))
			}
		case slog.LevelKey:
			return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
				return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
		}
		return a
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: withSource, ReplaceAttr: replace})
}
