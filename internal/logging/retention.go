package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget names a directory and the glob of files to prune in it.
// Exclude lists paths that are never removed, such as the active run log.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes matching files last modified more than retentionDays
// ago. Zero or negative retention keeps everything. Failures are logged and
// skipped.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, target := range targets {
		for _, path := range expiredFiles(target, cutoff) {
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log cleanup failed; file kept", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check permissions on paths.log_dir"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			logger.Debug("old daemon log removed", String("path", path), EventType("log_pruned"))
		}
	}
}

func expiredFiles(target RetentionTarget, cutoff time.Time) []string {
	if target.Dir == "" {
		return nil
	}
	pattern := target.Pattern
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(target.Dir, pattern))
	if err != nil {
		return nil
	}
	keep := make(map[string]bool, len(target.Exclude))
	for _, p := range target.Exclude {
		keep[absPath(p)] = true
	}
	var expired []string
	for _, m := range matches {
		info, err := os.Lstat(m)
		if err != nil || !info.Mode().IsRegular() || keep[absPath(m)] {
			continue
		}
		if info.ModTime().Before(cutoff) {
			expired = append(expired, m)
		}
	}
	return expired
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
