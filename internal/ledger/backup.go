package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nudge/internal/fileutil"
)

const maxBackupsPerKind = 5

// backupStamp is fixed-width so names sort chronologically.
const backupStamp = "2006-01-02T15:04:05.000000000Z"

// File names inside the ledger directory.
const (
	ActivitiesFileName = "activities.json"
	SettingsFileName   = "config.json"
)

type fileKind string

const (
	kindActivities fileKind = "activities"
	kindConfig     fileKind = "config"
)

func (k fileKind) fileName() string {
	if k == kindConfig {
		return SettingsFileName
	}
	return ActivitiesFileName
}

type backupSet struct {
	dir  string
	keep int
	now  func() time.Time
}

func newBackupSet(dir string, now func() time.Time) *backupSet {
	return &backupSet{dir: dir, keep: maxBackupsPerKind, now: now}
}

func backupName(kind fileKind, at time.Time) string {
	stamp := at.UTC().Format(backupStamp)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s_%s.json", kind, stamp)
}

// create copies src into the backup directory and rotates older copies.
// A missing src is not an error and yields an empty path.
func (b *backupSet) create(kind fileKind, src string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	dst := filepath.Join(b.dir, backupName(kind, b.now()))
	if err := fileutil.CopyFileVerified(src, dst); err != nil {
		return "", fmt.Errorf("backup %s: %w", filepath.Base(src), err)
	}
	if err := b.rotate(kind); err != nil {
		return dst, err
	}
	return dst, nil
}

// list returns backups of kind, newest first.
func (b *backupSet) list(kind fileKind) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	prefix := string(kind) + "_"
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(b.dir, name)
	}
	return paths, nil
}

func (b *backupSet) rotate(kind fileKind) error {
	paths, err := b.list(kind)
	if err != nil {
		return err
	}
	if len(paths) <= b.keep {
		return nil
	}
	for _, path := range paths[b.keep:] {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rotate backups: %w", err)
		}
	}
	return nil
}

func (b *backupSet) latest(kind fileKind) (string, bool) {
	paths, err := b.list(kind)
	if err != nil || len(paths) == 0 {
		return "", false
	}
	return paths[0], true
}
