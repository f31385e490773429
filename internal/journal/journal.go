package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindLogin           Kind = "login"
	KindLogout          Kind = "logout"
	KindLock            Kind = "lock"
	KindUnlock          Kind = "unlock"
	KindDaemonStarted   Kind = "daemon_started"
	KindDaemonStopped   Kind = "daemon_stopped"
	KindCheckInSent     Kind = "checkin_sent"
	KindCheckInFailed   Kind = "checkin_failed"
	KindCheckInSkipped  Kind = "checkin_skipped"
	KindRecoveryApplied Kind = "recovery_applied"
)

// Entry is one journal row.
type Entry struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Kind   Kind      `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	PID    int       `json:"pid"`
}

// Recorder is the write side used by the daemon services.
type Recorder interface {
	Record(ctx context.Context, kind Kind, detail string) error
}

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists journal entries in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the journal database at path and brings its schema
// up to date. The database runs in WAL mode so the CLI can read while the
// daemon writes.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	store := &Store{db: db, path: path, now: time.Now}
	if err := store.prepare(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) prepare(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return s.migrate(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Record appends an entry stamped with the current time and pid.
func (s *Store) Record(ctx context.Context, kind Kind, detail string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (at, kind, detail, pid) VALUES (?, ?, ?, ?)`,
		s.now().UTC().Format(time.RFC3339Nano),
		string(kind),
		strings.TrimSpace(detail),
		os.Getpid(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Kinds, when given,
// restrict the result.
func (s *Store) Recent(ctx context.Context, limit int, kinds ...Kind) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, at, kind, detail, pid FROM journal_entries`
	args := make([]any, 0, len(kinds)+1)
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, kind := range kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		query += ` WHERE kind IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			at    string
			kind  string
		)
		if err := rows.Scan(&entry.ID, &at, &kind, &entry.Detail, &entry.PID); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Kind = Kind(kind)
		if parsed, err := time.Parse(time.RFC3339Nano, at); err == nil {
			entry.At = parsed
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// PruneBefore deletes entries older than cutoff and returns the count removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM journal_entries WHERE at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// migrate runs every embedded migration past PRAGMA user_version, in file
// name order, and bumps user_version inside the same transaction.
func (s *Store) migrate(ctx context.Context) error {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(files)

	var applied int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for version := applied + 1; version <= len(files); version++ {
		name := files[version-1]
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", name, err)
		}
		_, err = tx.ExecContext(ctx, string(body))
		if err == nil {
			_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
		}
		if err == nil {
			err = tx.Commit()
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", path.Base(name), err)
		}
	}
	return nil
}
