package testsupport

import (
	"context"
	"testing"
	"time"

	"nudge/internal/config"
	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
)

// MustOpenLedger opens the ledger under cfg's data dir and registers cleanup.
// No daemon is treated as running.
func MustOpenLedger(t testing.TB, cfg *config.Config, opts ...func(*ledger.Options)) *ledger.Ledger {
	t.Helper()

	o := ledger.Options{Dir: cfg.Paths.DataDir, Logger: logging.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	l, err := ledger.Open(o)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = l.Close()
	})
	return l
}

// MustOpenJournal opens the SQLite journal for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustAppend appends an activity ending at end.
func MustAppend(t testing.TB, l *ledger.Ledger, description string, end time.Time) ledger.Activity {
	t.Helper()

	activity, err := l.Append(context.Background(), description, end, nil)
	if err != nil {
		t.Fatalf("Append(%q): %v", description, err)
	}
	return activity
}
