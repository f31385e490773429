package daemonrun

import (
	"context"
	"log/slog"
	"time"

	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
)

const retentionInterval = 24 * time.Hour

// retentionService prunes ledger entries and journal rows older than
// dataRetentionDays once at startup and then daily.
type retentionService struct {
	ledger  *ledger.Ledger
	journal *journal.Store
	logger  *slog.Logger
	now     func() time.Time
}

func (r *retentionService) String() string { return "retention" }

func (r *retentionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	r.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *retentionService) prune(ctx context.Context) {
	now := r.now()
	removed, err := r.ledger.Prune(ctx, now)
	if err != nil {
		logging.WarnWithContext(r.logger, "ledger prune failed", "retention_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old activities kept until the next run"),
		)
	} else if removed > 0 {
		r.logger.Info("old activities pruned", logging.Int("removed", removed), logging.EventType("retention_pruned"))
	}

	days := r.ledger.Settings().DataRetentionDays
	if days <= 0 || r.journal == nil {
		return
	}
	rows, err := r.journal.PruneBefore(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		r.logger.Debug("journal prune failed", logging.Error(err))
		return
	}
	if rows > 0 {
		r.logger.Debug("journal entries pruned", logging.Int64("removed", rows))
	}
}
