package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LedgerJanitor removes grade requests older than the retention period.
// Requests replayed after that are treated as new.
type LedgerJanitor struct {
	ledger    GradeLedger
	retention time.Duration
	now       func() time.Time
}

// NewLedgerJanitor creates a LedgerJanitor.
func NewLedgerJanitor(ledger GradeLedger, retention time.Duration, now func() time.Time) *LedgerJanitor {
	if now == nil {
		now = time.Now
	}
	return &LedgerJanitor{ledger: ledger, retention: retention, now: now}
}

// Run deletes expired ledger entries and returns how many were removed.
func (j *LedgerJanitor) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.ledger.DeleteGradeRequestsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger.DeleteGradeRequestsBefore(%s) > %w", cutoff.Format(time.RFC3339), err)
	}
	slog.Default().Info("expired grade requests deleted",
		"deleted", n,
		"cutoff", cutoff)
	return n, nil
}
