package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
)

const (
	MinSnooze = time.Minute
	MaxSnooze = 24 * time.Hour
)

// Service handles user-initiated changes to notification throttling.
type Service struct {
	repo     Repository
	cooldown time.Duration
	now      func() time.Time
}

// NewService creates a Service. A nil now uses time.Now.
func NewService(repo Repository, cooldown time.Duration, now func() time.Time) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, cooldown: cooldown, now: now}
}

// SnoozeResult describes an applied snooze.
type SnoozeResult struct {
	SnoozedUntil time.Time `json:"snoozedUntil"`
	Skipped      int64     `json:"skipped"`
}

// Snooze suppresses due-card notifications for d and marks pending ones in
// the cooldown window as skipped so they are not retried. Skipped ones do not
// hold the cooldown, so the user is notified again once the snooze ends.
func (s *Service) Snooze(ctx context.Context, userID string, d time.Duration) (SnoozeResult, error) {
	if userID == "" {
		return SnoozeResult{}, apperrors.Validation("user id is required")
	}
	if d < MinSnooze || d > MaxSnooze {
		return SnoozeResult{}, apperrors.Validation("snooze duration must be between %d and %d seconds, got %d",
			int(MinSnooze.Seconds()), int(MaxSnooze.Seconds()), int(d.Seconds()))
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	until := now.Add(d)
	if err := s.repo.SetSnoozedUntil(ctx, userID, until); err != nil {
		return SnoozeResult{}, fmt.Errorf("repo.SetSnoozedUntil() > %w", err)
	}
	skipped, err := s.repo.SkipUnsent(ctx, userID, TypeCardDue, now.Add(-s.cooldown), until)
	if err != nil {
		return SnoozeResult{}, fmt.Errorf("repo.SkipUnsent() > %w", err)
	}

	slog.Default().Info("notifications snoozed",
		"userId", userID,
		"snoozedUntil", until,
		"skipped", skipped)
	return SnoozeResult{SnoozedUntil: until, Skipped: skipped}, nil
}

// ClearCooldown deletes the user's recent due-card notifications so the next
// scan may notify again. An empty userID clears every user.
func (s *Service) ClearCooldown(ctx context.Context, userID string) (int64, error) {
	since := s.now().UTC().Add(-s.cooldown)
	n, err := s.repo.DeleteSince(ctx, userID, TypeCardDue, since)
	if err != nil {
		return 0, fmt.Errorf("repo.DeleteSince() > %w", err)
	}
	slog.Default().Info("notification cooldown cleared",
		"userId", userID,
		"deleted", n)
	return n, nil
}
