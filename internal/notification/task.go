package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/at-ishikawa/langner-review/internal/review"
)

const (
	DefaultMinDueCount = 1
	DefaultCooldown    = 6 * time.Hour
)

// DueStateSource finds due review states.
type DueStateSource interface {
	QueryDue(ctx context.Context, now time.Time, userID string) ([]review.ReviewState, error)
}

// TaskConfig tunes DueCardsTask.
type TaskConfig struct {
	// MinDueCount is the number of due items a user needs to be notified.
	MinDueCount int
	// Cooldown is the minimum time between two CARD_DUE notifications of a user.
	Cooldown time.Duration
}

// DueCardsTask notifies users who have items due for review.
type DueCardsTask struct {
	states     DueStateSource
	repo       Repository
	dispatcher Dispatcher
	cfg        TaskConfig
	now        func() time.Time

	// runs are serialized within the process
	mu sync.Mutex
}

// NewDueCardsTask creates a DueCardsTask. A nil now uses time.Now.
func NewDueCardsTask(states DueStateSource, repo Repository, dispatcher Dispatcher, cfg TaskConfig, now func() time.Time) *DueCardsTask {
	if cfg.MinDueCount < 1 {
		cfg.MinDueCount = DefaultMinDueCount
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &DueCardsTask{
		states:     states,
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        now,
	}
}

type userOutcome int

const (
	outcomeIgnored userOutcome = iota
	outcomeSent
	outcomeSkipped
)

// Run scans all due items once and notifies their owners.
// Failures for a single user are logged and counted in Summary.Errors; an
// error is returned only when the scan itself fails.
func (t *DueCardsTask) Run(ctx context.Context) (Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC().Truncate(time.Microsecond)
	states, err := t.states.QueryDue(ctx, now, "")
	if err != nil {
		return Summary{}, fmt.Errorf("states.QueryDue() > %w", err)
	}

	// states are ordered by user; keep that order
	var userIDs []string
	dueCounts := make(map[string]int)
	for _, state := range states {
		if _, ok := dueCounts[state.UserID]; !ok {
			userIDs = append(userIDs, state.UserID)
		}
		dueCounts[state.UserID]++
	}

	var summary Summary
	for _, userID := range userIDs {
		summary.UsersChecked++
		outcome, err := t.notifyUser(ctx, userID, dueCounts[userID], now)
		if err != nil {
			summary.Errors++
			slog.Default().Error("failed to notify user about due cards",
				"userId", userID,
				"dueCount", dueCounts[userID],
				"error", err)
			continue
		}
		switch outcome {
		case outcomeSent:
			summary.NotificationsSent++
		case outcomeSkipped:
			summary.NotificationsSkipped++
		}
	}

	slog.Default().Info("due cards check finished",
		"usersChecked", summary.UsersChecked,
		"sent", summary.NotificationsSent,
		"skipped", summary.NotificationsSkipped,
		"errors", summary.Errors)
	return summary, nil
}

func (t *DueCardsTask) notifyUser(ctx context.Context, userID string, dueCount int, now time.Time) (userOutcome, error) {
	if dueCount < t.cfg.MinDueCount {
		return outcomeIgnored, nil
	}

	prefs, err := t.repo.GetPreferences(ctx, userID)
	if err != nil {
		return outcomeIgnored, fmt.Errorf("repo.GetPreferences() > %w", err)
	}
	if prefs.IsSnoozed(now) {
		slog.Default().Debug("user snoozed notifications", "userId", userID, "snoozedUntil", prefs.SnoozedUntil)
		return outcomeSkipped, nil
	}

	windowStart := now.Add(-t.cfg.Cooldown)
	recent, err := t.repo.FindRecent(ctx, userID, TypeCardDue, windowStart)
	if err != nil {
		return outcomeIgnored, fmt.Errorf("repo.FindRecent() > %w", err)
	}

	var pending *ScheduledNotification
	switch {
	case recent != nil && recent.Sent:
		slog.Default().Debug("user in notification cooldown", "userId", userID, "notificationId", recent.ID)
		return outcomeSkipped, nil
	case recent != nil:
		// an earlier run claimed it but could not deliver it
		pending = recent
	default:
		pending = &ScheduledNotification{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         TypeCardDue,
			ScheduledFor: now,
			DueCount:     dueCount,
			CreatedAt:    now,
		}
		claimed, err := t.repo.Claim(ctx, pending, windowStart)
		if err != nil {
			return outcomeIgnored, fmt.Errorf("repo.Claim() > %w", err)
		}
		if !claimed {
			return outcomeSkipped, nil
		}
	}

	msg := Message{
		NotificationID: pending.ID,
		UserID:         userID,
		Type:           TypeCardDue,
		Title:          "Cards due for review",
		Body:           dueCardsBody(dueCount),
		DueCount:       dueCount,
	}
	if prefs != nil {
		msg.Email = prefs.Email
		msg.WebhookURL = prefs.WebhookURL
	}

	if err := t.dispatcher.Dispatch(ctx, msg); err != nil {
		if recordErr := t.repo.RecordFailure(ctx, pending.ID, err.Error()); recordErr != nil {
			slog.Default().Error("failed to record notification failure",
				"notificationId", pending.ID,
				"error", recordErr)
		}
		return outcomeIgnored, fmt.Errorf("dispatcher.Dispatch() > %w", err)
	}
	if err := t.repo.MarkSent(ctx, pending.ID, now); err != nil {
		return outcomeIgnored, fmt.Errorf("repo.MarkSent() > %w", err)
	}
	return outcomeSent, nil
}

func dueCardsBody(dueCount int) string {
	if dueCount == 1 {
		return "You have 1 card due for review."
	}
	return fmt.Sprintf("You have %d cards due for review.", dueCount)
}
