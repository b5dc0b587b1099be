package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository stores notification preferences and scheduled notifications.
type Repository interface {
	// GetPreferences returns the user's preferences, or nil if none are stored.
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
	SetSnoozedUntil(ctx context.Context, userID string, until time.Time) error
	// FindRecent returns the notification of typ that holds the window
	// starting at since, or nil if there is none. A sent one counts when it was
	// sent at or after since, a pending one when it was scheduled at or after
	// since. Skipped ones never count. Sent ones are preferred.
	FindRecent(ctx context.Context, userID string, typ Type, since time.Time) (*ScheduledNotification, error)
	// Claim inserts n unless FindRecent would return a notification for the
	// same user, type and since. It reports whether n was inserted.
	Claim(ctx context.Context, n *ScheduledNotification, since time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	RecordFailure(ctx context.Context, id string, message string) error
	// SkipUnsent marks unsent notifications of typ scheduled within [from, to]
	// as skipped and returns how many were marked.
	SkipUnsent(ctx context.Context, userID string, typ Type, from, to time.Time) (int64, error)
	// DeleteSince removes notifications of typ scheduled or sent at or after
	// since.
	// An empty userID matches every user.
	DeleteSince(ctx context.Context, userID string, typ Type, since time.Time) (int64, error)
}

// inWindow matches the rows FindRecent and Claim treat as holding the window.
// It takes the since argument twice.
const inWindow = `((sent = TRUE AND sent_at >= ?) OR (sent = FALSE AND skipped = FALSE AND scheduled_for >= ?))`

// DBRepository implements Repository using MySQL.
type DBRepository struct {
	db *sqlx.DB
}

// NewDBRepository creates a new DBRepository.
func NewDBRepository(db *sqlx.DB) *DBRepository {
	return &DBRepository{db: db}
}

func (r *DBRepository) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var prefs Preferences
	err := r.db.GetContext(ctx, &prefs, "SELECT * FROM notification_preferences WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(notification_preferences) > %w", err)
	}
	return &prefs, nil
}

func (r *DBRepository) SetSnoozedUntil(ctx context.Context, userID string, until time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, snoozed_until) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE snoozed_until = VALUES(snoozed_until)`,
		userID, until); err != nil {
		return fmt.Errorf("db.ExecContext(upsert notification_preferences) > %w", err)
	}
	return nil
}

func (r *DBRepository) FindRecent(ctx context.Context, userID string, typ Type, since time.Time) (*ScheduledNotification, error) {
	var n ScheduledNotification
	err := r.db.GetContext(ctx, &n,
		`SELECT * FROM scheduled_notifications WHERE user_id = ? AND type = ? AND `+inWindow+`
		ORDER BY sent DESC, scheduled_for DESC LIMIT 1`,
		userID, typ, since, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(recent scheduled_notification) > %w", err)
	}
	return &n, nil
}

func (r *DBRepository) Claim(ctx context.Context, n *ScheduledNotification, since time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduled_notifications (id, user_id, type, scheduled_for, due_count, sent, skipped, attempts, created_at)
		SELECT ?, ?, ?, ?, ?, FALSE, FALSE, 0, ? FROM DUAL
		WHERE NOT EXISTS (
			SELECT 1 FROM scheduled_notifications WHERE user_id = ? AND type = ? AND `+inWindow+`
		)`,
		n.ID, n.UserID, n.Type, n.ScheduledFor, n.DueCount, n.CreatedAt,
		n.UserID, n.Type, since, since)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext(claim scheduled_notification) > %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected() > %w", err)
	}
	return affected == 1, nil
}

func (r *DBRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET sent = TRUE, sent_at = ?, attempts = attempts + 1, last_error = NULL
		WHERE id = ?`,
		sentAt, id); err != nil {
		return fmt.Errorf("db.ExecContext(mark scheduled_notification sent) > %w", err)
	}
	return nil
}

func (r *DBRepository) RecordFailure(ctx context.Context, id string, message string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE scheduled_notifications SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		message, id); err != nil {
		return fmt.Errorf("db.ExecContext(record scheduled_notification failure) > %w", err)
	}
	return nil
}

func (r *DBRepository) SkipUnsent(ctx context.Context, userID string, typ Type, from, to time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET skipped = TRUE
		WHERE user_id = ? AND type = ? AND sent = FALSE AND skipped = FALSE AND scheduled_for BETWEEN ? AND ?`,
		userID, typ, from, to)
	if err != nil {
		return 0, fmt.Errorf("db.ExecContext(skip scheduled_notifications) > %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("result.RowsAffected() > %w", err)
	}
	return n, nil
}

func (r *DBRepository) DeleteSince(ctx context.Context, userID string, typ Type, since time.Time) (int64, error) {
	query := "DELETE FROM scheduled_notifications WHERE type = ? AND (scheduled_for >= ? OR sent_at >= ?)"
	args := []any{typ, since, since}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db.ExecContext(delete scheduled_notifications) > %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("result.RowsAffected() > %w", err)
	}
	return n, nil
}
