// Package notification scans for due review items and notifies their owners,
// throttled by a per-user cooldown and snooze.
package notification

import (
	"time"
)

// Type is the kind of a scheduled notification.
type Type string

const (
	TypeCardDue Type = "CARD_DUE"
)

// ScheduledNotification records one notification of a user, sent or pending.
type ScheduledNotification struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"userId"`
	Type         Type       `db:"type" json:"type"`
	ScheduledFor time.Time  `db:"scheduled_for" json:"scheduledFor"`
	DueCount     int        `db:"due_count" json:"dueCount"`
	Sent         bool       `db:"sent" json:"sent"`
	SentAt       *time.Time `db:"sent_at" json:"sentAt,omitempty"`
	// Skipped is set when the user snoozed notifications before this one was sent.
	Skipped   bool      `db:"skipped" json:"skipped"`
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError *string   `db:"last_error" json:"lastError,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Preferences are the notification settings of a user.
type Preferences struct {
	UserID       string     `db:"user_id" json:"userId"`
	SnoozedUntil *time.Time `db:"snoozed_until" json:"snoozedUntil,omitempty"`
	Email        string     `db:"email" json:"email,omitempty"`
	WebhookURL   string     `db:"webhook_url" json:"webhookUrl,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// IsSnoozed reports whether notifications are snoozed at now.
func (p *Preferences) IsSnoozed(now time.Time) bool {
	return p != nil && p.SnoozedUntil != nil && p.SnoozedUntil.After(now)
}

// Message is what a Dispatcher delivers.
type Message struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Type           Type   `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	DueCount       int    `json:"dueCount"`
	// Contact details from the user's preferences; empty when unknown.
	Email      string `json:"-"`
	WebhookURL string `json:"-"`
}

// Summary reports the outcome of one due-cards scan.
type Summary struct {
	UsersChecked         int `json:"usersChecked" yaml:"usersChecked"`
	NotificationsSent    int `json:"notificationsSent" yaml:"notificationsSent"`
	NotificationsSkipped int `json:"notificationsSkipped" yaml:"notificationsSkipped"`
	Errors               int `json:"errors" yaml:"errors"`
}
