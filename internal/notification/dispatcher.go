package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/at-ishikawa/langner-review/internal/config"
)

//go:generate mockgen -source=dispatcher.go -destination=../mocks/notification/mock_dispatcher.go -package=mock_notification

// Dispatcher delivers a notification to a user.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// LogDispatcher writes notifications to the log instead of delivering them.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	slog.Default().Info("notification",
		"userId", msg.UserID,
		"type", msg.Type,
		"title", msg.Title,
		"dueCount", msg.DueCount)
	return nil
}

// MultiDispatcher delivers through every dispatcher that accepts the message.
// It fails only if all of them fail.
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(m) > 0 && len(errs) == len(m) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		slog.Default().Warn("partial notification delivery failure",
			"userId", msg.UserID,
			"error", err)
	}
	return nil
}

// NewDispatcher builds the dispatcher selected by cfg.Dispatcher.
func NewDispatcher(ctx context.Context, cfg config.NotificationsConfig) (Dispatcher, error) {
	switch cfg.Dispatcher {
	case "", "log":
		return LogDispatcher{}, nil
	case "webhook":
		return NewWebhookDispatcher(cfg.Webhook), nil
	case "ses":
		return NewSESDispatcher(ctx, cfg.SES)
	case "multi":
		ses, err := NewSESDispatcher(ctx, cfg.SES)
		if err != nil {
			return nil, err
		}
		return MultiDispatcher{NewWebhookDispatcher(cfg.Webhook), ses}, nil
	default:
		return nil, fmt.Errorf("unknown dispatcher %q", cfg.Dispatcher)
	}
}
