package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"resty.dev/v3"

	"github.com/at-ishikawa/langner-review/internal/config"
)

var errNoWebhookURL = errors.New("no webhook url configured")

// WebhookDispatcher posts notifications as JSON to the user's webhook, or to
// the configured default URL.
type WebhookDispatcher struct {
	httpClient       *resty.Client
	defaultURL       string
	maxRetryAttempts uint
	retryDelay       time.Duration
}

// NewWebhookDispatcher creates a WebhookDispatcher.
func NewWebhookDispatcher(cfg config.WebhookConfig) *WebhookDispatcher {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &WebhookDispatcher{
		httpClient:       client,
		defaultURL:       cfg.URL,
		maxRetryAttempts: cfg.RetryAttempts,
		retryDelay:       200 * time.Millisecond,
	}
}

func (d *WebhookDispatcher) Close() error {
	return d.httpClient.Close()
}

type webhookPayload struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Type           Type   `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	DueCount       int    `json:"dueCount"`
	SentAt         string `json:"sentAt"`
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, msg Message) error {
	url := msg.WebhookURL
	if url == "" {
		url = d.defaultURL
	}
	if url == "" {
		return errNoWebhookURL
	}

	payload := webhookPayload{
		NotificationID: msg.NotificationID,
		UserID:         msg.UserID,
		Type:           msg.Type,
		Title:          msg.Title,
		Body:           msg.Body,
		DueCount:       msg.DueCount,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}
	return retry.Do(
		func() error {
			err := d.post(ctx, url, payload)
			if err != nil && !isRetryableStatus(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(d.maxRetryAttempts+1),
		retry.Delay(d.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

type webhookStatusError struct {
	statusCode int
	body       string
}

func (e *webhookStatusError) Error() string {
	return fmt.Sprintf("webhook response error %d: %s", e.statusCode, e.body)
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, payload webhookPayload) error {
	response, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return &webhookStatusError{statusCode: response.StatusCode(), body: response.String()}
	}
	return nil
}

// isRetryableStatus retries transport errors, rate limiting and server errors.
func isRetryableStatus(err error) bool {
	var statusErr *webhookStatusError
	if !errors.As(err, &statusErr) {
		return true
	}
	return statusErr.statusCode == http.StatusTooManyRequests || statusErr.statusCode >= http.StatusInternalServerError
}
