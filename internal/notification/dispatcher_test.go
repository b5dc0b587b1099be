package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/langner-review/internal/config"
)

func TestWebhookDispatcher_Dispatch(t *testing.T) {
	msg := Message{
		NotificationID: "n-1",
		UserID:         "user-1",
		Type:           TypeCardDue,
		Title:          "Cards due for review",
		Body:           "You have 3 cards due for review.",
		DueCount:       3,
	}

	tests := []struct {
		name          string
		statuses      []int
		userURL       bool
		noURL         bool
		wantCalls     int32
		wantErr       bool
		wantErrString string
	}{
		{name: "delivers", statuses: []int{http.StatusOK}, wantCalls: 1},
		{name: "uses the user's webhook", statuses: []int{http.StatusNoContent}, userURL: true, wantCalls: 1},
		{name: "retries server errors", statuses: []int{http.StatusBadGateway, http.StatusOK}, wantCalls: 2},
		{name: "retries rate limiting", statuses: []int{http.StatusTooManyRequests, http.StatusOK}, wantCalls: 2},
		{
			name:          "does not retry client errors",
			statuses:      []int{http.StatusBadRequest},
			wantCalls:     1,
			wantErr:       true,
			wantErrString: "webhook response error 400",
		},
		{
			name:      "gives up after the configured attempts",
			statuses:  []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError},
			wantCalls: 3,
			wantErr:   true,
		},
		{name: "no url", noURL: true, wantErr: true, wantErrString: errNoWebhookURL.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Bearer hook-token", r.Header.Get("Authorization"))
				if tt.userURL {
					assert.Equal(t, "/users/user-1", r.URL.Path)
				} else {
					assert.Equal(t, "/hooks/review", r.URL.Path)
				}

				var payload webhookPayload
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, "n-1", payload.NotificationID)
				assert.Equal(t, TypeCardDue, payload.Type)
				assert.Equal(t, 3, payload.DueCount)

				w.WriteHeader(tt.statuses[int(n)-1])
			}))
			defer server.Close()

			cfg := config.WebhookConfig{
				URL:           server.URL + "/hooks/review",
				Token:         "hook-token",
				Timeout:       time.Second,
				RetryAttempts: 2,
			}
			if tt.noURL {
				cfg.URL = ""
			}
			dispatcher := NewWebhookDispatcher(cfg)
			dispatcher.retryDelay = time.Millisecond
			defer dispatcher.Close()

			m := msg
			if tt.userURL {
				m.WebhookURL = server.URL + "/users/user-1"
			}
			err := dispatcher.Dispatch(context.Background(), m)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				require.Error(t, err)
				if tt.wantErrString != "" {
					assert.Contains(t, err.Error(), tt.wantErrString)
				}
				return
			}
			assert.NoError(t, err)
		})
	}
}

type fakeSESClient struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESDispatcher_Dispatch(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		sendErr   error
		wantSends int
		wantErr   bool
	}{
		{name: "sends to the user's address", email: "learner@example.com", wantSends: 1},
		{name: "user without email", email: "", wantSends: 0, wantErr: true},
		{name: "ses error", email: "learner@example.com", sendErr: fmt.Errorf("throttled"), wantSends: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSESClient{err: tt.sendErr}
			dispatcher := &SESDispatcher{client: client, from: "review@example.com"}

			err := dispatcher.Dispatch(context.Background(), Message{
				UserID: "user-1",
				Type:   TypeCardDue,
				Title:  "Cards due for review",
				Body:   "You have 1 card due for review.",
				Email:  tt.email,
			})
			require.Len(t, client.inputs, tt.wantSends)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			input := client.inputs[0]
			assert.Equal(t, "review@example.com", *input.FromEmailAddress)
			assert.Equal(t, []string{"learner@example.com"}, input.Destination.ToAddresses)
			assert.Equal(t, "Cards due for review", *input.Content.Simple.Subject.Data)
		})
	}
}

type dispatcherFunc func(ctx context.Context, msg Message) error

func (f dispatcherFunc) Dispatch(ctx context.Context, msg Message) error { return f(ctx, msg) }

func TestMultiDispatcher_Dispatch(t *testing.T) {
	ok := dispatcherFunc(func(context.Context, Message) error { return nil })
	failing := dispatcherFunc(func(context.Context, Message) error { return fmt.Errorf("unreachable") })

	assert.NoError(t, MultiDispatcher{ok, failing}.Dispatch(context.Background(), Message{UserID: "user-1"}))
	assert.Error(t, MultiDispatcher{failing, failing}.Dispatch(context.Background(), Message{UserID: "user-1"}))
	assert.NoError(t, MultiDispatcher{}.Dispatch(context.Background(), Message{UserID: "user-1"}))
}

func TestNewDispatcher(t *testing.T) {
	d, err := NewDispatcher(context.Background(), config.NotificationsConfig{Dispatcher: "log"})
	require.NoError(t, err)
	assert.IsType(t, LogDispatcher{}, d)

	d, err = NewDispatcher(context.Background(), config.NotificationsConfig{
		Dispatcher: "webhook",
		Webhook:    config.WebhookConfig{URL: "https://push.example.com"},
	})
	require.NoError(t, err)
	assert.IsType(t, &WebhookDispatcher{}, d)

	_, err = NewDispatcher(context.Background(), config.NotificationsConfig{Dispatcher: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewDispatcher(context.Background(), config.NotificationsConfig{
		Dispatcher: "ses",
		SES:        config.SESConfig{Region: "us-east-1", AuthType: "static_credentials"},
	})
	assert.Error(t, err)
}
