package notification_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
	"github.com/at-ishikawa/langner-review/internal/item"
	mock_notification "github.com/at-ishikawa/langner-review/internal/mocks/notification"
	"github.com/at-ishikawa/langner-review/internal/notification"
	"github.com/at-ishikawa/langner-review/internal/review"
)

var taskNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func seedState(t *testing.T, repo *review.MemoryRepository, userID string, itemID int64, nextReviewAt time.Time, suspended bool) {
	t.Helper()
	state := review.NewState(review.Key{UserID: userID, ItemID: itemID, ItemKind: item.KindFlashcard}, nextReviewAt)
	state.Suspended = suspended
	require.NoError(t, repo.Upsert(context.Background(), &state))
}

func TestDueCardsTask_Run(t *testing.T) {
	tests := []struct {
		name        string
		minDueCount int
		seed        func(t *testing.T, states *review.MemoryRepository, notifications *notification.MemoryRepository)
		wantUsers   []string
		want        notification.Summary
	}{
		{
			name: "notifies every user with due cards",
			seed: func(t *testing.T, states *review.MemoryRepository, _ *notification.MemoryRepository) {
				seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
				seedState(t, states, "user-1", 2, taskNow.Add(-2*time.Hour), false)
				seedState(t, states, "user-2", 3, taskNow.Add(-time.Minute), false)
			},
			wantUsers: []string{"user-1", "user-2"},
			want:      notification.Summary{UsersChecked: 2, NotificationsSent: 2},
		},
		{
			name: "a card scheduled exactly now is due",
			seed: func(t *testing.T, states *review.MemoryRepository, _ *notification.MemoryRepository) {
				seedState(t, states, "user-1", 1, taskNow, false)
			},
			wantUsers: []string{"user-1"},
			want:      notification.Summary{UsersChecked: 1, NotificationsSent: 1},
		},
		{
			name: "future and suspended cards are not due",
			seed: func(t *testing.T, states *review.MemoryRepository, _ *notification.MemoryRepository) {
				seedState(t, states, "user-1", 1, taskNow.Add(time.Microsecond), false)
				seedState(t, states, "user-2", 2, taskNow.Add(-time.Hour), true)
			},
			want: notification.Summary{},
		},
		{
			name:        "users below the minimum due count are not notified",
			minDueCount: 2,
			seed: func(t *testing.T, states *review.MemoryRepository, _ *notification.MemoryRepository) {
				seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
				seedState(t, states, "user-2", 2, taskNow.Add(-time.Hour), false)
				seedState(t, states, "user-2", 3, taskNow.Add(-time.Hour), false)
			},
			wantUsers: []string{"user-2"},
			want:      notification.Summary{UsersChecked: 2, NotificationsSent: 1},
		},
		{
			name: "snoozed users are skipped",
			seed: func(t *testing.T, states *review.MemoryRepository, notifications *notification.MemoryRepository) {
				seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
				until := taskNow.Add(time.Hour)
				notifications.PutPreferences(notification.Preferences{UserID: "user-1", SnoozedUntil: &until})
			},
			want: notification.Summary{UsersChecked: 1, NotificationsSkipped: 1},
		},
		{
			name: "an expired snooze does not skip",
			seed: func(t *testing.T, states *review.MemoryRepository, notifications *notification.MemoryRepository) {
				seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
				until := taskNow.Add(-time.Second)
				notifications.PutPreferences(notification.Preferences{UserID: "user-1", SnoozedUntil: &until})
			},
			wantUsers: []string{"user-1"},
			want:      notification.Summary{UsersChecked: 1, NotificationsSent: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			states := review.NewMemoryRepository()
			notifications := notification.NewMemoryRepository()
			tt.seed(t, states, notifications)

			dispatcher := mock_notification.NewMockDispatcher(ctrl)
			var gotUsers []string
			dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, msg notification.Message) error {
					gotUsers = append(gotUsers, msg.UserID)
					assert.Equal(t, notification.TypeCardDue, msg.Type)
					assert.NotEmpty(t, msg.NotificationID)
					return nil
				}).
				AnyTimes()

			clock := &testClock{now: taskNow}
			task := notification.NewDueCardsTask(states, notifications, dispatcher,
				notification.TaskConfig{MinDueCount: tt.minDueCount, Cooldown: 6 * time.Hour}, clock.Now)

			got, err := task.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantUsers, gotUsers)
		})
	}
}

func TestDueCardsTask_Cooldown(t *testing.T) {
	ctrl := gomock.NewController(t)
	states := review.NewMemoryRepository()
	seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
	notifications := notification.NewMemoryRepository()

	dispatcher := mock_notification.NewMockDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	clock := &testClock{now: taskNow}
	task := notification.NewDueCardsTask(states, notifications, dispatcher,
		notification.TaskConfig{MinDueCount: 1, Cooldown: 6 * time.Hour}, clock.Now)
	ctx := context.Background()

	got, err := task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NotificationsSent)

	clock.now = taskNow.Add(5 * time.Hour)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, NotificationsSkipped: 1}, got)

	clock.now = taskNow.Add(6*time.Hour + time.Second)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NotificationsSent)

	sent := notifications.Notifications()
	require.Len(t, sent, 2)
	for _, n := range sent {
		assert.True(t, n.Sent)
		assert.Equal(t, 1, n.Attempts)
	}
}

func TestDueCardsTask_DispatchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	states := review.NewMemoryRepository()
	seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
	seedState(t, states, "user-2", 2, taskNow.Add(-time.Hour), false)
	notifications := notification.NewMemoryRepository()

	dispatcher := mock_notification.NewMockDispatcher(ctrl)
	gomock.InOrder(
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Cond(func(msg notification.Message) bool {
			return msg.UserID == "user-1"
		})).Return(fmt.Errorf("push gateway unavailable")),
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Cond(func(msg notification.Message) bool {
			return msg.UserID == "user-2"
		})).Return(nil),
		// the next run retries the undelivered notification
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Cond(func(msg notification.Message) bool {
			return msg.UserID == "user-1"
		})).Return(nil),
	)

	clock := &testClock{now: taskNow}
	task := notification.NewDueCardsTask(states, notifications, dispatcher,
		notification.TaskConfig{MinDueCount: 1, Cooldown: 6 * time.Hour}, clock.Now)
	ctx := context.Background()

	got, err := task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 2, NotificationsSent: 1, Errors: 1}, got)

	pending := notifications.Notifications()
	require.Len(t, pending, 2)
	assert.False(t, pending[0].Sent)
	require.NotNil(t, pending[0].LastError)
	assert.Contains(t, *pending[0].LastError, "push gateway unavailable")

	clock.now = taskNow.Add(time.Hour)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 2, NotificationsSent: 1, NotificationsSkipped: 1}, got)

	retried := notifications.Notifications()
	require.Len(t, retried, 2)
	assert.Equal(t, pending[0].ID, retried[0].ID)
	assert.True(t, retried[0].Sent)
	assert.Equal(t, 2, retried[0].Attempts)
	assert.Nil(t, retried[0].LastError)
}

func TestDueCardsTask_CooldownStartsAtDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	states := review.NewMemoryRepository()
	seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
	notifications := notification.NewMemoryRepository()

	dispatcher := mock_notification.NewMockDispatcher(ctrl)
	gomock.InOrder(
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(fmt.Errorf("push gateway unavailable")),
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(2),
	)

	clock := &testClock{now: taskNow}
	task := notification.NewDueCardsTask(states, notifications, dispatcher,
		notification.TaskConfig{MinDueCount: 1, Cooldown: 6 * time.Hour}, clock.Now)
	ctx := context.Background()

	got, err := task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, Errors: 1}, got)

	clock.now = taskNow.Add(5 * time.Hour)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, NotificationsSent: 1}, got)

	// claimed more than 6h ago but delivered 61 minutes ago
	clock.now = taskNow.Add(6*time.Hour + time.Minute)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, NotificationsSkipped: 1}, got)

	clock.now = taskNow.Add(11*time.Hour + time.Second)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, NotificationsSent: 1}, got)

	stored := notifications.Notifications()
	require.Len(t, stored, 2)
	require.NotNil(t, stored[0].SentAt)
	assert.Equal(t, taskNow.Add(5*time.Hour), *stored[0].SentAt)
	assert.Equal(t, 2, stored[0].Attempts)
}

func TestDueCardsTask_QueryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mock_notification.NewMockDispatcher(ctrl)
	task := notification.NewDueCardsTask(failingSource{}, notification.NewMemoryRepository(), dispatcher,
		notification.TaskConfig{}, nil)

	_, err := task.Run(context.Background())
	assert.Error(t, err)
}

type failingSource struct{}

func (failingSource) QueryDue(context.Context, time.Time, string) ([]review.ReviewState, error) {
	return nil, fmt.Errorf("connection refused")
}

func TestService_Snooze(t *testing.T) {
	tests := []struct {
		name      string
		duration  time.Duration
		wantErrIs error
	}{
		{name: "minimum", duration: 60 * time.Second},
		{name: "maximum", duration: 86400 * time.Second},
		{name: "too short", duration: 59 * time.Second, wantErrIs: apperrors.ErrValidation},
		{name: "too long", duration: 86401 * time.Second, wantErrIs: apperrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := notification.NewMemoryRepository()
			service := notification.NewService(repo, 6*time.Hour, func() time.Time { return taskNow })

			got, err := service.Snooze(context.Background(), "user-1", tt.duration)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, taskNow.Add(tt.duration), got.SnoozedUntil)

			prefs, err := repo.GetPreferences(context.Background(), "user-1")
			require.NoError(t, err)
			require.NotNil(t, prefs.SnoozedUntil)
			assert.True(t, prefs.IsSnoozed(taskNow))
		})
	}
}

func TestService_SnoozeSkipsPendingNotification(t *testing.T) {
	ctrl := gomock.NewController(t)
	states := review.NewMemoryRepository()
	seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
	notifications := notification.NewMemoryRepository()

	dispatcher := mock_notification.NewMockDispatcher(ctrl)
	gomock.InOrder(
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(fmt.Errorf("timeout")),
		dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil),
	)

	clock := &testClock{now: taskNow}
	task := notification.NewDueCardsTask(states, notifications, dispatcher,
		notification.TaskConfig{MinDueCount: 1, Cooldown: 6 * time.Hour}, clock.Now)
	service := notification.NewService(notifications, 6*time.Hour, clock.Now)
	ctx := context.Background()

	_, err := task.Run(ctx)
	require.NoError(t, err)

	clock.now = taskNow.Add(time.Minute)
	result, err := service.Snooze(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Skipped)

	clock.now = taskNow.Add(90 * time.Second)
	got, err := task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, NotificationsSkipped: 1}, got)

	// the skipped notification does not hold the cooldown once the snooze ends
	clock.now = taskNow.Add(3 * time.Minute)
	got, err = task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 1, NotificationsSent: 1}, got)

	stored := notifications.Notifications()
	require.Len(t, stored, 2)
	assert.True(t, stored[0].Skipped)
	assert.False(t, stored[0].Sent)
	assert.True(t, stored[1].Sent)
}

func TestService_ClearCooldown(t *testing.T) {
	ctrl := gomock.NewController(t)
	states := review.NewMemoryRepository()
	seedState(t, states, "user-1", 1, taskNow.Add(-time.Hour), false)
	seedState(t, states, "user-2", 2, taskNow.Add(-time.Hour), false)
	notifications := notification.NewMemoryRepository()

	dispatcher := mock_notification.NewMockDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	clock := &testClock{now: taskNow}
	task := notification.NewDueCardsTask(states, notifications, dispatcher,
		notification.TaskConfig{MinDueCount: 1, Cooldown: 6 * time.Hour}, clock.Now)
	service := notification.NewService(notifications, 6*time.Hour, clock.Now)
	ctx := context.Background()

	_, err := task.Run(ctx)
	require.NoError(t, err)

	deleted, err := service.ClearCooldown(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := task.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.Summary{UsersChecked: 2, NotificationsSent: 1, NotificationsSkipped: 1}, got)

	deleted, err = service.ClearCooldown(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
