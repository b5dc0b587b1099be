package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-playground/validator/v10"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
	"github.com/at-ishikawa/langner-review/internal/item"
)

const (
	defaultRetryDelay = 50 * time.Millisecond
	// one retry after a lost race, then the conflict is surfaced
	concurrencyAttempts = 2
)

var validate = validator.New()

// Engine applies grades and suspension changes to review states.
type Engine struct {
	repo       Repository
	items      item.Repository
	locks      *keyLock
	now        func() time.Time
	retryDelay time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for review timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRetryDelay sets the base delay before retrying after a concurrent write.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(repo Repository, items item.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		items:      items,
		locks:      newKeyLock(),
		now:        time.Now,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitGrade applies in to the item's review state and returns the new state.
// A request that was already processed returns the stored result without
// modifying anything.
func (e *Engine) SubmitGrade(ctx context.Context, in GradeInput) (*ReviewState, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperrors.Validation("%s", err.Error())
	}
	if err := validateKey(in.Key()); err != nil {
		return nil, err
	}

	var result *ReviewState
	err := e.withRetry(ctx, "SubmitGrade", in.Key(), func() error {
		state, err := e.submitGrade(ctx, in)
		if err != nil {
			return err
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) submitGrade(ctx context.Context, in GradeInput) (*ReviewState, error) {
	key := in.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	processed, err := e.repo.FindGradeRequest(ctx, in.UserID, in.ItemID, in.RequestID)
	if err != nil {
		return nil, fmt.Errorf("repo.FindGradeRequest() > %w", err)
	}
	if processed != nil {
		slog.Default().Debug("grade request already processed",
			"key", key.String(),
			"requestId", in.RequestID)
		state := processed.ResultingState
		return &state, nil
	}

	if err := e.checkItem(ctx, key); err != nil {
		return nil, err
	}

	now := e.clock()
	current, err := e.loadOrNew(ctx, key, now)
	if err != nil {
		return nil, err
	}
	if current.Suspended {
		return nil, apperrors.Validation("item %s is suspended", key)
	}

	next, err := ComputeNext(*current, in.Grade, now)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	req := &GradeRequest{
		UserID:      in.UserID,
		ItemID:      in.ItemID,
		ItemKind:    in.ItemKind,
		RequestID:   in.RequestID,
		Grade:       in.Grade,
		ProcessedAt: now,
	}
	if err := e.repo.SaveGrade(ctx, &next, req); err != nil {
		if errors.Is(err, apperrors.ErrConcurrency) {
			return nil, err
		}
		return nil, fmt.Errorf("repo.SaveGrade() > %w", err)
	}

	slog.Default().Info("review graded",
		"key", key.String(),
		"grade", in.Grade,
		"intervalDays", next.IntervalDays,
		"nextReviewAt", next.NextReviewAt)
	return &next, nil
}

// Suspend excludes the item from due queries and grading.
func (e *Engine) Suspend(ctx context.Context, key Key) (*ReviewState, error) {
	return e.setSuspended(ctx, key, true)
}

// Unsuspend makes a suspended item schedulable again.
func (e *Engine) Unsuspend(ctx context.Context, key Key) (*ReviewState, error) {
	return e.setSuspended(ctx, key, false)
}

func (e *Engine) setSuspended(ctx context.Context, key Key, suspended bool) (*ReviewState, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var result *ReviewState
	err := e.withRetry(ctx, "setSuspended", key, func() error {
		unlock := e.locks.Lock(key)
		defer unlock()

		if err := e.checkItem(ctx, key); err != nil {
			return err
		}
		now := e.clock()
		state, err := e.loadOrNew(ctx, key, now)
		if err != nil {
			return err
		}
		if state.Suspended == suspended && state.Version != 0 {
			result = state
			return nil
		}

		state.Suspended = suspended
		state.UpdatedAt = now
		if err := e.repo.Upsert(ctx, state); err != nil {
			if errors.Is(err, apperrors.ErrConcurrency) {
				return err
			}
			return fmt.Errorf("repo.Upsert() > %w", err)
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Enroll creates the default state for the item if it has none and returns
// the current state. Enrolled items are due immediately.
func (e *Engine) Enroll(ctx context.Context, key Key) (*ReviewState, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var result *ReviewState
	err := e.withRetry(ctx, "Enroll", key, func() error {
		unlock := e.locks.Lock(key)
		defer unlock()

		if err := e.checkItem(ctx, key); err != nil {
			return err
		}
		state, err := e.loadOrNew(ctx, key, e.clock())
		if err != nil {
			return err
		}
		if state.Version == 0 {
			if err := e.repo.Upsert(ctx, state); err != nil {
				if errors.Is(err, apperrors.ErrConcurrency) {
					return err
				}
				return fmt.Errorf("repo.Upsert() > %w", err)
			}
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetState returns the stored state of the item.
func (e *Engine) GetState(ctx context.Context, key Key) (*ReviewState, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	state, err := e.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("repo.Get() > %w", err)
	}
	if state == nil {
		return nil, apperrors.NotFound("review state", key)
	}
	return state, nil
}

// DueItems returns the user's items that are due at now, oldest first.
// States whose item no longer exists are skipped.
func (e *Engine) DueItems(ctx context.Context, userID string, now time.Time) ([]DueItem, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	states, err := e.repo.QueryDue(ctx, now, userID)
	if err != nil {
		return nil, fmt.Errorf("repo.QueryDue() > %w", err)
	}
	if len(states) == 0 {
		return []DueItem{}, nil
	}

	ids := make([]int64, 0, len(states))
	for _, state := range states {
		ids = append(ids, state.ItemID)
	}
	items, err := e.items.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("items.GetItems() > %w", err)
	}
	itemsByID := make(map[int64]item.Item, len(items))
	for _, it := range items {
		itemsByID[it.ID] = it
	}

	due := make([]DueItem, 0, len(states))
	for _, state := range states {
		it, ok := itemsByID[state.ItemID]
		if !ok {
			slog.Default().Warn("due review state without item", "key", state.Key().String())
			continue
		}
		due = append(due, DueItem{State: state, Item: it})
	}
	return due, nil
}

// Now returns the engine clock's current time at storage precision.
func (e *Engine) Now() time.Time {
	return e.clock()
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) withRetry(ctx context.Context, op string, key Key, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(concurrencyAttempts),
		retry.Delay(e.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, apperrors.ErrConcurrency)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Default().Warn("concurrent review state write",
				"operation", op,
				"key", key.String(),
				"attempt", n+1,
				"error", err)
		}),
	)
}

func (e *Engine) checkItem(ctx context.Context, key Key) error {
	it, err := e.items.GetItem(ctx, key.ItemID)
	if err != nil {
		return fmt.Errorf("items.GetItem() > %w", err)
	}
	if it == nil || it.UserID != key.UserID {
		return apperrors.NotFound("item", key.ItemID)
	}
	if it.Kind != key.ItemKind {
		return apperrors.Validation("item %d is a %s, not a %s", key.ItemID, it.Kind, key.ItemKind)
	}
	return nil
}

func (e *Engine) loadOrNew(ctx context.Context, key Key, now time.Time) (*ReviewState, error) {
	state, err := e.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("repo.Get() > %w", err)
	}
	if state == nil {
		fresh := NewState(key, now)
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		return &fresh, nil
	}
	return state, nil
}

func validateKey(key Key) error {
	if key.UserID == "" {
		return apperrors.Validation("user id is required")
	}
	if key.ItemID <= 0 {
		return apperrors.Validation("item id must be positive, got %d", key.ItemID)
	}
	if !key.ItemKind.Valid() {
		return apperrors.Validation("unknown item kind %q", key.ItemKind)
	}
	return nil
}
