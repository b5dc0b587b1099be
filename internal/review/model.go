// Package review implements spaced-repetition scheduling (SM-2) and the
// review engine that applies grades to per-item review state.
package review

import (
	"fmt"
	"time"

	"github.com/at-ishikawa/langner-review/internal/item"
)

// Key identifies the review state of one item for one user.
type Key struct {
	UserID   string    `json:"userId"`
	ItemID   int64     `json:"itemId"`
	ItemKind item.Kind `json:"itemKind"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.UserID, k.ItemKind, k.ItemID)
}

// ReviewState is the scheduling state of an item for a user.
type ReviewState struct {
	ID             int64     `db:"id" json:"-"`
	UserID         string    `db:"user_id" json:"userId"`
	ItemID         int64     `db:"item_id" json:"itemId"`
	ItemKind       item.Kind `db:"item_kind" json:"itemKind"`
	EaseFactor     float64   `db:"ease_factor" json:"easeFactor"`
	IntervalDays   int       `db:"interval_days" json:"intervalDays"`
	Repetitions    int       `db:"repetitions" json:"repetitions"`
	Lapses         int       `db:"lapses" json:"lapses"`
	NextReviewAt   time.Time `db:"next_review_at" json:"nextReviewAt"`
	LastReviewedAt time.Time `db:"last_reviewed_at" json:"lastReviewedAt"`
	Suspended      bool      `db:"suspended" json:"suspended"`
	// Version is incremented on every write and guards against lost updates.
	// Zero means the state has not been persisted yet.
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Key returns the identity of the state.
func (s ReviewState) Key() Key {
	return Key{UserID: s.UserID, ItemID: s.ItemID, ItemKind: s.ItemKind}
}

// IsDue reports whether the state should be reviewed at now.
// A state scheduled exactly at now is due.
func (s ReviewState) IsDue(now time.Time) bool {
	return !s.Suspended && !s.NextReviewAt.After(now)
}

// GradeRequest is an entry of the idempotency ledger: the result of applying
// one client request to one item.
type GradeRequest struct {
	UserID         string      `json:"userId"`
	ItemID         int64       `json:"itemId"`
	ItemKind       item.Kind   `json:"itemKind"`
	RequestID      string      `json:"requestId"`
	Grade          int         `json:"grade"`
	ResultingState ReviewState `json:"resultingState"`
	ProcessedAt    time.Time   `json:"processedAt"`
}

// GradeInput is a request to grade one item.
type GradeInput struct {
	UserID    string    `json:"userId" validate:"required"`
	ItemID    int64     `json:"itemId" validate:"required"`
	ItemKind  item.Kind `json:"itemKind" validate:"required"`
	Grade     int       `json:"grade" validate:"min=0,max=5"`
	RequestID string    `json:"requestId" validate:"required,max=128"`
}

// Key returns the review state key the input applies to.
func (in GradeInput) Key() Key {
	return Key{UserID: in.UserID, ItemID: in.ItemID, ItemKind: in.ItemKind}
}

// DueItem is a due review state together with its item.
type DueItem struct {
	State ReviewState `json:"state"`
	Item  item.Item   `json:"item"`
}
