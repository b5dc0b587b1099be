package review

import (
	"context"
	"time"
)

// ReviewStateRepository stores review states.
type ReviewStateRepository interface {
	// Get returns the state for key, or nil if the item has not been enrolled.
	Get(ctx context.Context, key Key) (*ReviewState, error)
	// Upsert creates the state when its Version is 0 and otherwise updates it
	// if the stored version still matches. A lost race returns an error
	// wrapping apperrors.ErrConcurrency. On success state.Version holds the
	// stored version.
	Upsert(ctx context.Context, state *ReviewState) error
	// QueryDue returns unsuspended states with NextReviewAt <= now, ordered by
	// user and NextReviewAt. An empty userID matches every user.
	QueryDue(ctx context.Context, now time.Time, userID string) ([]ReviewState, error)
}

// GradeLedger stores processed grade requests.
type GradeLedger interface {
	// FindGradeRequest returns the ledger entry, or nil if the request has not
	// been processed.
	FindGradeRequest(ctx context.Context, userID string, itemID int64, requestID string) (*GradeRequest, error)
	// SaveGrade upserts state and records req atomically. req.ResultingState
	// is set to the stored state. A duplicate request or a version mismatch
	// returns an error wrapping apperrors.ErrConcurrency.
	SaveGrade(ctx context.Context, state *ReviewState, req *GradeRequest) error
	// DeleteGradeRequestsBefore removes ledger entries processed before t and
	// returns how many were removed.
	DeleteGradeRequestsBefore(ctx context.Context, t time.Time) (int64, error)
}

// Repository is the storage used by Engine.
type Repository interface {
	ReviewStateRepository
	GradeLedger
}
