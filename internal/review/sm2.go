package review

import (
	"math"
	"time"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
)

const (
	DefaultEaseFactor = 2.5
	MinEaseFactor     = 1.3

	MinGrade = 0
	MaxGrade = 5

	// grades below passingGrade are lapses
	passingGrade = 3

	day = 24 * time.Hour
)

// NewState returns the default state of a newly enrolled item.
// The item is due immediately.
func NewState(key Key, now time.Time) ReviewState {
	return ReviewState{
		UserID:         key.UserID,
		ItemID:         key.ItemID,
		ItemKind:       key.ItemKind,
		EaseFactor:     DefaultEaseFactor,
		NextReviewAt:   now,
		LastReviewedAt: now,
	}
}

// ComputeNext applies grade to state at now using SM-2.
// It does not modify suspended, the identity or the persistence fields.
func ComputeNext(state ReviewState, grade int, now time.Time) (ReviewState, error) {
	if grade < MinGrade || grade > MaxGrade {
		return ReviewState{}, apperrors.Validation("grade must be between %d and %d, got %d", MinGrade, MaxGrade, grade)
	}

	next := state
	if grade < passingGrade {
		next.Repetitions = 0
		next.IntervalDays = 1
		next.Lapses = state.Lapses + 1
	} else {
		next.Repetitions = state.Repetitions + 1
		next.IntervalDays = NextInterval(state.IntervalDays, state.Repetitions, state.EaseFactor)
	}
	next.EaseFactor = UpdateEaseFactor(state.EaseFactor, grade)
	next.LastReviewedAt = now
	next.NextReviewAt = now.Add(time.Duration(next.IntervalDays) * day)
	return next, nil
}

// UpdateEaseFactor returns the ease factor after a review graded grade.
// The result is rounded to 4 decimal places and never below MinEaseFactor.
func UpdateEaseFactor(ef float64, grade int) float64 {
	if ef == 0 {
		ef = DefaultEaseFactor
	}
	q := float64(MaxGrade - grade)
	newEF := ef + (0.1 - q*(0.08+q*0.02))
	return math.Max(math.Round(newEF*10000)/10000, MinEaseFactor)
}

// NextInterval returns the interval in days after a successful review.
// repetitions is the streak before the review and ef the ease factor before
// the review.
func NextInterval(intervalDays, repetitions int, ef float64) int {
	if ef == 0 {
		ef = DefaultEaseFactor
	}
	switch repetitions {
	case 0:
		return 1
	case 1:
		return 6
	default:
		// math.Round rounds half away from zero
		return max(int(math.Round(float64(intervalDays)*ef)), 1)
	}
}
