package review

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
	"github.com/at-ishikawa/langner-review/internal/item"
)

var testKey = Key{UserID: "user-1", ItemID: 42, ItemKind: item.KindFlashcard}

func TestUpdateEaseFactor(t *testing.T) {
	tests := []struct {
		name     string
		ef       float64
		grade    int
		expected float64
	}{
		{name: "grade 5 increases EF", ef: 2.5, grade: 5, expected: 2.6},
		{name: "grade 4 maintains EF", ef: 2.5, grade: 4, expected: 2.5},
		{name: "grade 3 decreases EF slightly", ef: 2.5, grade: 3, expected: 2.36},
		{name: "grade 2", ef: 2.5, grade: 2, expected: 2.18},
		{name: "grade 1", ef: 2.5, grade: 1, expected: 1.96},
		{name: "grade 0", ef: 2.5, grade: 0, expected: 1.7},
		{name: "never goes below MinEaseFactor", ef: 1.3, grade: 0, expected: MinEaseFactor},
		{name: "zero EF uses default", ef: 0, grade: 4, expected: DefaultEaseFactor},
		{name: "rounded to 4 decimals", ef: 2.12341, grade: 5, expected: 2.2234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpdateEaseFactor(tt.ef, tt.grade)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		name         string
		intervalDays int
		repetitions  int
		ef           float64
		expected     int
	}{
		{name: "first success", intervalDays: 0, repetitions: 0, ef: 2.5, expected: 1},
		{name: "second success", intervalDays: 1, repetitions: 1, ef: 2.5, expected: 6},
		{name: "third success multiplies by EF", intervalDays: 6, repetitions: 2, ef: 2.5, expected: 15},
		{name: "rounds half away from zero", intervalDays: 5, repetitions: 3, ef: 1.5, expected: 8},
		{name: "rounds down below half", intervalDays: 6, repetitions: 2, ef: 2.7, expected: 16},
		{name: "never below one day", intervalDays: 0, repetitions: 4, ef: 1.3, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextInterval(tt.intervalDays, tt.repetitions, tt.ef))
		})
	}
}

func TestComputeNext_Trace(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	state := NewState(testKey, now)

	steps := []struct {
		grade        int
		repetitions  int
		intervalDays int
		easeFactor   float64
		lapses       int
	}{
		{grade: 5, repetitions: 1, intervalDays: 1, easeFactor: 2.6},
		{grade: 5, repetitions: 2, intervalDays: 6, easeFactor: 2.7},
		{grade: 4, repetitions: 3, intervalDays: 16, easeFactor: 2.7},
		{grade: 2, repetitions: 0, intervalDays: 1, easeFactor: 2.38, lapses: 1},
	}

	for i, step := range steps {
		reviewedAt := now.Add(time.Duration(i) * time.Hour)
		next, err := ComputeNext(state, step.grade, reviewedAt)
		require.NoError(t, err)

		assert.Equal(t, step.repetitions, next.Repetitions, "step %d repetitions", i)
		assert.Equal(t, step.intervalDays, next.IntervalDays, "step %d interval", i)
		assert.InDelta(t, step.easeFactor, next.EaseFactor, 1e-9, "step %d ease factor", i)
		assert.Equal(t, step.lapses, next.Lapses, "step %d lapses", i)
		assert.Equal(t, reviewedAt, next.LastReviewedAt)
		assert.Equal(t, reviewedAt.Add(time.Duration(step.intervalDays)*24*time.Hour), next.NextReviewAt)
		state = next
	}
}

func TestComputeNext_GradeFourKeepsEaseFactor(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	state := NewState(testKey, now)

	state, err := ComputeNext(state, 4, now)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Repetitions)
	assert.Equal(t, 1, state.IntervalDays)
	assert.InDelta(t, 2.5, state.EaseFactor, 1e-9)

	state, err = ComputeNext(state, 4, now)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Repetitions)
	assert.Equal(t, 6, state.IntervalDays)
	assert.InDelta(t, 2.5, state.EaseFactor, 1e-9)
}

func TestComputeNext_InvalidGrade(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, grade := range []int{-1, 6, 100} {
		_, err := ComputeNext(NewState(testKey, now), grade, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrValidation), "grade %d", grade)
	}
}

func TestComputeNext_KeepsSuspendedAndIdentity(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	state := NewState(testKey, now)
	state.Suspended = true
	state.Version = 7

	next, err := ComputeNext(state, 5, now)
	require.NoError(t, err)
	assert.True(t, next.Suspended)
	assert.Equal(t, int64(7), next.Version)
	assert.Equal(t, testKey, next.Key())
}

func TestComputeNext_Properties(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewPCG(1, 2))

	t.Run("passing grades never shrink the interval", func(t *testing.T) {
		for run := 0; run < 200; run++ {
			state := NewState(testKey, now)
			for i := 0; i < 15; i++ {
				next, err := ComputeNext(state, 3+rng.IntN(3), now)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, next.IntervalDays, state.IntervalDays)
				assert.Equal(t, state.Repetitions+1, next.Repetitions)
				state = next
			}
		}
	})

	t.Run("failing grades reset the streak", func(t *testing.T) {
		for run := 0; run < 200; run++ {
			state := NewState(testKey, now)
			streak := rng.IntN(10)
			for i := 0; i < streak; i++ {
				state, _ = ComputeNext(state, 3+rng.IntN(3), now)
			}
			next, err := ComputeNext(state, rng.IntN(3), now)
			require.NoError(t, err)
			assert.Equal(t, 0, next.Repetitions)
			assert.Equal(t, 1, next.IntervalDays)
			assert.Equal(t, state.Lapses+1, next.Lapses)
		}
	})

	t.Run("ease factor never falls below the floor", func(t *testing.T) {
		for run := 0; run < 200; run++ {
			state := NewState(testKey, now)
			for i := 0; i < 30; i++ {
				next, err := ComputeNext(state, rng.IntN(6), now)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, next.EaseFactor, MinEaseFactor)
				assert.False(t, next.NextReviewAt.Before(next.LastReviewedAt))
				state = next
			}
		}
	})
}
