package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
)

type ledgerKey struct {
	userID    string
	itemID    int64
	requestID string
}

// MemoryRepository is an in-process Repository used by the memory storage
// driver and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	states map[Key]ReviewState
	ledger map[ledgerKey]GradeRequest
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states: make(map[Key]ReviewState),
		ledger: make(map[ledgerKey]GradeRequest),
	}
}

func (r *MemoryRepository) Get(_ context.Context, key Key) (*ReviewState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[key]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, state *ReviewState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(state)
}

func (r *MemoryRepository) QueryDue(_ context.Context, now time.Time, userID string) ([]ReviewState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var states []ReviewState
	for _, state := range r.states {
		if userID != "" && state.UserID != userID {
			continue
		}
		if state.IsDue(now) {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].UserID != states[j].UserID {
			return states[i].UserID < states[j].UserID
		}
		if !states[i].NextReviewAt.Equal(states[j].NextReviewAt) {
			return states[i].NextReviewAt.Before(states[j].NextReviewAt)
		}
		return states[i].ID < states[j].ID
	})
	return states, nil
}

func (r *MemoryRepository) FindGradeRequest(_ context.Context, userID string, itemID int64, requestID string) (*GradeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.ledger[ledgerKey{userID: userID, itemID: itemID, requestID: requestID}]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *MemoryRepository) SaveGrade(_ context.Context, state *ReviewState, req *GradeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lk := ledgerKey{userID: req.UserID, itemID: req.ItemID, requestID: req.RequestID}
	if _, ok := r.ledger[lk]; ok {
		return apperrors.Concurrency("grade request "+req.RequestID, nil)
	}
	if err := r.upsertLocked(state); err != nil {
		return err
	}
	req.ResultingState = *state
	r.ledger[lk] = *req
	return nil
}

func (r *MemoryRepository) DeleteGradeRequestsBefore(_ context.Context, t time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, req := range r.ledger {
		if req.ProcessedAt.Before(t) {
			delete(r.ledger, k)
			n++
		}
	}
	return n, nil
}

// upsertLocked mirrors the optimistic version check of the SQL repository.
func (r *MemoryRepository) upsertLocked(state *ReviewState) error {
	key := state.Key()
	stored, exists := r.states[key]
	switch {
	case state.Version == 0 && exists:
		return apperrors.Concurrency(key.String(), fmt.Errorf("state already exists"))
	case state.Version == 0:
		r.nextID++
		state.ID = r.nextID
	case !exists || stored.Version != state.Version:
		return apperrors.Concurrency(key.String(), fmt.Errorf("version %d is stale", state.Version))
	default:
		state.ID = stored.ID
		state.CreatedAt = stored.CreatedAt
	}
	state.Version++
	r.states[key] = *state
	return nil
}
