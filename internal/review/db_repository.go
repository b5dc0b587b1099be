package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
	"github.com/at-ishikawa/langner-review/internal/database"
	"github.com/at-ishikawa/langner-review/internal/item"
)

// DBRepository implements Repository using MySQL.
type DBRepository struct {
	db *sqlx.DB
}

// NewDBRepository creates a new DBRepository.
func NewDBRepository(db *sqlx.DB) *DBRepository {
	return &DBRepository{db: db}
}

// gradeRequestRow maps grade_requests; resulting_state is stored as JSON.
type gradeRequestRow struct {
	ID             int64     `db:"id"`
	UserID         string    `db:"user_id"`
	ItemID         int64     `db:"item_id"`
	ItemKind       item.Kind `db:"item_kind"`
	RequestID      string    `db:"request_id"`
	Grade          int       `db:"grade"`
	ResultingState []byte    `db:"resulting_state"`
	ProcessedAt    time.Time `db:"processed_at"`
}

func (r *DBRepository) Get(ctx context.Context, key Key) (*ReviewState, error) {
	var state ReviewState
	err := r.db.GetContext(ctx, &state,
		"SELECT * FROM review_states WHERE user_id = ? AND item_id = ? AND item_kind = ?",
		key.UserID, key.ItemID, key.ItemKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(review_state) > %w", err)
	}
	return &state, nil
}

func (r *DBRepository) Upsert(ctx context.Context, state *ReviewState) error {
	return upsertState(ctx, r.db, state)
}

func (r *DBRepository) QueryDue(ctx context.Context, now time.Time, userID string) ([]ReviewState, error) {
	query := "SELECT * FROM review_states WHERE suspended = FALSE AND next_review_at <= ?"
	args := []any{now}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY user_id, next_review_at"

	var states []ReviewState
	if err := r.db.SelectContext(ctx, &states, query, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext(due review_states) > %w", err)
	}
	return states, nil
}

func (r *DBRepository) FindGradeRequest(ctx context.Context, userID string, itemID int64, requestID string) (*GradeRequest, error) {
	var row gradeRequestRow
	err := r.db.GetContext(ctx, &row,
		"SELECT * FROM grade_requests WHERE user_id = ? AND item_id = ? AND request_id = ?",
		userID, itemID, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(grade_request) > %w", err)
	}

	req := GradeRequest{
		UserID:      row.UserID,
		ItemID:      row.ItemID,
		ItemKind:    row.ItemKind,
		RequestID:   row.RequestID,
		Grade:       row.Grade,
		ProcessedAt: row.ProcessedAt,
	}
	if err := json.Unmarshal(row.ResultingState, &req.ResultingState); err != nil {
		return nil, fmt.Errorf("json.Unmarshal(resulting_state) > %w", err)
	}
	return &req, nil
}

func (r *DBRepository) SaveGrade(ctx context.Context, state *ReviewState, req *GradeRequest) error {
	return database.RunInTx(ctx, r.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := upsertState(ctx, tx, state); err != nil {
			return err
		}

		req.ResultingState = *state
		snapshot, err := json.Marshal(req.ResultingState)
		if err != nil {
			return fmt.Errorf("json.Marshal(resulting_state) > %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO grade_requests (user_id, item_id, item_kind, request_id, grade, resulting_state, processed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			req.UserID, req.ItemID, req.ItemKind, req.RequestID, req.Grade, snapshot, req.ProcessedAt); err != nil {
			if database.IsDuplicateEntry(err) {
				return apperrors.Concurrency("grade request "+req.RequestID, err)
			}
			return fmt.Errorf("tx.ExecContext(insert grade_request) > %w", err)
		}
		return nil
	})
}

func (r *DBRepository) DeleteGradeRequestsBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM grade_requests WHERE processed_at < ?", t)
	if err != nil {
		return 0, fmt.Errorf("db.ExecContext(delete grade_requests) > %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("result.RowsAffected() > %w", err)
	}
	return n, nil
}

func upsertState(ctx context.Context, db sqlx.ExecerContext, state *ReviewState) error {
	if state.Version == 0 {
		result, err := db.ExecContext(ctx,
			`INSERT INTO review_states (user_id, item_id, item_kind, ease_factor, interval_days, repetitions, lapses,
			next_review_at, last_reviewed_at, suspended, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			state.UserID, state.ItemID, state.ItemKind, state.EaseFactor, state.IntervalDays, state.Repetitions,
			state.Lapses, state.NextReviewAt, state.LastReviewedAt, state.Suspended, state.CreatedAt, state.UpdatedAt)
		if err != nil {
			if database.IsDuplicateEntry(err) {
				return apperrors.Concurrency(state.Key().String(), err)
			}
			return fmt.Errorf("db.ExecContext(insert review_state) > %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("result.LastInsertId() > %w", err)
		}
		state.ID = id
		state.Version = 1
		return nil
	}

	result, err := db.ExecContext(ctx,
		`UPDATE review_states SET ease_factor = ?, interval_days = ?, repetitions = ?, lapses = ?,
		next_review_at = ?, last_reviewed_at = ?, suspended = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND item_id = ? AND item_kind = ? AND version = ?`,
		state.EaseFactor, state.IntervalDays, state.Repetitions, state.Lapses,
		state.NextReviewAt, state.LastReviewedAt, state.Suspended, state.UpdatedAt,
		state.UserID, state.ItemID, state.ItemKind, state.Version)
	if err != nil {
		return fmt.Errorf("db.ExecContext(update review_state) > %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("result.RowsAffected() > %w", err)
	}
	if n == 0 {
		return apperrors.Concurrency(state.Key().String(), fmt.Errorf("version %d is stale", state.Version))
	}
	state.Version++
	return nil
}
