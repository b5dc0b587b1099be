package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
	"github.com/at-ishikawa/langner-review/internal/item"
	"github.com/at-ishikawa/langner-review/internal/review"
)

func reviewKey(r *http.Request) (review.Key, error) {
	kind := item.Kind(chi.URLParam(r, "itemKind"))
	if !kind.Valid() {
		return review.Key{}, apperrors.Validation("unknown item kind %q", kind)
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemId"), 10, 64)
	if err != nil || itemID <= 0 {
		return review.Key{}, apperrors.Validation("invalid item id %q", chi.URLParam(r, "itemId"))
	}
	return review.Key{
		UserID:   userIDFrom(r.Context()),
		ItemID:   itemID,
		ItemKind: kind,
	}, nil
}

type gradeRequest struct {
	Grade *int `json:"grade" validate:"required"`
	// RequestID deduplicates retries. One is generated when omitted.
	RequestID string `json:"requestId" validate:"max=128"`
}

func (h *Handler) submitGrade(w http.ResponseWriter, r *http.Request) {
	key, err := reviewKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req gradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	state, err := h.engine.SubmitGrade(r.Context(), review.GradeInput{
		UserID:    key.UserID,
		ItemID:    key.ItemID,
		ItemKind:  key.ItemKind,
		Grade:     *req.Grade,
		RequestID: req.RequestID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.withKey(w, r, h.engine.Suspend)
}

func (h *Handler) unsuspend(w http.ResponseWriter, r *http.Request) {
	h.withKey(w, r, h.engine.Unsuspend)
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	h.withKey(w, r, h.engine.GetState)
}

func (h *Handler) withKey(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, key review.Key) (*review.ReviewState, error),
) {
	key, err := reviewKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	state, err := fn(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type dueItemsResponse struct {
	Items []review.DueItem `json:"items"`
}

func (h *Handler) dueItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.DueItems(r.Context(), userIDFrom(r.Context()), h.engine.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []review.DueItem{}
	}
	writeJSON(w, http.StatusOK, dueItemsResponse{Items: items})
}
