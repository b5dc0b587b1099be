package server

import (
	"net/http"
	"time"
)

type snoozeRequest struct {
	// Duration is in seconds.
	Duration int `json:"duration" validate:"required"`
}

func (h *Handler) snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.notifications.Snooze(r.Context(), userIDFrom(r.Context()), time.Duration(req.Duration)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type clearCooldownResponse struct {
	Deleted int64 `json:"deleted"`
}

// clearCooldown clears the session user's cooldown. A secret-authenticated
// call clears the user given by ?userId=, or every user when it is empty.
func (h *Handler) clearCooldown(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}

	deleted, err := h.notifications.ClearCooldown(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearCooldownResponse{Deleted: deleted})
}
