package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
	"github.com/at-ishikawa/langner-review/internal/cron"
)

type jobsResponse struct {
	Jobs []cron.JobStatus `json:"jobs"`
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: h.scheduler.GetAllJobsStatus()})
}

func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("job")
	if err := requiredParam("job", name); err != nil {
		writeError(w, r, err)
		return
	}

	// a run started from HTTP finishes even if the client goes away
	result := h.scheduler.TriggerJob(context.WithoutCancel(r.Context()), name)
	switch {
	case result.Success:
		writeJSON(w, http.StatusOK, result)
	case result.Skipped:
		writeJSON(w, http.StatusConflict, result)
	case errors.Is(result.Err, apperrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, result)
	default:
		writeJSON(w, http.StatusInternalServerError, result)
	}
}

func (h *Handler) checkDueCards(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dueCards.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
