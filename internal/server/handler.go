// Package server exposes the review engine, the cron manager and the
// notification task over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/at-ishikawa/langner-review/internal/config"
	"github.com/at-ishikawa/langner-review/internal/cron"
	"github.com/at-ishikawa/langner-review/internal/notification"
	"github.com/at-ishikawa/langner-review/internal/review"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReviewEngine is the part of review.Engine served over HTTP.
type ReviewEngine interface {
	SubmitGrade(ctx context.Context, in review.GradeInput) (*review.ReviewState, error)
	Suspend(ctx context.Context, key review.Key) (*review.ReviewState, error)
	Unsuspend(ctx context.Context, key review.Key) (*review.ReviewState, error)
	GetState(ctx context.Context, key review.Key) (*review.ReviewState, error)
	DueItems(ctx context.Context, userID string, now time.Time) ([]review.DueItem, error)
	Now() time.Time
}

// Scheduler is the part of cron.Manager served over HTTP.
type Scheduler interface {
	GetAllJobsStatus() []cron.JobStatus
	TriggerJob(ctx context.Context, name string) cron.TriggerResult
}

// DueCardsRunner runs one due-cards scan.
type DueCardsRunner interface {
	Run(ctx context.Context) (notification.Summary, error)
}

// NotificationService handles user-initiated notification changes.
type NotificationService interface {
	Snooze(ctx context.Context, userID string, d time.Duration) (notification.SnoozeResult, error)
	ClearCooldown(ctx context.Context, userID string) (int64, error)
}

// Handler serves the HTTP API.
type Handler struct {
	cfg           *config.Config
	engine        ReviewEngine
	scheduler     Scheduler
	dueCards      DueCardsRunner
	notifications NotificationService
	// ping checks the storage for /healthz. Nil means always healthy.
	ping func(ctx context.Context) error
}

func NewHandler(
	cfg *config.Config,
	engine ReviewEngine,
	scheduler Scheduler,
	dueCards DueCardsRunner,
	notifications NotificationService,
	ping func(ctx context.Context) error,
) *Handler {
	return &Handler{
		cfg:           cfg,
		engine:        engine,
		scheduler:     scheduler,
		dueCards:      dueCards,
		notifications: notifications,
		ping:          ping,
	}
}

// Routes builds the router with every endpoint and middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: h.cfg.Server.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         3600,
	}).Handler)

	r.Get("/healthz", h.healthz)

	r.Route("/admin/cron", func(r chi.Router) {
		r.Use(h.requireSecret(secretFromQuery))
		r.Get("/", h.listJobs)
		r.Post("/", h.triggerJob)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.With(h.requireSecretOrDevMode).Get("/cron/check-due-cards", h.checkDueCards)
		r.With(h.requireSession).Post("/snooze", h.snooze)
		r.With(h.requireSessionOrSecret).Post("/clear-cooldown", h.clearCooldown)
	})

	r.Route("/reviews", func(r chi.Router) {
		r.Use(h.requireSession)
		r.Get("/due", h.dueItems)
		r.Route("/{itemKind}/{itemId}", func(r chi.Router) {
			r.Get("/", h.getState)
			r.Post("/grade", h.submitGrade)
			r.Post("/suspend", h.suspend)
			r.Post("/unsuspend", h.unsuspend)
		})
	})
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
