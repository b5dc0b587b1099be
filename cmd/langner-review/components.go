package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/langner-review/internal/config"
	"github.com/at-ishikawa/langner-review/internal/cron"
	"github.com/at-ishikawa/langner-review/internal/database"
	"github.com/at-ishikawa/langner-review/internal/item"
	"github.com/at-ishikawa/langner-review/internal/notification"
	"github.com/at-ishikawa/langner-review/internal/review"
)

// components holds everything a command may need, built from one config.
type components struct {
	cfg *config.Config
	db  *sqlx.DB
	now func() time.Time

	reviews       review.Repository
	engine        *review.Engine
	janitor       *review.LedgerJanitor
	dispatcher    notification.Dispatcher
	dueCards      *notification.DueCardsTask
	notifications *notification.Service
	scheduler     *cron.Manager
}

func newComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg, now: time.Now}

	var (
		items         item.Repository
		notifications notification.Repository
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		slog.Default().Warn("using in-memory storage, state is lost on exit")
		items = item.NewMemoryRepository()
		c.reviews = review.NewMemoryRepository()
		notifications = notification.NewMemoryRepository()
	default:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database.Open() > %w", err)
		}
		c.db = db
		items = item.NewDBRepository(db)
		c.reviews = review.NewDBRepository(db)
		notifications = notification.NewDBRepository(db)
	}

	dispatcher, err := notification.NewDispatcher(ctx, cfg.Notifications)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("notification.NewDispatcher() > %w", err)
	}
	c.dispatcher = dispatcher

	c.engine = review.NewEngine(c.reviews, items,
		review.WithClock(c.now),
		review.WithRetryDelay(cfg.Review.RetryDelay))
	c.janitor = review.NewLedgerJanitor(c.reviews, cfg.Review.LedgerRetention, c.now)
	c.dueCards = notification.NewDueCardsTask(c.reviews, notifications, dispatcher, notification.TaskConfig{
		MinDueCount: cfg.Notifications.MinDueCount,
		Cooldown:    cfg.Notifications.Cooldown,
	}, c.now)
	c.notifications = notification.NewService(notifications, cfg.Notifications.Cooldown, c.now)

	c.scheduler = cron.NewManager(cron.WithClock(c.now))
	c.scheduler.RegisterTask(config.DueCardsJobName, func(ctx context.Context) error {
		_, err := c.dueCards.Run(ctx)
		return err
	})
	c.scheduler.RegisterTask(config.GradeRequestsGCJob, func(ctx context.Context) error {
		_, err := c.janitor.Run(ctx)
		return err
	})
	if err := addJobs(c.scheduler, cfg.Cron.Jobs); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func addJobs(m *cron.Manager, jobs map[string]config.JobConfig) error {
	for name, job := range jobs {
		err := m.AddJob(name, cron.JobSpec{
			Schedule: job.Schedule,
			TaskName: job.Task,
			Enabled:  job.Enabled,
			Timezone: job.Timezone,
		})
		if err != nil {
			return fmt.Errorf("cron job %s > %w", name, err)
		}
	}
	return nil
}

// ping checks the storage connection. Memory storage is always reachable.
func (c *components) ping(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.PingContext(ctx)
}

// Close releases the database and dispatcher connections.
func (c *components) Close() error {
	var errs []error
	if c.dispatcher != nil {
		errs = append(errs, closeDispatcher(c.dispatcher))
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

func closeDispatcher(d notification.Dispatcher) error {
	switch d := d.(type) {
	case notification.MultiDispatcher:
		var errs []error
		for _, inner := range d {
			errs = append(errs, closeDispatcher(inner))
		}
		return errors.Join(errs...)
	case interface{ Close() error }:
		return d.Close()
	default:
		return nil
	}
}
