package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/at-ishikawa/langner-review/internal/bootstrap"
	"github.com/at-ishikawa/langner-review/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cron scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loadConfig() > %w", err)
	}

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}

	app := bootstrap.New(cfg.Server.ShutdownTimeout)
	app.AddShutdownHook("storage", func(context.Context) error {
		return c.Close()
	})

	if cfg.SchedulerEnabled() {
		c.scheduler.StartAll()
		app.AddShutdownHook("scheduler", c.scheduler.StopAll)
	} else {
		slog.Default().Info("cron scheduler disabled",
			"environment", cfg.Environment,
			"hint", "set ENABLE_CRON_SCHEDULER=true to run jobs outside production")
	}

	handler := server.NewHandler(cfg, c.engine, c.scheduler, c.dueCards, c.notifications, c.ping)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           h2c.NewHandler(handler.Routes(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.AddShutdownHook("http", srv.Shutdown)

	return app.Run(ctx, func(ctx context.Context) error {
		slog.Default().Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}
