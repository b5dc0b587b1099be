package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/langner-review/internal/config"
	"github.com/at-ishikawa/langner-review/internal/database"
	"github.com/at-ishikawa/langner-review/schemas"
)

func newMigrateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	command.AddCommand(newMigrateDirectionCommand(database.MigrateUp, "Apply pending migrations"))
	command.AddCommand(newMigrateDirectionCommand(database.MigrateDown, "Revert applied migrations"))
	return command
}

func newMigrateDirectionCommand(direction database.MigrationDirection, short string) *cobra.Command {
	var steps int
	command := &cobra.Command{
		Use:   string(direction),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loadConfig() > %w", err)
			}
			if cfg.Storage.Driver != config.StorageDriverMySQL {
				return fmt.Errorf("migrations need storage.driver %q, got %q", config.StorageDriverMySQL, cfg.Storage.Driver)
			}

			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("database.Open() > %w", err)
			}
			defer func() {
				_ = db.Close()
			}()

			if err := database.Migrate(db, schemas.Migrations, direction, steps); err != nil {
				return err
			}
			fmt.Printf("Migrations %s done\n", direction)
			return nil
		},
	}
	command.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 means all)")
	return command
}
