package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newGradeRequestsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "grade-requests",
		Short: "Grade request ledger commands",
	}
	command.AddCommand(&cobra.Command{
		Use:   "gc",
		Short: "Delete grade requests older than review.ledger_retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loadConfig() > %w", err)
			}
			ctx := context.Background()
			c, err := newComponents(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = c.Close()
			}()

			deleted, err := c.janitor.Run(ctx)
			if err != nil {
				return fmt.Errorf("janitor.Run() > %w", err)
			}
			fmt.Printf("Deleted %d grade requests\n", deleted)
			return nil
		},
	})
	return command
}
