package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/langner-review/internal/notification"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

func newCheckDueCardsCommand() *cobra.Command {
	var output string
	command := &cobra.Command{
		Use:   "check-due-cards",
		Short: "Notify users who have cards due for review once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
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

			summary, err := c.dueCards.Run(ctx)
			if err != nil {
				return fmt.Errorf("dueCards.Run() > %w", err)
			}
			return printSummary(os.Stdout, summary, output)
		},
	}
	command.Flags().StringVarP(&output, "output", "o", outputText, "output format (text or yaml)")
	return command
}

func validateOutput(output string) error {
	if output != outputText && output != outputYAML {
		return fmt.Errorf("unknown output format %q", output)
	}
	return nil
}

func printSummary(w io.Writer, summary notification.Summary, output string) error {
	if output == outputYAML {
		return encodeYAML(w, summary)
	}

	fmt.Fprintf(w, "Users checked:          %d\n", summary.UsersChecked)
	fmt.Fprintf(w, "Notifications sent:     %s\n", color.GreenString("%d", summary.NotificationsSent))
	fmt.Fprintf(w, "Notifications skipped:  %s\n", color.YellowString("%d", summary.NotificationsSkipped))
	errCount := fmt.Sprintf("%d", summary.Errors)
	if summary.Errors > 0 {
		errCount = color.RedString("%d", summary.Errors)
	}
	fmt.Fprintf(w, "Errors:                 %s\n", errCount)
	return nil
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("yaml.Encode() > %w", err)
	}
	return enc.Close()
}
