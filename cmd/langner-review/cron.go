package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/at-ishikawa/langner-review/internal/config"
	"github.com/at-ishikawa/langner-review/internal/cron"
)

func newCronCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "cron",
		Short: "Cron job commands",
	}
	command.AddCommand(newCronListCommand())
	return command
}

type cronJobView struct {
	Name     string     `yaml:"name"`
	Task     string     `yaml:"task"`
	Schedule string     `yaml:"schedule"`
	Timezone string     `yaml:"timezone"`
	Enabled  bool       `yaml:"enabled"`
	NextRun  *time.Time `yaml:"nextRun,omitempty"`
}

func newCronListCommand() *cobra.Command {
	var output string
	command := &cobra.Command{
		Use:   "list",
		Short: "List configured cron jobs and their next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loadConfig() > %w", err)
			}
			views, err := cronJobViews(cfg.Cron.Jobs, time.Now())
			if err != nil {
				return err
			}
			return printCronJobs(os.Stdout, views, output)
		},
	}
	command.Flags().StringVarP(&output, "output", "o", outputText, "output format (text or yaml)")
	return command
}

func cronJobViews(jobs map[string]config.JobConfig, now time.Time) ([]cronJobView, error) {
	views := make([]cronJobView, 0, len(jobs))
	for name, job := range jobs {
		sched, err := cron.ParseSchedule(job.Schedule, job.Timezone)
		if err != nil {
			return nil, fmt.Errorf("cron job %s > %w", name, err)
		}
		view := cronJobView{
			Name:     name,
			Task:     job.Task,
			Schedule: job.Schedule,
			Timezone: job.Timezone,
			Enabled:  job.Enabled,
		}
		if job.Enabled {
			next := sched.Next(now)
			view.NextRun = &next
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Name < views[j].Name
	})
	return views, nil
}

func printCronJobs(w io.Writer, views []cronJobView, output string) error {
	if output == outputYAML {
		return encodeYAML(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTASK\tSCHEDULE\tTIMEZONE\tSTATUS\tNEXT RUN")
	for _, v := range views {
		status := color.RedString("disabled")
		next := "-"
		if v.Enabled {
			status = color.GreenString("enabled")
			next = v.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.Task, v.Schedule, v.Timezone, status, next)
	}
	return tw.Flush()
}
