package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jamesprial/readings/internal/tasks"
)

func newTasksCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks defined in the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasks(cmd.OutOrStdout(), *configPath)
		},
	}
}

func runTasks(w io.Writer, path string) error {
	cfg, err := loadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}

	reg := tasks.NewRegistry()
	report := tasks.Load(reg, cfg.Tasks, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tACTIVE\tTHRESHOLD\tPAYLOAD")
	for _, t := range reg.Tasks() {
		s := t.Summary()
		active := color.GreenString("yes")
		if !s.Active {
			active = color.YellowString("no")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Type, active, s.Threshold, s.Payload)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range report.Skipped {
		fmt.Fprintf(w, "%s %q: %s\n", color.RedString("skipped"), s.Name, s.Reason)
	}
	return nil
}
