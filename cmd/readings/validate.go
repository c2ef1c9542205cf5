package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jamesprial/readings/internal/tasks"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and its tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), *configPath)
		},
	}
}

// runValidate prints one line per problem. Invalid tasks are reported but do
// not fail validation, matching how the agent loads them.
func runValidate(w io.Writer, path string) error {
	cfg, err := loadConfig(path, slog.New(slog.NewTextHandler(w, nil)))
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", color.RedString("✗"), path, err)
		return err
	}
	fmt.Fprintf(w, "%s %s: configuration is valid\n", color.GreenString("✓"), path)

	report := tasks.Load(tasks.NewRegistry(), cfg.Tasks, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fmt.Fprintf(w, "%s %d tasks loaded, %d active\n", color.GreenString("✓"), report.Loaded, report.Active)
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "%s task %q skipped: %s\n", color.YellowString("!"), s.Name, s.Reason)
	}
	return nil
}
