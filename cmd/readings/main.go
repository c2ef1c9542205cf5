// Package main is the entry point for the readings agent.
package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jamesprial/readings/internal/config"
)

const (
	defaultConfigPath = "/config/config.yaml"
	configPathEnv     = "READINGS_CONFIG_PATH"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var errVersionFatal = errors.New("unsupported configuration version")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.SetFlags(0)
		log.Println(color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "readings",
		Short:         "Remote node resource monitor and threshold automation",
		Long:          `readings watches the resource usage of one remote node and runs power, broadcast and console command tasks when usage crosses configured thresholds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath(), "path to the configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newValidateCmd(&configPath),
		newTasksCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// defaultPath returns READINGS_CONFIG_PATH or /config/config.yaml.
func defaultPath() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads path, applies environment overrides and checks the
// version and the panel settings. An outdated version only warns.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	status, err := cfg.CheckVersion()
	switch status {
	case config.VersionOutdated:
		logger.Warn("configuration version is outdated, regenerate it from the sample to pick up new settings",
			slog.Int("expected", config.ExpectedVersion),
			slog.Int("got", cfg.Version),
		)
	case config.VersionMissing, config.VersionNewer:
		return nil, fmt.Errorf("%w: %w", errVersionFatal, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
