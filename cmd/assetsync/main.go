// Package main is the entry point for the assetsync command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/assetsync/internal/config"
	"github.com/dshills/assetsync/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	configFile string
	envFile    string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "assetsync",
	Short: "Keep a resource project in sync with its files",
	Long: `assetsync watches a project directory, keeps its manifest consistent with the
resources found on disk, and runs the build and watch commands each resource declares.

Configuration is read from the TOML file given by --config, then from --env-file,
then from ASSETSYNC_* environment variables.`,
	Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "assetsync.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(scanCmd, watchCmd, buildCmd, initCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(config.Options{File: configFile, EnvFile: envFile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	cfg = loaded
	return logging.Init(cfg.LoggingConfig())
}

func main() {
	err := rootCmd.Execute()
	_ = logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}
