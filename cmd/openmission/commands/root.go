package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmission/openmission/pkg/stores"
	"github.com/openmission/openmission/pkg/telemetry"
)

var (
	// Global flags
	logLevel    string
	logFormat   string
	archivePath string
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "openmission",
		Short: "OpenMission - Instrument Mission Execution Engine",
		Long: `OpenMission executes declarative mission definitions against ocean
observatory instruments. A mission is a set of concurrent threads,
each triggered by time or by another thread's events, issuing
instrument commands with per-thread retry, skip, and abort policy.

Features:
  - YAML and CUE mission definitions
  - Time, interval, and event-chained thread triggers
  - Per-thread error handling (retry, skip, abort)
  - Rego policy gate before every run
  - SQLite run archive with full event history
  - SSH gateway transport for real instruments`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&archivePath, "archive", "openmission.db", "run archive database path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newSamplesCommand())

	return rootCmd
}

// newCommandLogger builds the structured logger the subcommands share.
func newCommandLogger() (*telemetry.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:      logLevel,
		Format:     logFormat,
		Output:     "stderr",
		TimeFormat: "rfc3339",
	})
}

// openArchive opens the run archive and applies pending migrations.
// The caller owns the returned store and must Close it.
func openArchive(ctx context.Context) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: archivePath})
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize run archive: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate run archive: %w", err)
	}
	return store, nil
}
