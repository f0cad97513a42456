// =============================================================================
// Billing Summary - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. All other commands
// are attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (billsum)
//   ├── summarizeCmd (billsum summarize)
//   ├── reconcileCmd (billsum reconcile)
//   ├── scheduleCmd  (billsum schedule)
//   ├── validateCmd  (billsum validate)
//   └── versionCmd   (billsum version)
//
// The root command owns the global flags (--config, --verbose) and the
// shared setup every run goes through: load the configuration, then build
// the zap logger it describes.
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose forces debug logging regardless of log_level.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "billsum",
	Short: "Billing Summary - Group, total and reconcile billing line items",
	Long: `Billing Summary reads billing condition lines from paged feeds (CSV, XLSX
or SQLite), folds them into per-document or per-item groups with net and
invoice totals, and writes the result as XML.

Key Features:
  - Condition taxonomy maintained in YAML or an XLSX workbook
  - Paged loading with load-more semantics and progress reporting
  - Batched, cached text enrichment from a SQLite table
  - Ledger/tax reconciliation with tax computed once per document

Example Usage:
  billsum summarize                    # Summarize the configured feed
  billsum reconcile --config ./r.yaml  # Reconcile ledger and tax feeds
  billsum validate                     # Check the configuration only`,

	SilenceUsage:  true,
	SilenceErrors: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		failure(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// setup loads the configuration and installs the configured logger as the
// zap global. The returned func flushes and closes the logger.
func setup() (*config.MainConfig, *zap.Logger, func(), error) {
	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load main config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level: level,
		File:  cfg.LogFile,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	restore := zap.ReplaceGlobals(logger)
	cleanup := func() {
		restore()
		closeLog()
	}
	return cfg, logger, cleanup, nil
}
