package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/converter"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without loading any data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	header("Configuration Check")

	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return err
	}
	success("Loaded " + cfgFile)

	tx, err := cfg.BuildTaxonomy()
	if err != nil {
		return err
	}
	success(fmt.Sprintf("Taxonomy: %s (base %s)", strings.Join(tx.Codes(), ", "), tx.BaseCode()))

	feeds := []struct {
		name string
		feed config.FeedConfig
	}{
		{"feed", cfg.Feed},
		{"reconcile.primary", cfg.Reconcile.Primary},
		{"reconcile.secondary", cfg.Reconcile.Secondary},
	}
	for _, f := range feeds {
		if f.feed.Type == "" {
			info(f.name + ": not configured")
			continue
		}
		if _, err := converter.NewTransformer(f.feed.TransformationRules); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		success(fmt.Sprintf("%s: %s %s", f.name, f.feed.Type, f.feed.Path))
	}

	if cfg.Schedule.Summarize != "" {
		success("Schedule summarize: " + cfg.Schedule.Summarize)
	}
	if cfg.Schedule.Reconcile != "" {
		success("Schedule reconcile: " + cfg.Schedule.Reconcile)
	}

	if cfg.Enrichment.Enabled {
		success(fmt.Sprintf("Enrichment: %s/%s, batches of %d every %s",
			cfg.Enrichment.Source.Path, cfg.Enrichment.Source.Table,
			cfg.Enrichment.BatchSize, cfg.Enrichment.BatchDelay))
	}
	return nil
}
