// =============================================================================
// Billing Summary - Summarize Command
// =============================================================================
//
// This file defines the 'summarize' command, which loads the configured
// billing feed page by page, groups and totals its condition lines and
// writes the billing summary XML.
//
// COMMAND USAGE:
//   billsum summarize [flags]
//
// FLAGS:
//   --max-pages : Stop after this many pages (overrides pagination.max_pages)
//   --no-texts  : Skip text enrichment even when it is enabled
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/billing-summary/internal/converter"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

var (
	maxPages int
	noTexts  bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Group and total the billing feed and write the summary XML",
	Long: `The summarize command loads the billing feed described by the 'feed'
section, folds its condition lines into groups (per item or per document)
and writes one XML file with every group's conditions, net amount and
invoice amount.

Lines without a document number are skipped and listed in the output.
A failed page fetch aborts the run and leaves an error log in the output
directory; nothing partial is written.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runSummarize(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)

	summarizeCmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after this many pages (0 loads everything)")
	summarizeCmd.Flags().BoolVar(&noTexts, "no-texts", false, "Skip text enrichment")
}

func runSummarize(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if maxPages > 0 {
		cfg.Pagination.LoadAll = false
		cfg.Pagination.MaxPages = maxPages
	}
	if noTexts {
		cfg.Enrichment.Enabled = false
	}

	header("Billing Summary")
	info(fmt.Sprintf("Feed: %s (%s)", cfg.Feed.Path, cfg.Feed.Type))

	conv := converter.New(cfg, converter.Options{
		Logger: logger,
		OnProgress: func(p types.Progress) {
			if p.Loading {
				step(p.CurrentStep, p.TotalSteps, p.Step)
			}
		},
	})

	result, err := conv.Summarize(ctx)
	if err != nil {
		return err
	}

	net, invoice := result.Snapshot.Result.Totals()
	fmt.Println()
	success(fmt.Sprintf("%d group(s) from %d line(s) in %d page(s)",
		result.Stats.Results, result.Stats.Records, result.Stats.Pages))
	info("Net total:     " + formatAmount(net))
	info("Invoice total: " + formatAmount(invoice))
	if result.Stats.Skipped > 0 {
		warning(fmt.Sprintf("%d line(s) skipped", result.Stats.Skipped))
	}
	if result.Stats.Warnings > 0 {
		warning(fmt.Sprintf("%d line quality warning(s); see the debug log", result.Stats.Warnings))
	}
	if result.Stats.TextDegraded > 0 {
		warning(fmt.Sprintf("%d group(s) without text after lookup failures", result.Stats.TextDegraded))
	}
	if result.Snapshot.HasMore {
		warning("more pages available; raise --max-pages to load them")
	}
	success("Output: " + result.OutputFile)
	if result.SummaryFile != "" {
		info("Summary: " + result.SummaryFile)
	}
	return nil
}
