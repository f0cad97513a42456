// =============================================================================
// Billing Summary - Reconcile Command
// =============================================================================
//
// This file defines the 'reconcile' command. It drains the ledger feed
// (reconcile.primary) and the tax feed (reconcile.secondary), folds them into
// one record per document and writes the reconciliation XML.
//
// COMMAND USAGE:
//   billsum reconcile
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
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile ledger lines with tax entries per document",
	Long: `The reconcile command joins the ledger and tax feeds on company code,
document number and fiscal year. Tax is summed once per document no matter
how many ledger lines the document has. Tax entries whose document has no
ledger line are listed as unmatched and left out of every total.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(ctx context.Context) error {
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

	header("Billing Reconciliation")
	info(fmt.Sprintf("Ledger: %s (%s)", cfg.Reconcile.Primary.Path, cfg.Reconcile.Primary.Type))
	info(fmt.Sprintf("Tax:    %s (%s)", cfg.Reconcile.Secondary.Path, cfg.Reconcile.Secondary.Type))

	step(1, 2, "loading feeds")
	result, err := converter.New(cfg, converter.Options{Logger: logger}).Reconcile(ctx)
	if err != nil {
		return err
	}
	step(2, 2, "done")

	fmt.Println()
	success(fmt.Sprintf("%d document(s) from %d ledger line(s)", result.Stats.Results, result.Stats.Records))
	info("Grand total: " + formatAmount(result.Reconciliation.GrandTotal()))
	if result.Stats.Unmatched > 0 {
		warning(fmt.Sprintf("%d tax document(s) without ledger lines", result.Stats.Unmatched))
	}
	if result.Stats.Skipped > 0 {
		warning(fmt.Sprintf("%d ledger line(s) skipped", result.Stats.Skipped))
	}
	success("Output: " + result.OutputFile)
	return nil
}
