// =============================================================================
// Billing Summary - Main Entry Point
// =============================================================================
//
// USAGE:
//   billsum summarize  - Group and total the billing feed
//   billsum reconcile  - Reconcile ledger lines with tax entries
//   billsum schedule   - Run both on cron schedules
//   billsum validate   - Validate the configuration
//   billsum version    - Display the application version
//
// LAYOUT:
//   cmd/       : Cobra command definitions
//   internal/  : Aggregation, taxonomy, enrichment, paging and feeds
//   pkg/       : Output file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/billing-summary/cmd"
)

func main() {
	cmd.Execute()
}
