// =============================================================================
// Billing Summary - Dual-Source Reconciler
// =============================================================================
//
// The reconciler merges a ledger feed (primary lines) with a tax feed
// (secondary items) that share a composite document key.
//
// PROCESSING:
//   1. Index the tax feed by document key, once, before any ledger line
//   2. Fold ledger lines per document, accumulating the taxable amount
//   3. The first time a document with tax data is touched, sum its tax
//      entries from the index and mark it taxCalculated; every later line of
//      the same document skips this step
//   4. Finalize: grand total = ledger amount + tax amount, rounded
//
// Status flags (reversed, missing reference) come from the first ledger line
// of a document. Amounts are not clamped.
//
// =============================================================================

package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// Result is a finalized reconciliation.
type Result struct {
	Documents []*types.ReconciledDocument
	Skipped   []types.SkippedItem

	// Unmatched lists tax-feed documents with no ledger line. They are not
	// part of any total.
	Unmatched []types.DocumentKey

	index map[types.DocumentKey]*types.ReconciledDocument
}

// Get returns the document for key.
func (r *Result) Get(key types.DocumentKey) (*types.ReconciledDocument, bool) {
	d, ok := r.index[key]
	return d, ok
}

// GrandTotal sums the grand totals of every document.
func (r *Result) GrandTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range r.Documents {
		total = total.Add(d.GrandTotal)
	}
	return total
}

// Reconciler folds the two feeds.
type Reconciler struct {
	logger *zap.Logger
}

// New returns a Reconciler. A nil logger disables logging.
func New(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger}
}

// SecondaryIndex groups tax entries by document key.
type SecondaryIndex map[types.DocumentKey][]types.SecondaryItem

// BuildSecondaryIndex indexes items; entries with an incomplete key are
// dropped.
func BuildSecondaryIndex(items []types.SecondaryItem) (SecondaryIndex, int) {
	idx := make(SecondaryIndex)
	dropped := 0
	for _, it := range items {
		if !it.Key.Complete() {
			dropped++
			continue
		}
		idx[it.Key] = append(idx[it.Key], it)
	}
	return idx, dropped
}

// Reconcile merges primary and secondary into one document per key.
func (r *Reconciler) Reconcile(primary []types.PrimaryLine, secondary []types.SecondaryItem) *Result {
	index, dropped := BuildSecondaryIndex(secondary)
	if dropped > 0 {
		r.logger.Warn("tax entries without a complete document key ignored", zap.Int("count", dropped))
	}

	docs := make(map[types.DocumentKey]*types.ReconciledDocument)
	var skipped []types.SkippedItem

	for i, line := range primary {
		if !line.Key.Complete() {
			skipped = append(skipped, types.SkippedItem{
				Index:  i,
				Reason: fmt.Sprintf("incomplete document key %q", line.Key.String()),
			})
			continue
		}

		doc, ok := docs[line.Key]
		if !ok {
			doc = newDocument(line, len(index[line.Key]) > 0)
			docs[line.Key] = doc
		}

		doc.PrimaryAmount = doc.PrimaryAmount.Add(aggregation.CoerceAmount(line.TaxableAmount))
		aggregation.FillAttributes(doc.Attributes, line.Attributes)

		if doc.HasSecondaryData && !doc.TaxCalculated {
			applyTax(doc, index[line.Key])
			doc.TaxCalculated = true
		}

		doc.Lines = append(doc.Lines, line)
	}

	result := &Result{
		Documents: make([]*types.ReconciledDocument, 0, len(docs)),
		Skipped:   skipped,
		index:     docs,
	}
	for _, doc := range docs {
		finalize(doc)
		result.Documents = append(result.Documents, doc)
	}
	sort.SliceStable(result.Documents, func(i, j int) bool {
		return result.Documents[i].Key.Less(result.Documents[j].Key)
	})

	for key := range index {
		if _, matched := docs[key]; !matched {
			result.Unmatched = append(result.Unmatched, key)
		}
	}
	sort.Slice(result.Unmatched, func(i, j int) bool {
		return result.Unmatched[i].Less(result.Unmatched[j])
	})

	return result
}

func newDocument(first types.PrimaryLine, hasSecondary bool) *types.ReconciledDocument {
	return &types.ReconciledDocument{
		Key:              first.Key,
		Attributes:       make(map[string]string, len(first.Attributes)),
		PrimaryAmount:    decimal.Zero,
		TaxAmount:        decimal.Zero,
		TaxBaseAmount:    decimal.Zero,
		HasSecondaryData: hasSecondary,
		Reversed:         first.Reversed,
		MissingReference: strings.TrimSpace(first.Reference) == "",
	}
}

// applyTax sums a document's tax entries. Callers guard it with
// TaxCalculated so it runs once per document.
func applyTax(doc *types.ReconciledDocument, items []types.SecondaryItem) {
	for _, it := range items {
		doc.TaxAmount = doc.TaxAmount.Add(aggregation.CoerceAmount(it.TaxAmount))
		doc.TaxBaseAmount = doc.TaxBaseAmount.Add(aggregation.CoerceAmount(it.TaxBaseAmount))
	}
	doc.TaxItemCount = len(items)
}

func finalize(doc *types.ReconciledDocument) {
	doc.GrandTotal = aggregation.Round2(doc.PrimaryAmount.Add(doc.TaxAmount))
	doc.PrimaryAmount = aggregation.Round2(doc.PrimaryAmount)
	doc.TaxAmount = aggregation.Round2(doc.TaxAmount)
	doc.TaxBaseAmount = aggregation.Round2(doc.TaxBaseAmount)
}

// =============================================================================
// FEED LOADING
// =============================================================================

// Feeds describes the two paged sources of a reconciliation pass.
type Feeds struct {
	Primary          pagination.PageSource[types.PrimaryLine]
	Secondary        pagination.PageSource[types.SecondaryItem]
	PageSize         int
	PrimaryFilters   pagination.Filters
	SecondaryFilters pagination.Filters
}

// Load drains both feeds and reconciles them. The secondary feed is drained
// first so its index is complete before the first ledger line is folded.
func (r *Reconciler) Load(ctx context.Context, feeds Feeds) (*Result, error) {
	secondary, err := pagination.Drain(ctx, feeds.Secondary, feeds.PageSize, feeds.SecondaryFilters, r.logger)
	if err != nil {
		return nil, fmt.Errorf("secondary feed: %w", err)
	}
	primary, err := pagination.Drain(ctx, feeds.Primary, feeds.PageSize, feeds.PrimaryFilters, r.logger)
	if err != nil {
		return nil, fmt.Errorf("primary feed: %w", err)
	}

	r.logger.Info("reconciling",
		zap.Int("primary_lines", len(primary)),
		zap.Int("secondary_items", len(secondary)),
	)
	return r.Reconcile(primary, secondary), nil
}
