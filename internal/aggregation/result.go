package aggregation

import (
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/billing-summary/internal/types"
)

// Result is a finalized aggregation: groups in display order plus the
// diagnostics for skipped lines.
type Result struct {
	Groups  []*types.AggregatedGroup
	Skipped []types.SkippedItem

	index map[types.GroupKey]*types.AggregatedGroup
}

// Get returns the group for key.
func (r *Result) Get(key types.GroupKey) (*types.AggregatedGroup, bool) {
	if r == nil {
		return nil, false
	}
	g, ok := r.index[key]
	return g, ok
}

// Len is the number of groups.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Groups)
}

// Keys returns the group keys in display order.
func (r *Result) Keys() []types.GroupKey {
	keys := make([]types.GroupKey, 0, r.Len())
	if r == nil {
		return keys
	}
	for _, g := range r.Groups {
		keys = append(keys, g.Key)
	}
	return keys
}

// AttachText sets each group's text from texts. Groups without an entry get
// the empty record.
func (r *Result) AttachText(texts map[types.GroupKey]types.TextRecord) {
	if r == nil {
		return
	}
	for _, g := range r.Groups {
		g.Text = texts[g.Key]
	}
}

// Totals sums net and invoice amounts over all groups.
func (r *Result) Totals() (net, invoice decimal.Decimal) {
	net, invoice = decimal.Zero, decimal.Zero
	if r == nil {
		return net, invoice
	}
	for _, g := range r.Groups {
		net = net.Add(g.NetAmount)
		invoice = invoice.Add(g.InvoiceAmount)
	}
	return net, invoice
}
