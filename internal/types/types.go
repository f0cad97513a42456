// =============================================================================
// Billing Summary - Shared Types
// =============================================================================
//
// This package contains the record types shared by the feed adapters, the
// aggregation engine, the enrichment service, the reconciler and the export
// writer. Keeping them here avoids import cycles between those packages.
//
// RECORD FLOW:
//   feed rows -> RawLineItem -> AggregatedGroup
//   feed rows -> PrimaryLine + SecondaryItem -> ReconciledDocument
//
// =============================================================================

package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LINE ITEM TYPES
// =============================================================================

// GroupKey is the deterministic composite identifier that folds many raw
// lines into one AggregatedGroup.
type GroupKey string

// RawLineItem is one denormalized billing line as delivered by a feed.
// A line carries at most one condition type and amount.
type RawLineItem struct {
	// Index is the position of the line in the accumulated feed (0-based).
	// It is used for skipped-line diagnostics.
	Index int

	// PrimaryKey is the document number (billing document or sales order).
	PrimaryKey string

	// SecondaryKey is the item number within the document. May be empty.
	SecondaryKey string

	// ConditionType is the pricing condition code. Empty when the line
	// carries no condition.
	ConditionType string

	// ConditionAmount is the raw condition amount: nil, a numeric string,
	// or any numeric value a source driver returns.
	ConditionAmount any

	// Quantity is the raw billed quantity, coerced like ConditionAmount.
	Quantity any

	// Material is the material number of the line.
	Material string

	// Attributes holds descriptive fields (customer, currency, region, ...)
	// keyed by attribute name. Any of them may be empty on a given line.
	Attributes map[string]string
}

// AggregatedGroup is the one output record per distinct GroupKey.
type AggregatedGroup struct {
	Key          GroupKey
	PrimaryKey   string
	SecondaryKey string

	// Attributes are filled first-non-empty-wins across the folded lines.
	Attributes map[string]string

	// Conditions holds one accumulator per taxonomy code, zero by default.
	Conditions map[string]decimal.Decimal

	// Material is the first non-empty material seen for the group.
	Material string

	// Quantity follows the grouping mode's quantity policy.
	Quantity decimal.Decimal

	// MixedMaterials is set when lines with a different material were
	// folded into the group and their quantities were not summed.
	MixedMaterials bool

	// NetAmount and InvoiceAmount are derived at finalization.
	NetAmount     decimal.Decimal
	InvoiceAmount decimal.Decimal

	// Text is the enrichment result for the group; empty when enrichment
	// was not run or degraded.
	Text TextRecord

	// Lines retains the folded raw lines for drill-down.
	Lines []RawLineItem
}

// Attribute returns a descriptive attribute or "" when absent.
func (g *AggregatedGroup) Attribute(name string) string {
	if g.Attributes == nil {
		return ""
	}
	return g.Attributes[name]
}

// Condition returns the accumulated amount for a condition code.
func (g *AggregatedGroup) Condition(code string) decimal.Decimal {
	return g.Conditions[code]
}

// SkippedItem is a diagnostic for a line that could not be folded.
type SkippedItem struct {
	Index  int
	Reason string
}

// =============================================================================
// TEXT TYPES
// =============================================================================

// RawText is the untyped response of an external text source, keyed by
// field name.
type RawText map[string]string

// TextRecord is the fixed-shape descriptive text attached to a group.
// The zero value is the empty-but-valid record used on lookup failure.
type TextRecord struct {
	HeaderText   string
	ItemText     string
	MaterialText string
	CustomerName string
}

// IsEmpty reports whether every text field is empty.
func (r TextRecord) IsEmpty() bool {
	return r == TextRecord{}
}

// NewTextRecord normalizes a raw response into a TextRecord. Field names are
// matched case-insensitively; unknown fields are ignored.
func NewTextRecord(raw RawText) TextRecord {
	var rec TextRecord
	for k, v := range raw {
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "header_text", "headertext":
			rec.HeaderText = v
		case "item_text", "itemtext":
			rec.ItemText = v
		case "material_text", "materialtext":
			rec.MaterialText = v
		case "customer_name", "customername":
			rec.CustomerName = v
		}
	}
	return rec
}

// =============================================================================
// RECONCILIATION TYPES
// =============================================================================

// DocumentKey identifies a document across the ledger and tax feeds.
type DocumentKey struct {
	// Entity is the primary entity, e.g. the company code.
	Entity string
	// Document is the secondary entity, e.g. the accounting document number.
	Document string
	// Period is the period identifier, e.g. the fiscal year.
	Period string
}

// String renders the key with the same separator convention as GroupKey.
func (k DocumentKey) String() string {
	return k.Entity + "_" + k.Document + "_" + k.Period
}

// Complete reports whether every component is present.
func (k DocumentKey) Complete() bool {
	return k.Entity != "" && k.Document != "" && k.Period != ""
}

// Less orders keys lexically by entity, document, then period.
func (k DocumentKey) Less(o DocumentKey) bool {
	if k.Entity != o.Entity {
		return k.Entity < o.Entity
	}
	if k.Document != o.Document {
		return k.Document < o.Document
	}
	return k.Period < o.Period
}

// PrimaryLine is one ledger-feed line.
type PrimaryLine struct {
	Index int
	Key   DocumentKey

	// TaxableAmount is accumulated per line.
	TaxableAmount any

	// Reversed and Reference are header-level fields; only the first line
	// of a document is consulted.
	Reversed  bool
	Reference string

	Attributes map[string]string
}

// SecondaryItem is one tax-feed entry.
type SecondaryItem struct {
	Key           DocumentKey
	TaxCode       string
	TaxAmount     any
	TaxBaseAmount any
}

// ReconciledDocument is the one output record per DocumentKey.
type ReconciledDocument struct {
	Key        DocumentKey
	Attributes map[string]string

	PrimaryAmount decimal.Decimal

	// Secondary-feed totals, computed once per document.
	HasSecondaryData bool
	TaxCalculated    bool
	TaxAmount        decimal.Decimal
	TaxBaseAmount    decimal.Decimal
	TaxItemCount     int

	GrandTotal decimal.Decimal

	// Status flags derived from the first primary line.
	Reversed         bool
	MissingReference bool

	Lines []PrimaryLine
}

// =============================================================================
// PROGRESS
// =============================================================================

// Progress is the advisory status emitted for a UI collaborator.
type Progress struct {
	Loading     bool
	CurrentStep int
	TotalSteps  int
	Step        string
}
