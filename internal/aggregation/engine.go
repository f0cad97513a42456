// =============================================================================
// Billing Summary - Grouping & Aggregation Engine
// =============================================================================
//
// The engine folds a sequence of raw billing lines into one record per group
// key. It is a pure, synchronous fold: no I/O, no goroutines, deterministic
// first-wins fill order.
//
// FOLD (per line):
//   1. Derive the GroupKey (skip the line with a diagnostic if it has none)
//   2. Create the group on first sight, zeroing every taxonomy accumulator
//   3. Add the line's condition amount to its taxonomy slot
//   4. Fill still-empty descriptive attributes (first non-empty wins)
//   5. Apply the grouping mode's quantity policy
//   6. Retain the raw line for drill-down
//
// FINALIZATION (per group, after every line is folded):
//   net     = |base price accumulator|
//   invoice = net + additive roles - |subtractive roles|
//   both rounded to 2 decimals; invoice optionally clamped at zero
//
// =============================================================================

package aggregation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// =============================================================================
// GROUPING MODES
// =============================================================================

// Mode selects which key tuple lines are grouped by.
type Mode string

const (
	// ModeItem groups by document number and item number.
	ModeItem Mode = "item"
	// ModeDocument groups by document number only.
	ModeDocument Mode = "document"
)

// QuantityPolicy controls how line quantities combine inside a group.
type QuantityPolicy string

const (
	// QuantitySum adds every line's quantity.
	QuantitySum QuantityPolicy = "sum"
	// QuantityFirst keeps the first supplied quantity; later lines are
	// header-level repeats and are not re-summed.
	QuantityFirst QuantityPolicy = "first"
	// QuantitySumSameMaterial sums while the material matches the group's
	// material and flags the group as mixed otherwise.
	QuantitySumSameMaterial QuantityPolicy = "sum_same_material"
)

const (
	// DefaultSeparator joins key tuple fields.
	DefaultSeparator = "_"
	// DefaultItemSentinel replaces a missing item number.
	DefaultItemSentinel = "000010"
)

// ErrMissingPrimaryKey marks a line without a document number.
var ErrMissingPrimaryKey = errors.New("missing primary key")

// DefaultQuantityPolicy is the policy used when a mode is configured without
// one.
func (m Mode) DefaultQuantityPolicy() QuantityPolicy {
	if m == ModeDocument {
		return QuantityFirst
	}
	return QuantitySumSameMaterial
}

// =============================================================================
// ENGINE
// =============================================================================

// Options configures an Engine.
type Options struct {
	Mode           Mode
	QuantityPolicy QuantityPolicy
	Separator      string
	DefaultItem    string

	// ClampNegative clamps the invoice amount at zero.
	ClampNegative bool

	Logger *zap.Logger
}

// Engine folds raw lines into aggregated groups.
type Engine struct {
	taxonomy *taxonomy.Taxonomy
	opts     Options
	logger   *zap.Logger
}

// NewEngine validates the options and returns an engine bound to tx.
func NewEngine(tx *taxonomy.Taxonomy, opts Options) (*Engine, error) {
	if tx == nil {
		return nil, errors.New("aggregation: nil taxonomy")
	}
	if opts.Mode == "" {
		opts.Mode = ModeItem
	}
	switch opts.Mode {
	case ModeItem, ModeDocument:
	default:
		return nil, fmt.Errorf("aggregation: unknown grouping mode %q", opts.Mode)
	}
	if opts.QuantityPolicy == "" {
		opts.QuantityPolicy = opts.Mode.DefaultQuantityPolicy()
	}
	switch opts.QuantityPolicy {
	case QuantitySum, QuantityFirst, QuantitySumSameMaterial:
	default:
		return nil, fmt.Errorf("aggregation: unknown quantity policy %q", opts.QuantityPolicy)
	}
	if opts.Separator == "" {
		opts.Separator = DefaultSeparator
	}
	if opts.DefaultItem == "" {
		opts.DefaultItem = DefaultItemSentinel
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{taxonomy: tx, opts: opts, logger: logger}, nil
}

// Taxonomy returns the engine's taxonomy.
func (e *Engine) Taxonomy() *taxonomy.Taxonomy {
	return e.taxonomy
}

// Key derives the GroupKey for a line.
func (e *Engine) Key(item types.RawLineItem) (types.GroupKey, error) {
	primary := strings.TrimSpace(item.PrimaryKey)
	if primary == "" {
		return "", ErrMissingPrimaryKey
	}
	if e.opts.Mode == ModeDocument {
		return types.GroupKey(primary), nil
	}
	return types.GroupKey(primary + e.opts.Separator + e.itemNumber(item)), nil
}

func (e *Engine) itemNumber(item types.RawLineItem) string {
	if s := strings.TrimSpace(item.SecondaryKey); s != "" {
		return s
	}
	return e.opts.DefaultItem
}

// groupState is the per-group fold accumulator.
type groupState struct {
	group       *types.AggregatedGroup
	quantitySet bool
}

// Aggregate folds items and finalizes every group. A line without a primary
// key is skipped and reported; the fold never fails as a whole.
func (e *Engine) Aggregate(items []types.RawLineItem) *Result {
	index := make(map[types.GroupKey]*groupState)
	var skipped []types.SkippedItem

	for i, item := range items {
		key, err := e.Key(item)
		if err != nil {
			skipped = append(skipped, types.SkippedItem{Index: i, Reason: err.Error()})
			e.logger.Debug("skipping line", zap.Int("index", i), zap.Error(err))
			continue
		}

		st, ok := index[key]
		if !ok {
			st = &groupState{group: e.newGroup(key, item)}
			index[key] = st
		}
		e.fold(st, item)
	}

	result := &Result{
		Groups:  make([]*types.AggregatedGroup, 0, len(index)),
		Skipped: skipped,
		index:   make(map[types.GroupKey]*types.AggregatedGroup, len(index)),
	}
	for key, st := range index {
		e.finalize(st.group)
		result.Groups = append(result.Groups, st.group)
		result.index[key] = st.group
	}
	SortGroups(result.Groups)

	return result
}

func (e *Engine) newGroup(key types.GroupKey, item types.RawLineItem) *types.AggregatedGroup {
	g := &types.AggregatedGroup{
		Key:        key,
		PrimaryKey: strings.TrimSpace(item.PrimaryKey),
		Attributes: make(map[string]string, len(item.Attributes)),
		Conditions: e.taxonomy.ZeroAccumulator(),
		Quantity:   decimal.Zero,
	}
	if e.opts.Mode == ModeItem {
		g.SecondaryKey = e.itemNumber(item)
	}
	return g
}

func (e *Engine) fold(st *groupState, item types.RawLineItem) {
	g := st.group

	if code := taxonomy.NormalizeCode(item.ConditionType); code != "" {
		if _, known := e.taxonomy.Lookup(code); known {
			g.Conditions[code] = g.Conditions[code].Add(CoerceAmount(item.ConditionAmount))
		}
	}

	FillAttributes(g.Attributes, item.Attributes)
	e.foldQuantity(st, item)
	if g.Material == "" {
		g.Material = strings.TrimSpace(item.Material)
	}

	g.Lines = append(g.Lines, item)
}

func (e *Engine) foldQuantity(st *groupState, item types.RawLineItem) {
	if !HasAmount(item.Quantity) {
		return
	}
	g := st.group
	qty := CoerceAmount(item.Quantity)

	switch e.opts.QuantityPolicy {
	case QuantitySum:
		g.Quantity = g.Quantity.Add(qty)
	case QuantityFirst:
		if !st.quantitySet {
			g.Quantity = qty
		}
	case QuantitySumSameMaterial:
		material := strings.TrimSpace(item.Material)
		if g.Material != "" && material != "" && material != g.Material {
			g.MixedMaterials = true
			return
		}
		g.Quantity = g.Quantity.Add(qty)
	}
	st.quantitySet = true
}

// finalize derives net and invoice amounts from the accumulators and rounds
// every monetary output.
func (e *Engine) finalize(g *types.AggregatedGroup) {
	net := g.Conditions[e.taxonomy.BaseCode()].Abs()
	invoice := net

	for _, r := range e.taxonomy.Rules() {
		amount := g.Conditions[r.Code]
		switch r.Sign {
		case taxonomy.SignAdd:
			invoice = invoice.Add(amount)
		case taxonomy.SignSubtract:
			invoice = invoice.Sub(amount.Abs())
		}
	}

	g.NetAmount = Round2(net)
	g.InvoiceAmount = Round2(invoice)
	if e.opts.ClampNegative && g.InvoiceAmount.IsNegative() {
		g.InvoiceAmount = decimal.Zero
	}
	for code, amount := range g.Conditions {
		g.Conditions[code] = Round2(amount)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// FillAttributes copies src values into dst where dst has no non-empty value
// yet. Attribute names seen with only empty values are still recorded so
// every group exposes the same attribute set.
func FillAttributes(dst, src map[string]string) {
	for name, value := range src {
		value = strings.TrimSpace(value)
		current, ok := dst[name]
		if !ok || (current == "" && value != "") {
			dst[name] = value
		}
	}
}

// SortGroups orders groups by primary then secondary key using lexical
// comparison, so zero-padded keys sort as the source system shows them.
func SortGroups(groups []*types.AggregatedGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.PrimaryKey != b.PrimaryKey {
			return a.PrimaryKey < b.PrimaryKey
		}
		if a.SecondaryKey != b.SecondaryKey {
			return a.SecondaryKey < b.SecondaryKey
		}
		return a.Key < b.Key
	})
}

// Aggregate is a convenience wrapper building a one-shot engine.
func Aggregate(items []types.RawLineItem, tx *taxonomy.Taxonomy, opts Options) (*Result, error) {
	e, err := NewEngine(tx, opts)
	if err != nil {
		return nil, err
	}
	return e.Aggregate(items), nil
}
