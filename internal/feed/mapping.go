// Package feed turns raw row sources into the typed paged sources consumed
// by the coordinator and the reconciler.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// ErrMissingColumn is returned when a required field has no column mapping.
var ErrMissingColumn = errors.New("feed: required column not mapped")

// Row is one raw record: column header -> text value.
type Row = map[string]string

// RowSource is a paged source of raw rows.
type RowSource = pagination.PageSource[Row]

// RowTransform rewrites a row before it is mapped. It must not modify its
// argument.
type RowTransform func(Row) (Row, error)

// =============================================================================
// TYPED SOURCE
// =============================================================================

// Mapped is a paged source of T built on a RowSource. Filters are passed to
// the row source and therefore apply to raw column values.
type Mapped[T any] struct {
	rows      RowSource
	transform RowTransform
	mapRow    func(Row) T
}

// FetchPage implements pagination.PageSource.
func (m *Mapped[T]) FetchPage(ctx context.Context, skip, pageSize int, filters pagination.Filters) (pagination.Page[T], error) {
	raw, err := m.rows.FetchPage(ctx, skip, pageSize, filters)
	if err != nil {
		return pagination.Page[T]{}, err
	}

	page := pagination.Page[T]{
		Records:    make([]T, 0, len(raw.Records)),
		TotalCount: raw.TotalCount,
		HasTotal:   raw.HasTotal,
	}
	for i, row := range raw.Records {
		if m.transform != nil {
			if row, err = m.transform(row); err != nil {
				return pagination.Page[T]{}, fmt.Errorf("row %d: %w", skip+i, err)
			}
		}
		page.Records = append(page.Records, m.mapRow(row))
	}
	return page, nil
}

// Lines returns a billing line source.
func Lines(rows RowSource, cols config.ColumnMapping, transform RowTransform) (*Mapped[types.RawLineItem], error) {
	if err := requireColumns(map[string]string{
		"primary_key":      cols.PrimaryKey,
		"condition_type":   cols.ConditionType,
		"condition_amount": cols.ConditionAmount,
	}); err != nil {
		return nil, err
	}
	return &Mapped[types.RawLineItem]{rows: rows, transform: transform, mapRow: Mapper{cols}.Line}, nil
}

// PrimaryLines returns a ledger line source.
func PrimaryLines(rows RowSource, cols config.ColumnMapping, transform RowTransform) (*Mapped[types.PrimaryLine], error) {
	if err := requireColumns(map[string]string{
		"entity":         cols.Entity,
		"document":       cols.Document,
		"period":         cols.Period,
		"taxable_amount": cols.TaxableAmount,
	}); err != nil {
		return nil, err
	}
	return &Mapped[types.PrimaryLine]{rows: rows, transform: transform, mapRow: Mapper{cols}.PrimaryLine}, nil
}

// SecondaryItems returns a tax entry source.
func SecondaryItems(rows RowSource, cols config.ColumnMapping, transform RowTransform) (*Mapped[types.SecondaryItem], error) {
	if err := requireColumns(map[string]string{
		"entity":     cols.Entity,
		"document":   cols.Document,
		"period":     cols.Period,
		"tax_amount": cols.TaxAmount,
	}); err != nil {
		return nil, err
	}
	return &Mapped[types.SecondaryItem]{rows: rows, transform: transform, mapRow: Mapper{cols}.SecondaryItem}, nil
}

func requireColumns(fields map[string]string) error {
	var missing []string
	for name, col := range fields {
		if strings.TrimSpace(col) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
}

// =============================================================================
// ROW MAPPING
// =============================================================================

// Mapper maps rows according to a column mapping.
type Mapper struct {
	Columns config.ColumnMapping
}

// Line maps a billing line row. Amounts stay raw; they are coerced during
// aggregation.
func (m Mapper) Line(row Row) types.RawLineItem {
	c := m.Columns
	item := types.RawLineItem{
		PrimaryKey:      value(row, c.PrimaryKey),
		SecondaryKey:    value(row, c.SecondaryKey),
		ConditionType:   value(row, c.ConditionType),
		ConditionAmount: rawAmount(row, c.ConditionAmount),
		Material:        value(row, c.Material),
		Attributes:      m.attributes(row),
	}
	if c.Quantity != "" {
		item.Quantity = rawAmount(row, c.Quantity)
	}
	return item
}

// PrimaryLine maps a ledger row.
func (m Mapper) PrimaryLine(row Row) types.PrimaryLine {
	c := m.Columns
	return types.PrimaryLine{
		Key:           m.documentKey(row),
		TaxableAmount: rawAmount(row, c.TaxableAmount),
		Reversed:      ParseFlag(value(row, c.Reversed)),
		Reference:     value(row, c.Reference),
		Attributes:    m.attributes(row),
	}
}

// SecondaryItem maps a tax entry row.
func (m Mapper) SecondaryItem(row Row) types.SecondaryItem {
	c := m.Columns
	item := types.SecondaryItem{
		Key:       m.documentKey(row),
		TaxCode:   value(row, c.TaxCode),
		TaxAmount: rawAmount(row, c.TaxAmount),
	}
	if c.TaxBaseAmount != "" {
		item.TaxBaseAmount = rawAmount(row, c.TaxBaseAmount)
	}
	return item
}

func (m Mapper) documentKey(row Row) types.DocumentKey {
	return types.DocumentKey{
		Entity:   value(row, m.Columns.Entity),
		Document: value(row, m.Columns.Document),
		Period:   value(row, m.Columns.Period),
	}
}

// attributes collects the mapped descriptive fields. Values are NFC
// normalized so that differently composed spellings compare equal.
func (m Mapper) attributes(row Row) map[string]string {
	if len(m.Columns.Attributes) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(m.Columns.Attributes))
	for name, col := range m.Columns.Attributes {
		attrs[name] = norm.NFC.String(value(row, col))
	}
	return attrs
}

// ParseFlag interprets SAP-style indicator columns.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x", "y", "yes", "true", "1":
		return true
	}
	return false
}

func value(row Row, col string) string {
	if col == "" {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// rawAmount returns nil for a missing or blank column so that it coerces to
// zero without being mistaken for a supplied value.
func rawAmount(row Row, col string) any {
	v := value(row, col)
	if v == "" {
		return nil
	}
	return v
}
