// =============================================================================
// Billing Summary - XLSX Taxonomy Template Parser
// =============================================================================
//
// This module parses XLSX workbooks that define the condition taxonomy, so
// billing analysts can maintain condition types in a spreadsheet instead of
// YAML.
//
// TEMPLATE STRUCTURE (Expected Columns):
//
//   | Column A       | Column B   | Column C | Column D               |
//   |----------------|------------|----------|------------------------|
//   | Condition Type | Role       | Sign     | Description            |
//   | PR00           | base_price |          | Gross price            |
//   | K007           | discount   | -        | Customer discount      |
//   | MWST           | tax        | +        | Output tax             |
//
// Column positions are configurable via TemplateColumns. Role and sign cells
// accept the abbreviations analysts commonly type (see normalizeRole).
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
)

// =============================================================================
// TEMPLATE COLUMN CONFIGURATION
// =============================================================================

// TemplateColumns defines which columns of the template hold which data.
// Column indices are 0-based (A=0, B=1, C=2, etc.)
type TemplateColumns struct {
	CodeColumn        int
	RoleColumn        int
	SignColumn        int
	DescriptionColumn int

	// DataStartRow is the row number where data begins (0-based).
	// Default: 1 (Row 2)
	DataStartRow int
}

// DefaultTemplateColumns returns the default column configuration.
func DefaultTemplateColumns() TemplateColumns {
	return TemplateColumns{
		CodeColumn:        0, // Column A
		RoleColumn:        1, // Column B
		SignColumn:        2, // Column C
		DescriptionColumn: 3, // Column D
		DataStartRow:      1, // Row 2
	}
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// ParseTaxonomy reads the first visible sheet of a taxonomy workbook.
func ParseTaxonomy(templatePath string) ([]taxonomy.Rule, error) {
	return ParseTaxonomyWithConfig(templatePath, "", DefaultTemplateColumns())
}

// ParseTaxonomyWithConfig reads sheetName (or the first visible sheet when
// empty) using a custom column configuration.
func ParseTaxonomyWithConfig(templatePath, sheetName string, columns TemplateColumns) ([]taxonomy.Rule, error) {
	f, err := excelize.OpenFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open template file: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		sheetName, err = firstSheet(f)
		if err != nil {
			return nil, err
		}
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	var rules []taxonomy.Rule
	for i := columns.DataStartRow; i < len(rows); i++ {
		row := rows[i]

		if len(row) == 0 || isRowEmpty(row) {
			continue
		}

		rule, err := parseRow(row, columns)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+1, err)
		}

		// Rows without a code are section labels.
		if rule.Code == "" {
			continue
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// parseRow extracts a taxonomy rule from a single row.
func parseRow(row []string, columns TemplateColumns) (taxonomy.Rule, error) {
	getCell := func(index int) string {
		if index < len(row) {
			return strings.TrimSpace(row[index])
		}
		return ""
	}

	rule := taxonomy.Rule{
		Code:        taxonomy.NormalizeCode(getCell(columns.CodeColumn)),
		Description: getCell(columns.DescriptionColumn),
	}
	if rule.Code == "" {
		return rule, nil
	}

	role, err := taxonomy.ParseRole(normalizeRole(getCell(columns.RoleColumn)))
	if err != nil {
		return rule, err
	}
	rule.Role = role

	sign, err := taxonomy.ParseSign(getCell(columns.SignColumn))
	if err != nil {
		return rule, err
	}
	rule.Sign = sign

	return rule, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// firstSheet returns the first sheet whose name does not start with "_".
func firstSheet(f *excelize.File) (string, error) {
	for _, name := range f.GetSheetList() {
		if !strings.HasPrefix(name, "_") {
			return name, nil
		}
	}
	return "", fmt.Errorf("workbook has no sheets")
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// normalizeRole maps spreadsheet terminology onto role names.
func normalizeRole(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))

	switch value {
	case "base_price", "base", "price", "gross", "gross price":
		return string(taxonomy.RoleBasePrice)
	case "discount", "disc", "rebate", "deduction":
		return string(taxonomy.RoleDiscount)
	case "tax", "vat", "output tax":
		return string(taxonomy.RoleTax)
	case "surcharge", "surch", "freight", "fee":
		return string(taxonomy.RoleSurcharge)
	case "statistical", "stat", "info", "cost":
		return string(taxonomy.RoleStatistical)
	default:
		return value
	}
}
