package xlsxparser

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
)

// writeWorkbook saves rows into sheet of a new workbook and returns its path.
func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParseTaxonomy(t *testing.T) {
	path := writeWorkbook(t, "Conditions", [][]any{
		{"Condition Type", "Role", "Sign", "Description"},
		{"pr00", "Base", "", "Gross price"},
		{"K007", "disc", "-", "Customer discount"},
		{"", "", "", ""},
		{"", "", "", "Taxes"},
		{"MWST", "VAT", "+", "Output tax"},
		{"VPRS", "stat", "", "Cost"},
	})

	rules, err := ParseTaxonomy(path)
	require.NoError(t, err)
	require.Len(t, rules, 4)

	assert.Equal(t, taxonomy.Rule{Code: "PR00", Role: taxonomy.RoleBasePrice, Description: "Gross price"}, rules[0])
	assert.Equal(t, taxonomy.RoleDiscount, rules[1].Role)
	assert.Equal(t, taxonomy.SignSubtract, rules[1].Sign)
	assert.Equal(t, taxonomy.RoleTax, rules[2].Role)
	assert.Equal(t, taxonomy.RoleStatistical, rules[3].Role)

	tx, err := taxonomy.New(rules)
	require.NoError(t, err)
	assert.Equal(t, "PR00", tx.BaseCode())
}

func TestParseTaxonomy_UnknownRole(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{
		{"Condition Type", "Role"},
		{"ZX01", "mystery"},
	})

	_, err := ParseTaxonomy(path)
	assert.ErrorContains(t, err, "row 2")
}

func TestParseTaxonomy_MissingFile(t *testing.T) {
	_, err := ParseTaxonomy(filepath.Join(t.TempDir(), "none.xlsx"))
	assert.ErrorContains(t, err, "failed to open template file")
}

func TestNormalizeRole(t *testing.T) {
	tests := map[string]string{
		"Gross Price": "base_price",
		"rebate":      "discount",
		"Output Tax":  "tax",
		"freight":     "surcharge",
		"info":        "statistical",
		"other":       "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeRole(in), in)
	}
}

func TestSource_FetchPage(t *testing.T) {
	rows := [][]any{
		{"Billing lines export"},
		{"VBELN", "KSCHL", "KWERT", "KUNNR"},
	}
	for i := 0; i < 7; i++ {
		cust := "C1"
		if i%2 == 1 {
			cust = "C2"
		}
		rows = append(rows, []any{fmt.Sprintf("9000000%d", i), "PR00", "10.00", cust})
	}
	path := writeWorkbook(t, "Lines", rows)
	src := NewSource(path, SheetLayout{Sheet: "Lines", HeaderRow: 2}, true)
	ctx := context.Background()

	page, err := src.FetchPage(ctx, 0, 5, nil)
	require.NoError(t, err)
	require.Len(t, page.Records, 5)
	assert.Equal(t, 7, page.TotalCount)
	assert.Equal(t, "90000000", page.Records[0]["VBELN"])

	page, err = src.FetchPage(ctx, 5, 5, nil)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "90000006", page.Records[1]["VBELN"])

	page, err = src.FetchPage(ctx, 1, 5, pagination.Filters{"KUNNR": "C2"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "90000003", page.Records[0]["VBELN"])
}

func TestSource_FirstVisibleSheet(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{
		{"VBELN", "", "KUNNR"},
		{"90000001", "x", "C1"},
	})
	src := NewSource(path, SheetLayout{}, false)

	page, err := src.FetchPage(context.Background(), 0, 10, nil)
	require.NoError(t, err)
	assert.False(t, page.HasTotal)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "x", page.Records[0]["Column_2"])
}
