package csvparser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
)

const billingCSV = `VBELN,POSNR,KSCHL,KWERT,KUNNR
90000001,000010,PR00,100.00,C1
90000001,000010,MWST,19.00,C1

90000002,000010,PR00,50.00,C2
90000003,000010,PR00,"1,000.00",C1
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func defaultSettings() config.CSVSettings {
	return config.CSVSettings{Delimiter: ",", HeaderRows: 1, DataStartRow: 2}
}

func TestSource_FetchPage(t *testing.T) {
	src := NewSource(writeFile(t, "billing.csv", billingCSV), defaultSettings(), true)
	ctx := context.Background()

	page, err := src.FetchPage(ctx, 0, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.True(t, page.HasTotal)
	assert.Equal(t, 4, page.TotalCount)
	assert.Equal(t, "MWST", page.Records[1]["KSCHL"])

	page, err = src.FetchPage(ctx, 2, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "1,000.00", page.Records[1]["KWERT"])

	page, err = src.FetchPage(ctx, 4, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestSource_Filters(t *testing.T) {
	src := NewSource(writeFile(t, "billing.csv", billingCSV), defaultSettings(), true)

	page, err := src.FetchPage(context.Background(), 1, 10, pagination.Filters{"KUNNR": "C1"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "MWST", page.Records[0]["KSCHL"])
	assert.Equal(t, "90000003", page.Records[1]["VBELN"])
}

func TestSource_WithoutTotal(t *testing.T) {
	src := NewSource(writeFile(t, "billing.csv", billingCSV), defaultSettings(), false)

	page, err := src.FetchPage(context.Background(), 0, 3, nil)
	require.NoError(t, err)
	assert.False(t, page.HasTotal)
	assert.Len(t, page.Records, 3)
}

func TestSource_MissingFile(t *testing.T) {
	src := NewSource(filepath.Join(t.TempDir(), "missing.csv"), defaultSettings(), true)
	_, err := src.FetchPage(context.Background(), 0, 10, nil)
	assert.ErrorContains(t, err, "failed to open file")
}

func TestSource_Cancelled(t *testing.T) {
	src := NewSource(writeFile(t, "billing.csv", billingCSV), defaultSettings(), true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.FetchPage(ctx, 0, 10, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamingParser_MultiLineHeaders(t *testing.T) {
	content := "Billing,,Condition,\nDocument,Item,Type,Amount\nExported 2024-01-31,,,\n90000001,000010,PR00,10.00\n"
	settings := config.CSVSettings{Delimiter: ",", HeaderRows: 2, DataStartRow: 4}

	p, err := NewStreamingParser(writeFile(t, "multi.csv", content), settings)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, []string{"Billing Document", "Item", "Condition Type", "Amount"}, p.Headers())
	require.True(t, p.Next())
	assert.Equal(t, "PR00", p.Row()["Condition Type"])
	assert.Equal(t, 4, p.RowNumber())
	assert.False(t, p.Next())
	assert.NoError(t, p.Err())
}

func TestConfigureReader_Delimiters(t *testing.T) {
	tests := []struct {
		delimiter string
		content   string
	}{
		{"|", "A|B\n1|2\n"},
		{"tab", "A\tB\n1\t2\n"},
		{"\\t", "A\tB\n1\t2\n"},
		{"semicolon", "A;B\n1;2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.delimiter, func(t *testing.T) {
			settings := config.CSVSettings{Delimiter: tt.delimiter, HeaderRows: 1, DataStartRow: 2}
			p, err := NewStreamingParser(writeFile(t, "d.csv", tt.content), settings)
			require.NoError(t, err)
			defer p.Close()

			require.True(t, p.Next())
			assert.Equal(t, map[string]string{"A": "1", "B": "2"}, p.Row())
		})
	}
}

func TestCleanHeaders(t *testing.T) {
	got := cleanHeaders([]string{"\ufeffVBELN", " ", "KSCHL "})
	assert.Equal(t, []string{"VBELN", "Column_2", "KSCHL"}, got)
}

func TestNewStreamingParser_ShortHeader(t *testing.T) {
	settings := config.CSVSettings{Delimiter: ",", HeaderRows: 3, DataStartRow: 4}
	_, err := NewStreamingParser(writeFile(t, "short.csv", "A,B\n"), settings)
	assert.ErrorContains(t, err, "unexpected end of file")
}
