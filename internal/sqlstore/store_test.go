package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/billing-summary/internal/enrichment"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "billing.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	stmts := []string{
		`CREATE TABLE lines (vbeln TEXT, posnr TEXT, kschl TEXT, kwert REAL, kunnr TEXT)`,
		`INSERT INTO lines VALUES
			('90000001', '000010', 'PR00', 100.5, 'C1'),
			('90000001', '000010', 'MWST', 19, 'C1'),
			('90000002', '000010', 'PR00', 50, 'C2'),
			('90000003', NULL, 'PR00', 75.25, 'C1')`,
		`CREATE TABLE texts (group_key TEXT PRIMARY KEY, htext TEXT, itext TEXT)`,
		`INSERT INTO texts VALUES ('90000001_000010', 'Header one', 'Item one')`,
	}
	for _, q := range stmts {
		_, err := s.DB().ExecContext(ctx, q)
		require.NoError(t, err)
	}
	return s
}

func TestTableSource_FetchPage(t *testing.T) {
	s := openTestStore(t)
	src := s.Table("lines", true)
	ctx := context.Background()

	page, err := src.FetchPage(ctx, 0, 3, nil)
	require.NoError(t, err)
	assert.True(t, page.HasTotal)
	assert.Equal(t, 4, page.TotalCount)
	require.Len(t, page.Records, 3)
	assert.Equal(t, "100.5", page.Records[0]["kwert"])
	assert.Equal(t, "MWST", page.Records[1]["kschl"])

	page, err = src.FetchPage(ctx, 3, 3, nil)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "", page.Records[0]["posnr"])
}

func TestTableSource_Filters(t *testing.T) {
	s := openTestStore(t)
	src := s.Table("lines", true, "vbeln", "kschl")

	page, err := src.FetchPage(context.Background(), 0, 10, pagination.Filters{"kunnr": "C1", "kschl": "PR00"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "90000001", page.Records[0]["vbeln"])
	assert.Equal(t, "90000003", page.Records[1]["vbeln"])
}

func TestTableSource_MissingTable(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Table("nope", false).FetchPage(context.Background(), 0, 10, nil)
	assert.ErrorContains(t, err, "query nope")
}

func TestTableSource_Drain(t *testing.T) {
	s := openTestStore(t)
	rows, err := pagination.Drain[map[string]string](context.Background(), s.Table("lines", false), 3, nil, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestTextSource_LookupText(t *testing.T) {
	s := openTestStore(t)
	src := s.Texts("texts", "group_key", map[string]string{"header_text": "htext", "item_text": "itext"})
	ctx := context.Background()

	raw, err := src.LookupText(ctx, "90000001_000010")
	require.NoError(t, err)
	assert.Equal(t, types.RawText{"header_text": "Header one", "item_text": "Item one"}, raw)

	raw, err = src.LookupText(ctx, "90000002_000010")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestTextSource_WithEnrichment(t *testing.T) {
	s := openTestStore(t)
	src := s.Texts("texts", "group_key", map[string]string{"header_text": "htext"})
	svc := enrichment.NewService(enrichment.Options{BatchDelay: -1})

	texts, err := svc.Enrich(context.Background(), []types.GroupKey{"90000001_000010", "90000009_000010"}, enrichment.FromSource(src))
	require.NoError(t, err)
	assert.Equal(t, "Header one", texts["90000001_000010"].HeaderText)
	assert.True(t, texts["90000009_000010"].IsEmpty())
}

func TestTextSource_BadColumn(t *testing.T) {
	s := openTestStore(t)
	src := s.Texts("texts", "group_key", map[string]string{"header_text": "missing"})
	_, err := src.LookupText(context.Background(), "90000001_000010")
	assert.Error(t, err)
}

func TestTextSource_BadColumns(t *testing.T) {
	s := openTestStore(t)
	tests := []struct {
		name    string
		key     string
		columns map[string]string
	}{
		{"text column", "group_key", map[string]string{"header_text": "htxt_typo"}},
		{"key column", "grp_key", map[string]string{"header_text": "htext"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := s.Texts("texts", tt.key, tt.columns)
			raw, err := src.LookupText(context.Background(), "90000001_000010")
			assert.ErrorIs(t, err, ErrUnknownColumn)
			assert.Nil(t, raw)
		})
	}
}

func TestTextSource_BadColumnNotCached(t *testing.T) {
	s := openTestStore(t)
	src := s.Texts("texts", "group_key", map[string]string{"header_text": "htxt_typo"})
	svc := enrichment.NewService(enrichment.Options{BatchDelay: -1})

	texts, err := svc.Enrich(context.Background(), []types.GroupKey{"90000001_000010"}, enrichment.FromSource(src))
	require.NoError(t, err)
	assert.True(t, texts["90000001_000010"].IsEmpty())
	assert.Equal(t, 0, svc.Cache().Len())
}

func TestTableSource_UnknownFilterColumn(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Table("lines", true).FetchPage(context.Background(), 0, 10, pagination.Filters{"kunnr_typo": "C1"})
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.ErrorContains(t, err, "kunnr_typo")
}

func TestTableSource_UnknownOrderColumn(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Table("lines", false, "vbeln", "posnr_typo").FetchPage(context.Background(), 0, 10, nil)
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.ErrorContains(t, err, "posnr_typo")
}

func TestTableSource_ColumnNamesIgnoreCase(t *testing.T) {
	s := openTestStore(t)
	page, err := s.Table("lines", true, "VBELN").FetchPage(context.Background(), 0, 10, pagination.Filters{"KUNNR": "C2"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(pagination.Filters{"b": "2", "a": "1"})
	assert.Equal(t, ` WHERE "a" = ? AND "b" = ?`, where)
	assert.Equal(t, []any{"1", "2"}, args)

	where, args = whereClause(nil)
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}
