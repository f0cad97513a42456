package xlsxparser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/billing-summary/internal/pagination"
)

// SheetLayout locates the header and data rows of a worksheet feed.
// Row numbers are 1-based, as shown in Excel.
type SheetLayout struct {
	Sheet        string
	HeaderRow    int
	DataStartRow int
}

// Source is a paged row feed over one worksheet. The workbook is reopened
// for every page.
type Source struct {
	path       string
	layout     SheetLayout
	countTotal bool
}

// NewSource returns a feed over the workbook at path.
func NewSource(path string, layout SheetLayout, countTotal bool) *Source {
	if layout.HeaderRow <= 0 {
		layout.HeaderRow = 1
	}
	if layout.DataStartRow <= layout.HeaderRow {
		layout.DataStartRow = layout.HeaderRow + 1
	}
	return &Source{path: path, layout: layout, countTotal: countTotal}
}

// FetchPage implements pagination.PageSource.
func (s *Source) FetchPage(ctx context.Context, skip, pageSize int, filters pagination.Filters) (pagination.Page[map[string]string], error) {
	var page pagination.Page[map[string]string]
	if err := ctx.Err(); err != nil {
		return page, err
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return page, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := s.layout.Sheet
	if sheet == "" {
		if sheet, err = firstSheet(f); err != nil {
			return page, err
		}
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return page, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var headers []string
	rowNumber, matched := 0, 0
	for rows.Next() {
		rowNumber++
		cells, err := rows.Columns()
		if err != nil {
			return pagination.Page[map[string]string]{}, fmt.Errorf("error reading row %d: %w", rowNumber, err)
		}

		switch {
		case rowNumber == s.layout.HeaderRow:
			headers = cleanHeaders(cells)
			continue
		case rowNumber < s.layout.DataStartRow:
			continue
		case isRowEmpty(cells):
			continue
		}
		if headers == nil {
			return pagination.Page[map[string]string]{}, fmt.Errorf("sheet %q has no header row %d", sheet, s.layout.HeaderRow)
		}

		row := toRowMap(headers, cells)
		if !filters.Match(row) {
			continue
		}
		if matched >= skip && len(page.Records) < pageSize {
			page.Records = append(page.Records, row)
		}
		matched++

		if !s.countTotal && len(page.Records) == pageSize {
			break
		}
	}
	if err := rows.Error(); err != nil {
		return pagination.Page[map[string]string]{}, err
	}

	if s.countTotal {
		page.TotalCount, page.HasTotal = matched, true
	}
	return page, nil
}

func toRowMap(headers, cells []string) map[string]string {
	row := make(map[string]string, len(headers))
	for i, header := range headers {
		if i < len(cells) {
			row[header] = strings.TrimSpace(cells[i])
		} else {
			row[header] = ""
		}
	}
	return row
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		cleaned[i] = header
	}
	return cleaned
}
