// =============================================================================
// Billing Summary - CSV Feed Module
// =============================================================================
//
// This module reads billing extracts exported as CSV and serves them as a
// paged row feed. It handles:
//   - Different delimiters (comma, pipe, tab, semicolon)
//   - Multi-line headers
//   - Custom data start rows
//   - Quoted fields with lazy quoting
//
// Each page request streams the file from the top, so the feed always sees
// the file as it is on disk. Filters are applied before paging; skip and
// page size count matching rows only.
//
// =============================================================================

package csvparser

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
)

// ctxCheckInterval is how many rows are read between context checks.
const ctxCheckInterval = 1024

// =============================================================================
// PAGED SOURCE
// =============================================================================

// Source is a paged CSV row feed.
type Source struct {
	path     string
	settings config.CSVSettings

	// countTotal makes every page scan to the end of the file to report the
	// number of matching rows.
	countTotal bool
}

// NewSource returns a feed over the CSV file at path.
func NewSource(path string, settings config.CSVSettings, countTotal bool) *Source {
	return &Source{path: path, settings: settings, countTotal: countTotal}
}

// FetchPage implements pagination.PageSource.
func (s *Source) FetchPage(ctx context.Context, skip, pageSize int, filters pagination.Filters) (pagination.Page[map[string]string], error) {
	var page pagination.Page[map[string]string]
	if err := ctx.Err(); err != nil {
		return page, err
	}

	parser, err := NewStreamingParser(s.path, s.settings)
	if err != nil {
		return page, err
	}
	defer parser.Close()

	matched := 0
	for parser.Next() {
		if parser.RowNumber()%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return page, err
			}
		}

		row := parser.Row()
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
	if err := parser.Err(); err != nil {
		return pagination.Page[map[string]string]{}, err
	}

	if s.countTotal {
		page.TotalCount, page.HasTotal = matched, true
	}
	return page, nil
}

// =============================================================================
// STREAMING PARSER
// =============================================================================

// StreamingParser reads a CSV file one row at a time.
//
// USAGE:
//
//	parser, err := NewStreamingParser(filePath, settings)
//	if err != nil {
//	    return err
//	}
//	defer parser.Close()
//
//	for parser.Next() {
//	    row := parser.Row()
//	}
//	if err := parser.Err(); err != nil {
//	    return err
//	}
type StreamingParser struct {
	file       *os.File
	reader     *csv.Reader
	headers    []string
	currentRow map[string]string
	rowNumber  int
	err        error
	settings   config.CSVSettings
}

// NewStreamingParser opens filePath and reads its header rows.
func NewStreamingParser(filePath string, settings config.CSVSettings) (*StreamingParser, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := csv.NewReader(bufio.NewReader(file))
	configureReader(reader, settings)

	parser := &StreamingParser{
		file:     file,
		reader:   reader,
		settings: settings,
	}

	if err := parser.readHeaders(); err != nil {
		file.Close()
		return nil, err
	}

	if err := parser.skipToDataStart(); err != nil {
		file.Close()
		return nil, err
	}

	return parser, nil
}

// readHeaders reads and merges the header rows.
func (p *StreamingParser) readHeaders() error {
	headerRows := make([][]string, 0, p.settings.HeaderRows)

	for i := 0; i < p.settings.HeaderRows; i++ {
		row, err := p.reader.Read()
		if err == io.EOF {
			return fmt.Errorf("unexpected end of file while reading headers")
		}
		if err != nil {
			return fmt.Errorf("error reading header row %d: %w", i+1, err)
		}
		headerRows = append(headerRows, row)
		p.rowNumber++
	}

	headers, err := extractHeaders(headerRows, p.settings)
	if err != nil {
		return err
	}

	p.headers = headers
	return nil
}

// skipToDataStart skips rows until the data start row.
func (p *StreamingParser) skipToDataStart() error {
	targetRow := p.settings.DataStartRow
	if targetRow <= 0 {
		targetRow = p.settings.HeaderRows + 1
	}

	for p.rowNumber < targetRow-1 {
		_, err := p.reader.Read()
		if err == io.EOF {
			return nil // No data rows
		}
		if err != nil {
			return fmt.Errorf("error skipping to data start: %w", err)
		}
		p.rowNumber++
	}

	return nil
}

// Next advances to the next non-empty row. Returns false when there are no
// more rows or a read failed.
func (p *StreamingParser) Next() bool {
	for p.err == nil {
		row, err := p.reader.Read()
		if err == io.EOF {
			return false
		}
		if err != nil {
			p.err = fmt.Errorf("error reading row %d: %w", p.rowNumber+1, err)
			return false
		}
		p.rowNumber++

		if isRowEmpty(row) {
			continue
		}

		p.currentRow = make(map[string]string, len(p.headers))
		for i, header := range p.headers {
			if i < len(row) {
				p.currentRow[header] = strings.TrimSpace(row[i])
			} else {
				p.currentRow[header] = ""
			}
		}
		return true
	}
	return false
}

// Row returns the current row as a map of header -> value.
func (p *StreamingParser) Row() map[string]string {
	return p.currentRow
}

// Headers returns the parsed headers.
func (p *StreamingParser) Headers() []string {
	return p.headers
}

// RowNumber returns the current row number (1-indexed).
func (p *StreamingParser) RowNumber() int {
	return p.rowNumber
}

// Err returns any error that occurred during parsing.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close closes the underlying file.
func (p *StreamingParser) Close() error {
	return p.file.Close()
}

// =============================================================================
// READER HELPERS
// =============================================================================

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	switch settings.Delimiter {
	case "\\t", "\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ";", "semicolon":
		reader.Comma = ';'
	default:
		if len(settings.Delimiter) > 0 {
			reader.Comma = rune(settings.Delimiter[0])
		} else {
			reader.Comma = ','
		}
	}

	// SAP extracts often carry ragged trailing columns.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
}

// extractHeaders extracts and merges headers from the header rows.
//
// MULTI-LINE HEADER HANDLING:
//
//	Row 1: "Billing", "", "Condition", ""
//	Row 2: "Document", "Item", "Type", "Amount"
//	Result: "Billing Document", "Item", "Condition Type", "Amount"
func extractHeaders(allRows [][]string, settings config.CSVSettings) ([]string, error) {
	if settings.HeaderRows <= 0 {
		return nil, fmt.Errorf("header_rows must be at least 1")
	}

	if len(allRows) < settings.HeaderRows {
		return nil, fmt.Errorf("file has fewer rows than header_rows setting")
	}

	if settings.HeaderRows == 1 {
		return cleanHeaders(allRows[0]), nil
	}

	maxCols := 0
	for i := 0; i < settings.HeaderRows; i++ {
		if len(allRows[i]) > maxCols {
			maxCols = len(allRows[i])
		}
	}

	headers := make([]string, maxCols)
	for col := 0; col < maxCols; col++ {
		var parts []string

		for row := 0; row < settings.HeaderRows; row++ {
			if col < len(allRows[row]) {
				value := strings.TrimSpace(allRows[row][col])
				if value != "" {
					parts = append(parts, value)
				}
			}
		}

		headers[col] = strings.Join(parts, " ")
	}

	return cleanHeaders(headers), nil
}

// cleanHeaders trims headers and names empty ones by position.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))

	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		cleaned[i] = header
	}

	return cleaned
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
