// Package sqlstore serves billing feeds and enrichment texts from a SQLite
// database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// Store wraps one SQLite database handle.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the database at path and verifies the connection.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ErrUnknownColumn is returned when a configured column is not in the table.
// SQLite reads a quoted identifier that names no column as a string literal,
// so these names are checked before any query uses them.
var ErrUnknownColumn = errors.New("unknown column")

// Columns returns the column names of table, lowercased.
func (s *Store) Columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return cols, nil
}

// checkColumns fails with ErrUnknownColumn for the first name not in table.
func (s *Store) checkColumns(ctx context.Context, table string, names []string) error {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !cols[strings.ToLower(name)] {
			return fmt.Errorf("%w %q in %s", ErrUnknownColumn, name, table)
		}
	}
	return nil
}

// columnCheck runs a column check until it succeeds once.
type columnCheck struct {
	mu   sync.Mutex
	done bool
}

func (c *columnCheck) run(check func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}
	if err := check(); err != nil {
		return err
	}
	c.done = true
	return nil
}

// =============================================================================
// TABLE FEED
// =============================================================================

// TableSource pages over a table or view. Rows are returned as column ->
// text value maps.
type TableSource struct {
	store      *Store
	table      string
	orderBy    []string
	countTotal bool

	// checked covers orderBy; filter columns are checked on every fetch.
	checked columnCheck
	cols    map[string]bool
}

// Table returns a feed over table. Rows are ordered by orderBy, or by rowid
// when none is given.
func (s *Store) Table(table string, countTotal bool, orderBy ...string) *TableSource {
	return &TableSource{store: s, table: table, orderBy: orderBy, countTotal: countTotal}
}

// FetchPage implements pagination.PageSource.
func (t *TableSource) FetchPage(ctx context.Context, skip, pageSize int, filters pagination.Filters) (pagination.Page[map[string]string], error) {
	var page pagination.Page[map[string]string]

	err := t.checked.run(func() error {
		cols, err := t.store.Columns(ctx, t.table)
		if err != nil {
			return err
		}
		for _, c := range t.orderBy {
			if !cols[strings.ToLower(c)] {
				return fmt.Errorf("%w %q in %s order_by", ErrUnknownColumn, c, t.table)
			}
		}
		t.cols = cols
		return nil
	})
	if err != nil {
		return page, fmt.Errorf("query %s: %w", t.table, err)
	}
	for _, name := range filters.Keys() {
		if !t.cols[strings.ToLower(name)] {
			return page, fmt.Errorf("query %s: %w %q in filters", t.table, ErrUnknownColumn, name)
		}
	}

	where, args := whereClause(filters)

	if t.countTotal {
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, quoteIdent(t.table), where)
		if err := t.store.db.QueryRowContext(ctx, q, args...).Scan(&page.TotalCount); err != nil {
			return page, fmt.Errorf("count %s: %w", t.table, err)
		}
		page.HasTotal = true
	}

	order := "rowid"
	if len(t.orderBy) > 0 {
		order = joinIdents(t.orderBy)
	}
	q := fmt.Sprintf(`SELECT * FROM %s%s ORDER BY %s LIMIT ? OFFSET ?`, quoteIdent(t.table), where, order)

	rows, err := t.store.db.QueryContext(ctx, q, append(args, pageSize, skip)...)
	if err != nil {
		return page, fmt.Errorf("query %s: %w", t.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return page, err
	}

	page.Records = make([]map[string]string, 0, pageSize)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return page, err
		}

		rec := make(map[string]string, len(cols))
		for i, c := range cols {
			rec[c] = textValue(vals[i])
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return page, err
	}

	t.store.logger.Debug("sqlite page",
		zap.String("table", t.table),
		zap.Int("skip", skip),
		zap.Int("records", len(page.Records)),
	)
	return page, nil
}

// =============================================================================
// TEXT LOOKUP
// =============================================================================

// TextSource looks up enrichment texts by group key.
type TextSource struct {
	store     *Store
	table     string
	keyColumn string

	// fields and columns are parallel: text field name -> table column.
	fields  []string
	columns []string

	checked columnCheck
}

// Texts returns a lookup over table. columns maps text field names
// (header_text, item_text, material_text, customer_name) to table columns;
// an empty map selects the fields under their own names.
func (s *Store) Texts(table, keyColumn string, columns map[string]string) *TextSource {
	if len(columns) == 0 {
		columns = map[string]string{
			"header_text":   "header_text",
			"item_text":     "item_text",
			"material_text": "material_text",
			"customer_name": "customer_name",
		}
	}
	ts := &TextSource{store: s, table: table, keyColumn: keyColumn}
	for field := range columns {
		ts.fields = append(ts.fields, field)
	}
	sort.Strings(ts.fields)
	for _, field := range ts.fields {
		ts.columns = append(ts.columns, columns[field])
	}
	return ts
}

// LookupText implements enrichment.TextSource. A key with no row yields an
// empty text.
func (t *TextSource) LookupText(ctx context.Context, key types.GroupKey) (types.RawText, error) {
	err := t.checked.run(func() error {
		return t.store.checkColumns(ctx, t.table, append([]string{t.keyColumn}, t.columns...))
	})
	if err != nil {
		return nil, fmt.Errorf("lookup text %s: %w", key, err)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? LIMIT 1`,
		joinIdents(t.columns), quoteIdent(t.table), quoteIdent(t.keyColumn))

	vals := make([]any, len(t.columns))
	ptrs := make([]any, len(t.columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	err = t.store.db.QueryRowContext(ctx, q, string(key)).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RawText{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup text %s: %w", key, err)
	}

	raw := make(types.RawText, len(t.fields))
	for i, field := range t.fields {
		raw[field] = textValue(vals[i])
	}
	return raw, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(filters pagination.Filters) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	names := filters.Keys()
	conds := make([]string, len(names))
	args := make([]any, len(names))
	for i, k := range names {
		conds[i] = quoteIdent(k) + " = ?"
		args[i] = filters[k]
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

func joinIdents(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quoteIdent(c)
	}
	return strings.Join(parts, ", ")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
