package pagination

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Filters are equality filters on source columns, passed through to the
// record source untouched.
type Filters map[string]string

// String renders filters deterministically for logs and errors.
func (f Filters) String() string {
	if len(f) == 0 {
		return "{}"
	}
	names := f.Keys()
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + f[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Keys returns the filtered column names in sorted order.
func (f Filters) Keys() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Page is one fetched page. HasTotal is false when the source cannot report
// a total count.
type Page[T any] struct {
	Records    []T
	TotalCount int
	HasTotal   bool
}

// PageSource is a paged record source.
type PageSource[T any] interface {
	FetchPage(ctx context.Context, skip, pageSize int, filters Filters) (Page[T], error)
}

// PageSourceFunc adapts a function to PageSource.
type PageSourceFunc[T any] func(ctx context.Context, skip, pageSize int, filters Filters) (Page[T], error)

// FetchPage implements PageSource.
func (f PageSourceFunc[T]) FetchPage(ctx context.Context, skip, pageSize int, filters Filters) (Page[T], error) {
	return f(ctx, skip, pageSize, filters)
}

// FetchError reports a failed page fetch with the request that failed.
type FetchError struct {
	Page     int
	Skip     int
	PageSize int
	Filters  Filters
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d (skip=%d, top=%d, filters=%s): %v",
		e.Page, e.Skip, e.PageSize, e.Filters, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HasMore decides whether another page should be requested. A known total
// wins; without one, a full last page is taken as a continuation signal.
func HasMore(loaded, lastPageLen, pageSize, total int, hasTotal bool) bool {
	if lastPageLen == 0 {
		return false
	}
	if hasTotal {
		return total > loaded
	}
	return lastPageLen >= pageSize
}

// Match reports whether row satisfies every filter. Row-oriented sources use
// it to apply filters locally.
func (f Filters) Match(row map[string]string) bool {
	for k, v := range f {
		if row[k] != v {
			return false
		}
	}
	return true
}
