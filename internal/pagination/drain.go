package pagination

import (
	"context"

	"go.uber.org/zap"
)

// Drain fetches every page of src and returns the concatenated records.
// Any fetch failure aborts the drain with a *FetchError; no partial result
// is returned.
func Drain[T any](ctx context.Context, src PageSource[T], pageSize int, filters Filters, logger *zap.Logger) ([]T, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var all []T
	for pageNo := 1; ; pageNo++ {
		skip := len(all)
		page, err := src.FetchPage(ctx, skip, pageSize, filters)
		if err != nil {
			return nil, &FetchError{Page: pageNo, Skip: skip, PageSize: pageSize, Filters: filters, Err: err}
		}
		all = append(all, page.Records...)
		logger.Debug("drained page", zap.Int("page", pageNo), zap.Int("records", len(page.Records)))

		if !HasMore(len(all), len(page.Records), pageSize, page.TotalCount, page.HasTotal) {
			return all, nil
		}
	}
}
