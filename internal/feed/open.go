package feed

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/csvparser"
	"github.com/ginjaninja78/billing-summary/internal/sqlstore"
	"github.com/ginjaninja78/billing-summary/internal/xlsxparser"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the row source described by cfg. The returned closer releases
// the database handle of sqlite feeds and is a no-op otherwise.
func Open(ctx context.Context, cfg config.FeedConfig, logger *zap.Logger) (RowSource, io.Closer, error) {
	if err := config.ValidateFeed(cfg); err != nil {
		return nil, nil, err
	}
	countTotal := !cfg.SkipTotal

	switch cfg.Type {
	case config.FeedCSV:
		return csvparser.NewSource(cfg.Path, cfg.CSVSettings, countTotal), nopCloser{}, nil

	case config.FeedXLSX:
		layout := xlsxparser.SheetLayout{
			Sheet:        cfg.Sheet,
			HeaderRow:    cfg.CSVSettings.HeaderRows,
			DataStartRow: cfg.CSVSettings.DataStartRow,
		}
		return xlsxparser.NewSource(cfg.Path, layout, countTotal), nopCloser{}, nil

	case config.FeedSQLite:
		store, err := sqlstore.Open(ctx, cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store.Table(cfg.Table, countTotal, cfg.OrderBy...), store, nil
	}
	return nil, nil, fmt.Errorf("unknown feed type %q", cfg.Type)
}
