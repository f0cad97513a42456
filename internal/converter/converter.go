// =============================================================================
// Billing Summary - Run Orchestration
// =============================================================================
//
// This module wires one run end to end, from the configured feeds to the
// files left in the output directory.
//
// SUMMARIZE PIPELINE:
//   1. Build the condition taxonomy and the aggregation engine
//   2. Open the billing feed and compile its transformation rules
//   3. Optionally open the SQLite text table for enrichment
//   4. Drive the pagination coordinator (all pages or up to max_pages)
//   5. Audit the loaded lines for ignored codes and bad amounts
//   6. Generate the billing summary XML
//   7. Write, archive and log the output
//
// RECONCILE PIPELINE:
//   1. Open the ledger (primary) and tax (secondary) feeds
//   2. Drain both and fold them per document
//   3. Generate the reconciliation XML
//   4. Write, archive and log the output
//
// A failed page fetch is written to an error log in the output directory
// before the error is returned.
//
// =============================================================================

package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/config"
	"github.com/ginjaninja78/billing-summary/internal/enrichment"
	"github.com/ginjaninja78/billing-summary/internal/feed"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/reconcile"
	"github.com/ginjaninja78/billing-summary/internal/sqlstore"
	"github.com/ginjaninja78/billing-summary/internal/types"
	"github.com/ginjaninja78/billing-summary/internal/validation"
	"github.com/ginjaninja78/billing-summary/internal/xmlwriter"
	"github.com/ginjaninja78/billing-summary/pkg/utils"
)

// maxLoggedFindings caps the line quality findings written to the debug log.
const maxLoggedFindings = 50

// Kind names the two run types. It is used in file names and logs.
type Kind string

const (
	KindSummary        Kind = "summary"
	KindReconciliation Kind = "reconciliation"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of one run.
type Result struct {
	Kind  Kind
	RunID string

	// OutputFile is the path of the generated XML file.
	OutputFile string

	// SummaryFile and ArchiveFile are empty when disabled.
	SummaryFile string
	ArchiveFile string

	// Exactly one of Snapshot and Reconciliation is set.
	Snapshot       *pagination.Snapshot
	Reconciliation *reconcile.Result

	Stats ProcessingStats
}

// ProcessingStats contains statistics about the run.
type ProcessingStats struct {
	Pages   int
	Records int

	// Results is the number of groups or documents written.
	Results int
	Skipped int

	Unmatched    int
	TextDegraded int

	// Warnings counts lines with an ignored condition type or a
	// non-numeric amount.
	Warnings int

	ProcessingTime time.Duration
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Options configures a Converter.
type Options struct {
	Logger *zap.Logger

	// OnProgress receives coordinator progress during a summarize run.
	OnProgress pagination.ProgressFunc
}

// Converter runs summarize and reconcile passes for one configuration.
type Converter struct {
	cfg        *config.MainConfig
	logger     *zap.Logger
	onProgress pagination.ProgressFunc
	files      *utils.FileManager
}

// New creates a Converter for cfg.
func New(cfg *config.MainConfig, opts Options) *Converter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Converter{
		cfg:        cfg,
		logger:     opts.Logger,
		onProgress: opts.OnProgress,
		files:      utils.NewFileManager(cfg.Output.Dir, cfg.Output.ArchiveDir),
	}
}

// =============================================================================
// SUMMARIZE
// =============================================================================

// Summarize loads the billing feed, aggregates it and writes the summary.
func (c *Converter) Summarize(ctx context.Context) (*Result, error) {
	start := time.Now()
	cfg := c.cfg

	if cfg.Feed.Type == "" {
		return nil, fmt.Errorf("%w: feed.type is required", config.ErrInvalidConfig)
	}

	tx, err := cfg.BuildTaxonomy()
	if err != nil {
		return nil, err
	}
	aggOpts, err := cfg.AggregationOptions()
	if err != nil {
		return nil, err
	}
	aggOpts.Logger = c.logger
	engine, err := aggregation.NewEngine(tx, aggOpts)
	if err != nil {
		return nil, err
	}

	transformer, err := NewTransformer(cfg.Feed.TransformationRules)
	if err != nil {
		return nil, err
	}
	rows, closer, err := feed.Open(ctx, cfg.Feed, c.logger)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(closer, c.logger)

	lines, err := feed.Lines(rows, cfg.Feed.Columns, transformer.TransformRow)
	if err != nil {
		return nil, err
	}

	coordOpts := pagination.Options{
		PageSize:   cfg.Pagination.PageSize,
		Filters:    cfg.Feed.PaginationFilters(),
		OnProgress: c.onProgress,
		Logger:     c.logger,
	}
	if cfg.Enrichment.Enabled {
		src := cfg.Enrichment.Source
		store, err := sqlstore.Open(ctx, src.Path, c.logger)
		if err != nil {
			return nil, fmt.Errorf("text source: %w", err)
		}
		defer closeQuietly(store, c.logger)

		coordOpts.Enricher = enrichment.NewService(enrichment.Options{
			BatchSize:  cfg.Enrichment.BatchSize,
			BatchDelay: cfg.Enrichment.BatchDelay,
			Logger:     c.logger,
		})
		coordOpts.Lookup = enrichment.FromSource(store.Texts(src.Table, src.KeyColumn, src.Columns))
	}

	coord, err := pagination.NewCoordinator(lines, engine, coordOpts)
	if err != nil {
		return nil, err
	}

	snap, err := c.load(ctx, coord)
	if err != nil {
		c.recordFailure(KindSummary, cfg.Feed.Path, err)
		return nil, err
	}

	audit := validation.CheckResult(snap.Result, tx)
	if audit.WarningCount > 0 {
		c.logger.Warn("line quality warnings",
			zap.String("run", snap.RunID),
			zap.Int("warnings", audit.WarningCount),
		)
		c.logger.Debug(validation.FormatErrors(audit.Errors, maxLoggedFindings))
	}

	genOpts := c.generateOptions(cfg.Feed.Path)
	data, err := xmlwriter.GenerateSummary(snap.RunID, snap.Result, tx, genOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate XML: %w", err)
	}

	net, invoice := snap.Result.Totals()
	result := &Result{
		Kind:     KindSummary,
		RunID:    snap.RunID,
		Snapshot: snap,
		Stats: ProcessingStats{
			Pages:        snap.Pages,
			Records:      snap.Loaded,
			Results:      snap.Result.Len(),
			Skipped:      len(snap.Result.Skipped),
			TextDegraded: snap.Enrichment.Degraded(),
			Warnings:     audit.WarningCount,
		},
	}
	summary := utils.RunSummary{
		Source:       cfg.Feed.Path,
		Labels:       []string{"Net", "Invoice"},
		Totals:       map[string]string{"Net": net.StringFixed(2), "Invoice": invoice.StringFixed(2)},
		TextLookups:  snap.Enrichment.Lookups,
		TextCacheHit: snap.Enrichment.CacheHits,
		TextDegraded: snap.Enrichment.Degraded(),
		Warnings:     audit.WarningCount,
		Skipped:      skippedLines(snap.Result.Skipped),
	}
	if err := c.finish(result, data, summary, start); err != nil {
		return nil, err
	}
	return result, nil
}

// load runs the coordinator either to exhaustion or for at most
// pagination.max_pages pages.
func (c *Converter) load(ctx context.Context, coord *pagination.Coordinator) (*pagination.Snapshot, error) {
	p := c.cfg.Pagination
	if p.LoadAll || p.MaxPages <= 0 {
		return coord.LoadAll(ctx)
	}

	snap, err := coord.Load(ctx, pagination.Reset)
	for err == nil && snap.HasMore && snap.Pages < p.MaxPages {
		snap, err = coord.LoadMore(ctx)
	}
	if err == nil && snap.HasMore {
		c.logger.Warn("stopped at max_pages with more data available",
			zap.Int("max_pages", p.MaxPages),
			zap.Int("loaded", snap.Loaded),
		)
	}
	return snap, err
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile drains the ledger and tax feeds and writes one record per
// document.
func (c *Converter) Reconcile(ctx context.Context) (*Result, error) {
	start := time.Now()
	rc := c.cfg.Reconcile

	if rc.Primary.Type == "" || rc.Secondary.Type == "" {
		return nil, fmt.Errorf("%w: reconcile.primary and reconcile.secondary are required", config.ErrInvalidConfig)
	}

	primaryTx, err := NewTransformer(rc.Primary.TransformationRules)
	if err != nil {
		return nil, fmt.Errorf("primary feed: %w", err)
	}
	secondaryTx, err := NewTransformer(rc.Secondary.TransformationRules)
	if err != nil {
		return nil, fmt.Errorf("secondary feed: %w", err)
	}

	primaryRows, primaryCloser, err := feed.Open(ctx, rc.Primary, c.logger)
	if err != nil {
		return nil, fmt.Errorf("primary feed: %w", err)
	}
	defer closeQuietly(primaryCloser, c.logger)

	secondaryRows, secondaryCloser, err := feed.Open(ctx, rc.Secondary, c.logger)
	if err != nil {
		return nil, fmt.Errorf("secondary feed: %w", err)
	}
	defer closeQuietly(secondaryCloser, c.logger)

	primary, err := feed.PrimaryLines(primaryRows, rc.Primary.Columns, primaryTx.TransformRow)
	if err != nil {
		return nil, fmt.Errorf("primary feed: %w", err)
	}
	secondary, err := feed.SecondaryItems(secondaryRows, rc.Secondary.Columns, secondaryTx.TransformRow)
	if err != nil {
		return nil, fmt.Errorf("secondary feed: %w", err)
	}

	runID := uuid.NewString()
	c.logger.Info("starting reconciliation", zap.String("run", runID))

	rec, err := reconcile.New(c.logger).Load(ctx, reconcile.Feeds{
		Primary:          primary,
		Secondary:        secondary,
		PageSize:         c.cfg.Pagination.PageSize,
		PrimaryFilters:   rc.Primary.PaginationFilters(),
		SecondaryFilters: rc.Secondary.PaginationFilters(),
	})
	if err != nil {
		c.recordFailure(KindReconciliation, rc.Primary.Path+" + "+rc.Secondary.Path, err)
		return nil, err
	}

	data, err := xmlwriter.GenerateReconciliation(runID, rec, c.generateOptions(rc.Primary.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to generate XML: %w", err)
	}

	records := len(rec.Skipped)
	for _, d := range rec.Documents {
		records += len(d.Lines)
	}
	result := &Result{
		Kind:           KindReconciliation,
		RunID:          runID,
		Reconciliation: rec,
		Stats: ProcessingStats{
			Records:   records,
			Results:   len(rec.Documents),
			Skipped:   len(rec.Skipped),
			Unmatched: len(rec.Unmatched),
		},
	}
	summary := utils.RunSummary{
		Source:    rc.Primary.Path + " + " + rc.Secondary.Path,
		Records:   records,
		Labels:    []string{"Grand Total"},
		Totals:    map[string]string{"Grand Total": rec.GrandTotal().StringFixed(2)},
		Unmatched: len(rec.Unmatched),
		Skipped:   skippedLines(rec.Skipped),
	}
	if err := c.finish(result, data, summary, start); err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// finish writes the export and the optional archive copy and summary log.
func (c *Converter) finish(result *Result, data []byte, summary utils.RunSummary, start time.Time) error {
	if err := c.files.EnsureDirectories(); err != nil {
		return err
	}

	name := utils.GenerateOutputFileName(c.cfg.Output.FileFormat, map[string]string{
		"kind": string(result.Kind),
		"run":  result.RunID,
	})
	outputPath, err := c.files.WriteOutput(name, data)
	if err != nil {
		return err
	}
	result.OutputFile = outputPath
	c.logger.Info("wrote output",
		zap.String("kind", string(result.Kind)),
		zap.String("run", result.RunID),
		zap.String("file", outputPath),
	)

	if archived, err := c.files.ArchiveOutputFile(outputPath); err != nil {
		c.logger.Warn("failed to archive output", zap.Error(err))
	} else {
		result.ArchiveFile = archived
	}
	if c.cfg.Output.ArchiveDir != "" && c.cfg.Output.ArchiveRetention > 0 {
		removed, err := utils.CleanOldArchives(c.cfg.Output.ArchiveDir, c.cfg.Output.ArchiveRetention)
		if err != nil {
			c.logger.Warn("failed to clean archives", zap.Error(err))
		} else if removed > 0 {
			c.logger.Info("removed old archives", zap.Int("count", removed))
		}
	}

	result.Stats.ProcessingTime = time.Since(start)

	if !c.cfg.Output.WriteSummary {
		return nil
	}
	summary.Kind = string(result.Kind)
	summary.RunID = result.RunID
	summary.StartTime = start
	summary.EndTime = start.Add(result.Stats.ProcessingTime)
	summary.Pages = result.Stats.Pages
	summary.Records = result.Stats.Records
	summary.Results = result.Stats.Results
	summary.OutputFile = outputPath

	summaryPath, err := utils.WriteSummaryLog(summary, c.cfg.Output.Dir)
	if err != nil {
		return err
	}
	result.SummaryFile = summaryPath
	return nil
}

// recordFailure writes a failed load to the error log. Errors writing the
// log itself are only logged.
func (c *Converter) recordFailure(kind Kind, source string, err error) {
	entry := utils.ErrorLogEntry{
		Timestamp:    time.Now(),
		Source:       source,
		ErrorType:    string(kind) + " load",
		ErrorMessage: err.Error(),
	}
	var fe *pagination.FetchError
	if errors.As(err, &fe) {
		entry.ErrorType = "page fetch"
		entry.Page, entry.Skip = fe.Page, fe.Skip
	}

	c.logger.Error("load failed", zap.String("kind", string(kind)), zap.Error(err))

	if dirErr := c.files.EnsureDirectories(); dirErr != nil {
		c.logger.Warn("failed to write error log", zap.Error(dirErr))
		return
	}
	if path, logErr := utils.WriteErrorLog([]utils.ErrorLogEntry{entry}, c.cfg.Output.Dir); logErr != nil {
		c.logger.Warn("failed to write error log", zap.Error(logErr))
	} else {
		c.logger.Info("wrote error log", zap.String("file", path))
	}
}

func (c *Converter) generateOptions(source string) xmlwriter.GenerateOptions {
	opts := xmlwriter.DefaultGenerateOptions()
	opts.IncludeLines = c.cfg.Output.IncludeLines
	if source != "" {
		opts.RootAttributes["source"] = source
	}
	return opts
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func skippedLines(items []types.SkippedItem) []utils.SkippedLine {
	out := make([]utils.SkippedLine, len(items))
	for i, s := range items {
		out[i] = utils.SkippedLine{Index: s.Index, Reason: s.Reason}
	}
	return out
}

func closeQuietly(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", zap.Error(err))
	}
}
