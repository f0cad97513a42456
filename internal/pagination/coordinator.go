// =============================================================================
// Billing Summary - Pagination Coordinator
// =============================================================================
//
// The coordinator drives the fetch -> enrich -> aggregate -> merge cycle over
// a paged feed of billing lines.
//
// STATE MACHINE:
//   Idle -> FetchingPage -> (Enriching) -> Aggregating -> HasMore | Done
//   any in-flight state -> Error (fetch failure or cancellation)
//
// LOAD MODES:
//   Reset  : discard retained lines and results, fetch from the first page
//   Append : fetch the next page, concatenate it to every line retained so
//            far and re-run enrichment and aggregation over the whole set, so
//            groups spanning pages are folded against the full history
//
// A failed load never merges a partial page: the retained state is what it
// was before the load (empty for a reset).
//
// =============================================================================

package pagination

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/enrichment"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// DefaultPageSize is used when Options.PageSize is zero.
const DefaultPageSize = 100

// ErrNoSource is returned when a coordinator is built without a source.
var ErrNoSource = errors.New("pagination: no page source")

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateFetchingPage State = "fetching_page"
	StateEnriching    State = "enriching"
	StateAggregating  State = "aggregating"
	StateHasMore      State = "has_more"
	StateDone         State = "done"
	StateError        State = "error"
)

// IsIdle reports whether no load is in flight.
func (s State) IsIdle() bool {
	switch s {
	case StateIdle, StateHasMore, StateDone, StateError:
		return true
	}
	return false
}

// LoadMode selects between a fresh load and a load-more.
type LoadMode int

const (
	Reset LoadMode = iota
	Append
)

// ProgressFunc receives every progress update.
type ProgressFunc func(types.Progress)

// Options configures a Coordinator.
type Options struct {
	PageSize int
	Filters  Filters

	// Enricher and Lookup enable the enrichment step; both must be set.
	Enricher *enrichment.Service
	Lookup   enrichment.LookupFunc

	OnProgress ProgressFunc
	Logger     *zap.Logger
}

// Snapshot is the finalized result set after a load.
type Snapshot struct {
	RunID      string
	Result     *aggregation.Result
	Loaded     int
	Pages      int
	TotalCount int
	HasTotal   bool
	HasMore    bool
	Enrichment enrichment.Stats
}

// Coordinator owns the retained lines and result set of one feed.
type Coordinator struct {
	source   PageSource[types.RawLineItem]
	engine   *aggregation.Engine
	enricher *enrichment.Service
	lookup   enrichment.LookupFunc
	pageSize int
	filters  Filters
	notify   ProgressFunc
	logger   *zap.Logger

	// loadMu serializes loads.
	loadMu sync.Mutex

	// mu guards everything below.
	mu       sync.RWMutex
	state    State
	progress types.Progress
	raw      []types.RawLineItem
	snapshot *Snapshot
}

// NewCoordinator builds a coordinator over source.
func NewCoordinator(source PageSource[types.RawLineItem], engine *aggregation.Engine, opts Options) (*Coordinator, error) {
	if source == nil {
		return nil, ErrNoSource
	}
	if engine == nil {
		return nil, errors.New("pagination: nil aggregation engine")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Coordinator{
		source:   source,
		engine:   engine,
		pageSize: opts.PageSize,
		filters:  opts.Filters,
		notify:   opts.OnProgress,
		logger:   opts.Logger,
		state:    StateIdle,
	}
	if opts.Enricher != nil && opts.Lookup != nil {
		c.enricher = opts.Enricher
		c.lookup = opts.Lookup
	}
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Progress returns the latest progress descriptor.
func (c *Coordinator) Progress() types.Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// Snapshot returns the last committed result set, or nil before the first
// successful load.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// HasMore reports whether the feed has more pages after the last load.
func (c *Coordinator) HasMore() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot != nil && c.snapshot.HasMore
}

// LoadMore is Load(ctx, Append).
func (c *Coordinator) LoadMore(ctx context.Context) (*Snapshot, error) {
	return c.Load(ctx, Append)
}

// LoadAll resets and keeps appending until the feed reports no more pages.
func (c *Coordinator) LoadAll(ctx context.Context) (*Snapshot, error) {
	snap, err := c.Load(ctx, Reset)
	for err == nil && snap.HasMore {
		snap, err = c.Load(ctx, Append)
	}
	return snap, err
}

// Load runs one fetch-enrich-aggregate cycle.
func (c *Coordinator) Load(ctx context.Context, mode LoadMode) (*Snapshot, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.Lock()
	if mode == Reset {
		c.raw = nil
		c.snapshot = nil
	} else if c.snapshot != nil && !c.snapshot.HasMore {
		snap := c.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	retained := c.raw
	prev := c.snapshot
	c.mu.Unlock()

	runID := uuid.NewString()
	if prev != nil {
		runID = prev.RunID
	}
	pageNo := 1
	if prev != nil {
		pageNo = prev.Pages + 1
	}

	totalSteps := 2
	if c.enricher != nil {
		totalSteps = 3
	}
	step := 1

	// ---- fetch ---------------------------------------------------------
	c.transition(StateFetchingPage, step, totalSteps)
	skip := len(retained)
	page, err := c.source.FetchPage(ctx, skip, c.pageSize, c.filters)
	if err != nil {
		c.transition(StateError, step, totalSteps)
		return nil, &FetchError{Page: pageNo, Skip: skip, PageSize: c.pageSize, Filters: c.filters, Err: err}
	}
	c.logger.Info("fetched page",
		zap.String("run", runID),
		zap.Int("page", pageNo),
		zap.Int("skip", skip),
		zap.Int("records", len(page.Records)),
	)

	all := make([]types.RawLineItem, 0, len(retained)+len(page.Records))
	all = append(all, retained...)
	for i, rec := range page.Records {
		rec.Index = skip + i
		all = append(all, rec)
	}

	// ---- enrich --------------------------------------------------------
	var texts map[types.GroupKey]types.TextRecord
	var stats enrichment.Stats
	if c.enricher != nil {
		step++
		c.transition(StateEnriching, step, totalSteps)
		report, err := c.enricher.EnrichReport(ctx, c.groupKeys(all), c.lookup)
		if err != nil {
			c.transition(StateError, step, totalSteps)
			return nil, err
		}
		texts, stats = report.Texts, report.Stats
		if stats.Degraded() > 0 {
			c.logger.Warn("text enrichment degraded",
				zap.String("run", runID),
				zap.Int("degraded", stats.Degraded()),
			)
		}
	}

	// ---- aggregate -----------------------------------------------------
	step++
	c.transition(StateAggregating, step, totalSteps)
	result := c.engine.Aggregate(all)
	if texts != nil {
		result.AttachText(texts)
	}

	snap := &Snapshot{
		RunID:      runID,
		Result:     result,
		Loaded:     len(all),
		Pages:      pageNo,
		Enrichment: stats,
	}
	if page.HasTotal {
		snap.TotalCount, snap.HasTotal = page.TotalCount, true
	} else if prev != nil {
		snap.TotalCount, snap.HasTotal = prev.TotalCount, prev.HasTotal
	}
	snap.HasMore = HasMore(snap.Loaded, len(page.Records), c.pageSize, snap.TotalCount, snap.HasTotal)

	final := StateDone
	if snap.HasMore {
		final = StateHasMore
	}

	c.mu.Lock()
	c.raw = all
	c.snapshot = snap
	c.mu.Unlock()
	c.transition(final, totalSteps, totalSteps)

	return snap, nil
}

// groupKeys returns the distinct group keys of lines that have one.
func (c *Coordinator) groupKeys(items []types.RawLineItem) []types.GroupKey {
	seen := make(map[types.GroupKey]struct{})
	var out []types.GroupKey
	for _, item := range items {
		key, err := c.engine.Key(item)
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func (c *Coordinator) transition(state State, step, total int) {
	p := types.Progress{
		Loading:     !state.IsIdle(),
		CurrentStep: step,
		TotalSteps:  total,
		Step:        string(state),
	}

	c.mu.Lock()
	c.state = state
	c.progress = p
	c.mu.Unlock()

	if c.notify != nil {
		c.notify(p)
	}
}
