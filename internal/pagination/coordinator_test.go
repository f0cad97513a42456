package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/enrichment"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// sliceSource pages over an in-memory slice.
type sliceSource struct {
	items     []types.RawLineItem
	withTotal bool
	failAt    int // skip offset that fails; -1 never
	requests  []int
}

func (s *sliceSource) FetchPage(ctx context.Context, skip, pageSize int, filters Filters) (Page[types.RawLineItem], error) {
	s.requests = append(s.requests, skip)
	if skip == s.failAt {
		return Page[types.RawLineItem]{}, errors.New("service unavailable")
	}
	end := skip + pageSize
	if end > len(s.items) {
		end = len(s.items)
	}
	var recs []types.RawLineItem
	if skip < len(s.items) {
		recs = append(recs, s.items[skip:end]...)
	}
	return Page[types.RawLineItem]{Records: recs, TotalCount: len(s.items), HasTotal: s.withTotal}, nil
}

func genLines(n int) []types.RawLineItem {
	conds := []string{"PR00", "MWST", "K007"}
	items := make([]types.RawLineItem, n)
	for i := range items {
		items[i] = types.RawLineItem{
			// Groups deliberately span page boundaries.
			PrimaryKey:      fmt.Sprintf("9000%04d", i/3),
			SecondaryKey:    "000010",
			ConditionType:   conds[i%3],
			ConditionAmount: fmt.Sprintf("%d.25", i+1),
			Attributes:      map[string]string{"customer": ""},
		}
		if i%3 == 2 {
			items[i].Attributes["customer"] = fmt.Sprintf("C%d", i)
		}
	}
	return items
}

func newCoordinator(t *testing.T, src PageSource[types.RawLineItem], opts Options) *Coordinator {
	t.Helper()
	engine, err := aggregation.NewEngine(taxonomy.Default(), aggregation.Options{})
	require.NoError(t, err)
	c, err := NewCoordinator(src, engine, opts)
	require.NoError(t, err)
	return c
}

func TestCoordinator_HasMoreWithTotal(t *testing.T) {
	src := &sliceSource{items: genLines(25), withTotal: true, failAt: -1}
	c := newCoordinator(t, src, Options{PageSize: 10})
	ctx := context.Background()

	snap, err := c.Load(ctx, Reset)
	require.NoError(t, err)
	assert.True(t, snap.HasMore)
	assert.Equal(t, StateHasMore, c.State())

	snap, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, snap.HasMore)

	snap, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, snap.HasMore)
	assert.Equal(t, 25, snap.Loaded)
	assert.Equal(t, 3, snap.Pages)
	assert.Equal(t, StateDone, c.State())

	// A further load-more is a no-op.
	again, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, again)
	assert.Equal(t, []int{0, 10, 20}, src.requests)
}

func TestCoordinator_HasMoreHeuristic(t *testing.T) {
	src := &sliceSource{items: genLines(20), failAt: -1}
	c := newCoordinator(t, src, Options{PageSize: 10})
	ctx := context.Background()

	snap, err := c.LoadAll(ctx)
	require.NoError(t, err)

	// Two full pages, then an empty one ends the feed.
	assert.False(t, snap.HasMore)
	assert.Equal(t, 20, snap.Loaded)
	assert.Equal(t, []int{0, 10, 20}, src.requests)
}

func TestCoordinator_AppendMatchesSinglePass(t *testing.T) {
	items := genLines(20)

	paged := newCoordinator(t, &sliceSource{items: items, withTotal: true, failAt: -1}, Options{PageSize: 10})
	_, err := paged.Load(context.Background(), Reset)
	require.NoError(t, err)
	got, err := paged.LoadMore(context.Background())
	require.NoError(t, err)

	single := newCoordinator(t, &sliceSource{items: items, withTotal: true, failAt: -1}, Options{PageSize: 20})
	want, err := single.Load(context.Background(), Reset)
	require.NoError(t, err)

	require.Equal(t, want.Result.Keys(), got.Result.Keys())
	for _, wg := range want.Result.Groups {
		gg, ok := got.Result.Get(wg.Key)
		require.True(t, ok)
		assert.True(t, wg.InvoiceAmount.Equal(gg.InvoiceAmount), wg.Key)
		assert.True(t, wg.NetAmount.Equal(gg.NetAmount), wg.Key)
		assert.Equal(t, wg.Attributes, gg.Attributes)
		assert.Len(t, gg.Lines, len(wg.Lines))
	}
}

func TestCoordinator_ResetDiscardsState(t *testing.T) {
	src := &sliceSource{items: genLines(20), withTotal: true, failAt: -1}
	c := newCoordinator(t, src, Options{PageSize: 10})
	ctx := context.Background()

	first, err := c.LoadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, first.Loaded)

	snap, err := c.Load(ctx, Reset)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Loaded)
	assert.Equal(t, 1, snap.Pages)
	assert.NotEqual(t, first.RunID, snap.RunID)
}

func TestCoordinator_FetchErrorKeepsPreviousResult(t *testing.T) {
	src := &sliceSource{items: genLines(30), withTotal: true, failAt: 10}
	c := newCoordinator(t, src, Options{PageSize: 10, Filters: Filters{"region": "EMEA"}})
	ctx := context.Background()

	first, err := c.Load(ctx, Reset)
	require.NoError(t, err)

	_, err = c.LoadMore(ctx)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.Page)
	assert.Equal(t, 10, fe.Skip)
	assert.Equal(t, "EMEA", fe.Filters["region"])
	assert.Contains(t, err.Error(), "service unavailable")
	assert.Contains(t, err.Error(), "region=EMEA")

	assert.Equal(t, StateError, c.State())
	assert.Same(t, first, c.Snapshot())
}

func TestCoordinator_ProgressAndEnrichment(t *testing.T) {
	src := &sliceSource{items: genLines(6), withTotal: true, failAt: -1}

	var seen []types.Progress
	lookup := func(ctx context.Context, key types.GroupKey) (types.RawText, error) {
		if key == "90000001_000010" {
			return nil, errors.New("not found")
		}
		return types.RawText{"item_text": "item " + string(key)}, nil
	}
	svc := enrichment.NewService(enrichment.Options{BatchDelay: -1})

	c := newCoordinator(t, src, Options{
		PageSize:   10,
		Enricher:   svc,
		Lookup:     lookup,
		OnProgress: func(p types.Progress) { seen = append(seen, p) },
	})

	snap, err := c.Load(context.Background(), Reset)
	require.NoError(t, err)

	steps := make([]string, len(seen))
	for i, p := range seen {
		steps[i] = p.Step
		assert.Equal(t, 3, p.TotalSteps)
	}
	assert.Equal(t, []string{"fetching_page", "enriching", "aggregating", "done"}, steps)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[len(seen)-1].Loading)

	g0, ok := snap.Result.Get("90000000_000010")
	require.True(t, ok)
	assert.Equal(t, "item 90000000_000010", g0.Text.ItemText)

	g1, ok := snap.Result.Get("90000001_000010")
	require.True(t, ok)
	assert.True(t, g1.Text.IsEmpty())
	assert.Equal(t, 1, snap.Enrichment.Failures)
}

func TestCoordinator_LineIndexesAndSkipped(t *testing.T) {
	items := genLines(12)
	items[11].PrimaryKey = ""
	src := &sliceSource{items: items, withTotal: true, failAt: -1}
	c := newCoordinator(t, src, Options{PageSize: 6})

	snap, err := c.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Result.Skipped, 1)
	assert.Equal(t, 11, snap.Result.Skipped[0].Index)

	g, ok := snap.Result.Get("90000002_000010")
	require.True(t, ok)
	assert.Equal(t, []int{6, 7, 8}, []int{g.Lines[0].Index, g.Lines[1].Index, g.Lines[2].Index})
}

func TestNewCoordinator_RequiresSource(t *testing.T) {
	engine, err := aggregation.NewEngine(taxonomy.Default(), aggregation.Options{})
	require.NoError(t, err)
	_, err = NewCoordinator(nil, engine, Options{})
	assert.ErrorIs(t, err, ErrNoSource)
}
