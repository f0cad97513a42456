// =============================================================================
// Billing Summary - Text Enrichment Service
// =============================================================================
//
// The enrichment service resolves descriptive text for a set of group keys
// against an external text source.
//
// PROCESSING:
//   1. Collapse duplicate keys; answer cached keys without a lookup
//   2. Partition the remaining keys into fixed-size batches
//   3. Per batch: run every lookup concurrently and wait for all of them to
//      settle; a failing lookup degrades to an empty record for its key only
//   4. Pause between batches to throttle the external source
//
// GUARANTEES:
//   - Every requested key has an entry in the returned map.
//   - A failed lookup never aborts its siblings.
//   - Only successful lookups are cached.
//
// CANCELLATION:
//   The context is checked before each batch is dispatched. Lookups already
//   in flight are allowed to settle; unscheduled keys get empty records.
//
// =============================================================================

package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/billing-summary/internal/types"
)

const (
	// DefaultBatchSize bounds concurrent lookups.
	DefaultBatchSize = 5
	// DefaultBatchDelay is the pause between two batches.
	DefaultBatchDelay = 200 * time.Millisecond
)

// LookupFunc fetches the raw text for one key. Failures are returned as
// errors.
type LookupFunc func(ctx context.Context, key types.GroupKey) (types.RawText, error)

// TextSource is implemented by external text sources.
type TextSource interface {
	LookupText(ctx context.Context, key types.GroupKey) (types.RawText, error)
}

// FromSource adapts a TextSource to a LookupFunc.
func FromSource(src TextSource) LookupFunc {
	return src.LookupText
}

// errLookupPanicked marks a lookup that panicked instead of returning an
// error. It fails the whole batch.
var errLookupPanicked = errors.New("text lookup panicked")

// Options configures a Service.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration

	// Cache is shared across Enrich calls. A new one is created when nil.
	Cache *Cache

	Logger *zap.Logger
}

// Stats describes one Enrich call.
type Stats struct {
	Requested     int
	Distinct      int
	CacheHits     int
	Lookups       int
	Failures      int
	Batches       int
	BatchFailures int
	Unscheduled   int
}

// Degraded is the number of keys that ended with an empty record because
// of a failure or cancellation.
func (s Stats) Degraded() int {
	return s.Failures + s.Unscheduled
}

// Report is the full outcome of an Enrich call.
type Report struct {
	Texts map[types.GroupKey]types.TextRecord
	Stats Stats
}

// Service performs batched, cached text lookups.
type Service struct {
	cache      *Cache
	batchSize  int
	batchDelay time.Duration
	logger     *zap.Logger

	// sleep waits between batches; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a Service. Zero options fall back to the defaults;
// a negative BatchDelay disables the pause.
func NewService(opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay == 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.Cache == nil {
		opts.Cache = NewCache()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		cache:      opts.Cache,
		batchSize:  opts.BatchSize,
		batchDelay: opts.BatchDelay,
		logger:     opts.Logger,
		sleep:      sleepContext,
	}
}

// Cache exposes the service's cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// ClearCache resets the cache.
func (s *Service) ClearCache() {
	s.cache.Clear()
}

// Enrich returns a text record for every key. The error is non-nil only when
// ctx ended before every batch was dispatched; the map is total regardless.
func (s *Service) Enrich(ctx context.Context, keys []types.GroupKey, lookup LookupFunc) (map[types.GroupKey]types.TextRecord, error) {
	report, err := s.EnrichReport(ctx, keys, lookup)
	return report.Texts, err
}

// EnrichReport is Enrich with per-call statistics.
func (s *Service) EnrichReport(ctx context.Context, keys []types.GroupKey, lookup LookupFunc) (*Report, error) {
	distinct := distinctKeys(keys)
	report := &Report{
		Texts: make(map[types.GroupKey]types.TextRecord, len(distinct)),
		Stats: Stats{Requested: len(keys), Distinct: len(distinct)},
	}

	var pending []types.GroupKey
	for _, key := range distinct {
		if rec, ok := s.cache.Get(key); ok {
			report.Texts[key] = rec
			report.Stats.CacheHits++
			continue
		}
		pending = append(pending, key)
	}

	batches := partition(pending, s.batchSize)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			s.abandon(report, batches[i:])
			return report, err
		}

		report.Stats.Batches++
		if err := s.runBatch(ctx, batch, lookup, report); err != nil {
			report.Stats.BatchFailures++
			s.logger.Warn("text batch failed, using empty texts",
				zap.Int("batch", i),
				zap.Int("keys", len(batch)),
				zap.Error(err),
			)
			for _, key := range batch {
				report.Texts[key] = types.TextRecord{}
			}
		}

		if i < len(batches)-1 {
			if err := s.sleep(ctx, s.batchDelay); err != nil {
				s.abandon(report, batches[i+1:])
				return report, err
			}
		}
	}

	return report, nil
}

// runBatch dispatches one batch and waits until every lookup has settled.
func (s *Service) runBatch(ctx context.Context, batch []types.GroupKey, lookup LookupFunc, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch dispatch: %v", r)
		}
	}()

	records := make([]types.TextRecord, len(batch))
	fetched := make([]bool, len(batch))
	var lookups, failures atomic.Int64

	var g errgroup.Group
	for i, key := range batch {
		g.Go(func() error {
			if rec, ok := s.cache.Get(key); ok {
				records[i] = rec
				return nil
			}

			lookups.Add(1)
			raw, err := safeLookup(ctx, lookup, key)
			if err != nil {
				if errors.Is(err, errLookupPanicked) {
					return err
				}
				failures.Add(1)
				s.logger.Warn("text lookup failed",
					zap.String("key", string(key)),
					zap.Error(err),
				)
				return nil
			}

			records[i] = types.NewTextRecord(raw)
			fetched[i] = true
			return nil
		})
	}

	waitErr := g.Wait()
	report.Stats.Lookups += int(lookups.Load())
	if waitErr != nil {
		report.Stats.Failures += len(batch)
		return waitErr
	}
	report.Stats.Failures += int(failures.Load())

	// A failed batch caches nothing, so its keys are looked up again later.
	for i, key := range batch {
		if fetched[i] {
			s.cache.Put(key, records[i])
		}
		report.Texts[key] = records[i]
	}
	return nil
}

func (s *Service) abandon(report *Report, batches [][]types.GroupKey) {
	for _, batch := range batches {
		for _, key := range batch {
			report.Texts[key] = types.TextRecord{}
			report.Stats.Unscheduled++
		}
	}
}

// safeLookup converts a panicking lookup into errLookupPanicked.
func safeLookup(ctx context.Context, lookup LookupFunc, key types.GroupKey) (raw types.RawText, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: key %s: %v", errLookupPanicked, key, r)
		}
	}()
	return lookup(ctx, key)
}

func distinctKeys(keys []types.GroupKey) []types.GroupKey {
	seen := make(map[types.GroupKey]struct{}, len(keys))
	out := make([]types.GroupKey, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func partition(keys []types.GroupKey, size int) [][]types.GroupKey {
	var batches [][]types.GroupKey
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[start:end])
	}
	return batches
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
