// Package engine executes report configurations into chartable results.
// Execution is fingerprint-cached and deduplicated: at most one computation
// is in flight per fingerprint, concurrent identical requests await the
// in-flight result instead of hitting the data source twice.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/reportd-data/reportd/internal/cache"
	"github.com/reportd-data/reportd/internal/catalog"
	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/source"
)

// Options tune one execution.
type Options struct {
	// ForceRefresh bypasses the cache lookup (the result is still stored).
	ForceRefresh bool

	// Timeout bounds the execution. Zero means no engine-imposed deadline.
	// An elapsed timeout surfaces as domain.ErrSourceUnavailable.
	Timeout time.Duration
}

// Engine turns finished configurations into ReportResults.
type Engine struct {
	catalog *catalog.Catalog
	src     source.Source
	results *cache.Cache[string, *domain.ReportResult]
	flights singleflight.Group
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCache replaces the default result cache.
func WithCache(c *cache.Cache[string, *domain.ReportResult]) Option {
	return func(e *Engine) { e.results = c }
}

// New creates an Engine over the given catalog and data source collaborator.
func New(cat *catalog.Catalog, src source.Source, opts ...Option) *Engine {
	e := &Engine{
		catalog: cat,
		src:     src,
		results: cache.New[string, *domain.ReportResult](cache.Options{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a configuration. Cache policy: a hit younger than the owning
// data source's refresh rate is returned with CacheHit set; a miss, a stale
// entry, or ForceRefresh triggers a fresh computation. Failures are never
// cached. A caller that cancels gets context.Canceled immediately; an
// in-flight computation it shares with other callers keeps running for them.
func (e *Engine) Execute(ctx context.Context, cfg domain.ReportConfiguration, opts Options) (*domain.ReportResult, error) {
	src, ok := e.catalog.Source(cfg.DataSourceID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown data source %q", domain.ErrSourceUnavailable, cfg.DataSourceID)
	}

	// The validator guarantees supported aggregations; reaching this check
	// with a mismatch means the validator was bypassed.
	for _, m := range cfg.Metrics {
		f := src.FieldByName(m.Field)
		if f == nil || !f.SupportsAggregation(m.Aggregation) {
			return nil, fmt.Errorf("%w: %s(%s) on data source %q",
				domain.ErrAggregationMismatch, m.Aggregation, m.Field, src.ID)
		}
	}

	fp := Fingerprint(cfg)
	freshFor := time.Duration(src.RefreshRate) * time.Minute

	if !opts.ForceRefresh {
		if cached, age, ok := e.results.Get(fp); ok && age <= freshFor {
			hit := *cached
			hit.CacheHit = true
			return &hit, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, mapContextErr(err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Single-flight per fingerprint: a concurrent identical request awaits
	// the in-flight computation instead of duplicating the fetch. DoChan
	// (not Do) so each waiter still honors its own cancellation. The
	// computation itself runs on a context detached from the caller that
	// started it: a shared flight must not die because the first caller
	// hung up while others are still waiting. The engine timeout still
	// bounds the detached computation.
	ch := e.flights.DoChan(fp, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, opts.Timeout)
			defer cancel()
		}
		res, err := e.compute(fctx, cfg, src)
		if err != nil {
			return nil, err
		}
		e.results.SetWithTTL(fp, res, freshFor)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, mapContextErr(ctx.Err())
	case out := <-ch:
		if out.Err != nil {
			return nil, mapContextErr(out.Err)
		}
		res := out.Val.(*domain.ReportResult)
		if out.Shared {
			// Waiters see the shared result; copy so nobody mutates it.
			shared := *res
			res = &shared
		}
		return res, nil
	}
}

// Invalidate drops any cached result for the configuration's fingerprint.
func (e *Engine) Invalidate(cfg domain.ReportConfiguration) {
	e.results.Delete(Fingerprint(cfg))
}

// compute fetches raw rows and reduces them into a ReportResult:
// filter → group → aggregate → series/summary → sort → limit.
func (e *Engine) compute(ctx context.Context, cfg domain.ReportConfiguration, src domain.DataSource) (*domain.ReportResult, error) {
	started := e.now()

	rows, err := e.src.FetchRows(ctx, source.Query{
		DataSourceID: cfg.DataSourceID,
		Filters:      cfg.Filters,
		TimeFrame:    cfg.TimeFrame,
		StartDate:    cfg.StartDate,
		EndDate:      cfg.EndDate,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, domain.ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	filtered := applyFilters(rows, cfg.Filters)
	groups := groupRows(filtered, cfg.GroupByDimensions())
	ds := buildDataset(groups, cfg.Metrics)

	// Summary covers every group; sorting and the row limit are
	// presentation-side and apply afterwards.
	summary := summarize(ds)
	ds = sortAndLimit(ds, cfg)

	res := &domain.ReportResult{
		ID:               uuid.New(),
		Configuration:    cfg,
		Dataset:          ds,
		Summary:          summary,
		GeneratedAt:      e.now(),
		ProcessingTimeMs: e.now().Sub(started).Milliseconds(),
		CacheHit:         false,
	}

	slog.Debug("engine: executed configuration",
		"data_source", cfg.DataSourceID,
		"rows", len(rows),
		"groups", len(ds.Labels),
		"processing_ms", res.ProcessingTimeMs,
	)
	return res, nil
}

// mapContextErr turns an elapsed deadline into the transient source error;
// plain cancellation passes through so callers can tell the two apart (a
// cancelled run writes no history).
func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: execution timed out", domain.ErrSourceUnavailable)
	}
	return err
}
