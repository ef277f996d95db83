// Package fetcher orchestrates candle retrieval across ranked providers:
// priority fallback, retry with backoff, per-provider rate limiting, TTL
// caching, re-bucketing of timeframes a venue lacks natively, and
// superseded-request discard. It produces one validated,
// deduplicated, ascending candle series per request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chartdesk/internal/cache"
	"chartdesk/internal/marketdata/agg"
	"chartdesk/internal/marketdata/provider"
	"chartdesk/internal/model"
)

// Config tunes fetch policy. Zero values are replaced with the defaults.
type Config struct {
	// MinViableBars is the smallest series a provider may return and still
	// count as a success; fewer bars is a soft failure that triggers the
	// next provider.
	MinViableBars int

	// BatchSize is how many bars to request per provider call.
	BatchSize int

	// MaxAttempts bounds retries against a single provider.
	MaxAttempts int

	// BackoffBase/BackoffMax shape the exponential backoff used after a
	// rate-limit response.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// NetworkRetryDelay is the fixed pause after a transient network error.
	NetworkRetryDelay time.Duration

	// MinCallSpacing is the minimum gap between consecutive outbound calls
	// to any single provider. Calls are serialized and delayed, not
	// rejected. Zero disables spacing.
	MinCallSpacing time.Duration

	// CandleTTL caches candle responses (volatile, short). LookupTTL caches
	// symbol searches (stable, long).
	CandleTTL time.Duration
	LookupTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinViableBars == 0 {
		c.MinViableBars = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 300
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.NetworkRetryDelay == 0 {
		c.NetworkRetryDelay = 500 * time.Millisecond
	}
	if c.CandleTTL == 0 {
		c.CandleTTL = 2 * time.Minute
	}
	if c.LookupTTL == 0 {
		c.LookupTTL = 6 * time.Hour
	}
	return c
}

// Fetcher tries ranked providers in order until one yields a viable series.
// It is safe for concurrent use; the rate limiters and cache are shared
// process-wide, while each logical request key (one per chart pane) carries
// its own generation counter for stale-result discard.
type Fetcher struct {
	providers []provider.Provider
	cache     cache.Cache
	cfg       Config
	log       *slog.Logger

	// Metrics hooks (optional, set externally).
	OnCacheHit        func()
	OnCacheMiss       func()
	OnProviderFailure func(name string)
	OnRetry           func(name string)

	// OnServed fires after a provider delivers a usable batch, e.g. to
	// persist it to the local candle store.
	OnServed func(provider, symbol string, tf model.Timeframe, candles model.Series)

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	gens     map[string]uint64

	// sleep is overridable in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher over the ranked provider list, highest priority
// first.
func New(providers []provider.Provider, c cache.Cache, cfg Config, log *slog.Logger) *Fetcher {
	return &Fetcher{
		providers: providers,
		cache:     c,
		cfg:       cfg.withDefaults(),
		log:       log,
		limiters:  make(map[string]*rate.Limiter),
		gens:      make(map[string]uint64),
		sleep:     sleepCtx,
	}
}

// Fetch returns the most recent candle batch for (symbol, timeframe).
// key identifies the logical requester (one chart pane); starting a new
// Fetch or FetchOlder for the same key invalidates in-flight predecessors,
// which return model.ErrSuperseded and must be dropped silently.
func (f *Fetcher) Fetch(ctx context.Context, key, symbol string, tf model.Timeframe) (model.Series, error) {
	gen := f.begin(key)

	cacheKey := fmt.Sprintf("candles:%s:%s:%d", symbol, tf, f.cfg.BatchSize)
	var cached model.Series
	if f.cache != nil && f.cache.Get(ctx, cacheKey, &cached) && len(cached) > 0 {
		if f.OnCacheHit != nil {
			f.OnCacheHit()
		}
		return f.finish(key, gen, cached)
	}
	if f.OnCacheMiss != nil {
		f.OnCacheMiss()
	}

	series, err := f.fallbackFetch(ctx, symbol, tf, func(ctx context.Context, p provider.Provider, tf model.Timeframe, limit int) (model.Series, error) {
		return p.Fetch(ctx, symbol, tf, limit)
	})
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if cerr := f.cache.Set(ctx, cacheKey, series, f.cfg.CandleTTL); cerr != nil {
			f.log.Warn("cache write failed", "key", cacheKey, "err", cerr)
		}
	}
	return f.finish(key, gen, series)
}

// FetchOlder extends a series backward: it requests a batch older than the
// earliest held timestamp and returns only genuinely new, older candles.
// known holds the timestamps already in the pane's series. An empty result
// with nil error means no more history exists; the caller records that in a
// sticky flag and stops backfilling.
func (f *Fetcher) FetchOlder(ctx context.Context, key, symbol string, tf model.Timeframe, before int64, known map[int64]struct{}) (model.Series, error) {
	gen := f.begin(key)

	var lastErr error
	for _, p := range f.providers {
		batch, err := f.fetchTF(ctx, p, tf, func(ctx context.Context, tf model.Timeframe, limit int) (model.Series, error) {
			return p.FetchBefore(ctx, symbol, tf, before, limit)
		})
		if err != nil {
			// For backfill an empty provider response is the legitimate end
			// of history, not a reason to fall back.
			if errors.Is(err, model.ErrNoData) {
				return f.finish(key, gen, nil)
			}
			lastErr = err
			if f.OnProviderFailure != nil {
				f.OnProviderFailure(p.Name())
			}
			f.log.Warn("backfill provider failed", "provider", p.Name(), "symbol", symbol, "err", err)
			continue
		}
		merged := agg.Merge(batch)
		if f.OnServed != nil {
			f.OnServed(p.Name(), symbol, tf, merged)
		}
		older := agg.OlderThan(merged, before, known)
		return f.finish(key, gen, older)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", symbol, model.ErrSymbolNotFound)
}

// SearchSymbols runs autocomplete against the first provider supporting it,
// with long-TTL caching.
func (f *Fetcher) SearchSymbols(ctx context.Context, query string) ([]model.SymbolInfo, error) {
	cacheKey := "symbols:" + query
	var cached []model.SymbolInfo
	if f.cache != nil && f.cache.Get(ctx, cacheKey, &cached) {
		if f.OnCacheHit != nil {
			f.OnCacheHit()
		}
		return cached, nil
	}

	for _, p := range f.providers {
		searcher, ok := p.(provider.SymbolSearcher)
		if !ok {
			continue
		}
		if err := f.waitTurn(ctx, p.Name()); err != nil {
			return nil, err
		}
		results, err := searcher.SearchSymbols(ctx, query)
		if err != nil {
			f.log.Warn("symbol search failed", "provider", p.Name(), "err", err)
			continue
		}
		if f.cache != nil {
			f.cache.Set(ctx, cacheKey, results, f.cfg.LookupTTL)
		}
		return results, nil
	}
	return nil, fmt.Errorf("symbol search: %w", model.ErrProviderUnavailable)
}

// Invalidate marks every in-flight request for key as superseded, e.g. when
// a pane is closed or reconfigured.
func (f *Fetcher) Invalidate(key string) {
	f.begin(key)
}

// synthBases maps timeframes some venues do not serve natively onto a
// finer timeframe they do, plus the source bar count per re-bucketed
// output bar. When a provider reports no data for the requested timeframe
// the fetcher retries it at the base granularity and aggregates.
var synthBases = map[model.Timeframe]struct {
	base   model.Timeframe
	factor int
}{
	model.TF4h: {model.TF1h, 4},
	model.TF1w: {model.TF1d, 7},
}

// fetchTF asks one provider for the timeframe; if the provider has no data
// at that granularity but a finer base exists, it fetches the base series
// and re-buckets it. The original no-data error is kept when synthesis
// cannot help.
func (f *Fetcher) fetchTF(ctx context.Context, p provider.Provider, tf model.Timeframe, call func(ctx context.Context, tf model.Timeframe, limit int) (model.Series, error)) (model.Series, error) {
	series, err := f.fetchWithRetry(ctx, p, func(ctx context.Context) (model.Series, error) {
		return call(ctx, tf, f.cfg.BatchSize)
	})
	if err == nil || !errors.Is(err, model.ErrNoData) {
		return series, err
	}
	s, ok := synthBases[tf]
	if !ok {
		return nil, err
	}
	fine, ferr := f.fetchWithRetry(ctx, p, func(ctx context.Context) (model.Series, error) {
		return call(ctx, s.base, f.cfg.BatchSize*s.factor)
	})
	if ferr != nil {
		return nil, err
	}
	f.log.Info("re-bucketed finer granularity", "provider", p.Name(), "tf", tf, "base", s.base)
	return agg.Aggregate(fine, s.factor), nil
}

// fallbackFetch walks the ranked providers until one returns a viable
// series. Insufficient data is a soft failure (next provider, no error
// recorded); hard errors are remembered so the last one can be surfaced.
func (f *Fetcher) fallbackFetch(ctx context.Context, symbol string, tf model.Timeframe, call func(context.Context, provider.Provider, model.Timeframe, int) (model.Series, error)) (model.Series, error) {
	var lastErr error
	for _, p := range f.providers {
		p := p
		series, err := f.fetchTF(ctx, p, tf, func(ctx context.Context, tf model.Timeframe, limit int) (model.Series, error) {
			return call(ctx, p, tf, limit)
		})
		if err != nil {
			if !errors.Is(err, model.ErrNoData) {
				lastErr = err
				if f.OnProviderFailure != nil {
					f.OnProviderFailure(p.Name())
				}
			}
			f.log.Warn("provider failed", "provider", p.Name(), "symbol", symbol, "tf", tf, "err", err)
			continue
		}
		if len(series) < f.cfg.MinViableBars {
			f.log.Warn("provider below viable bar count", "provider", p.Name(), "symbol", symbol, "bars", len(series))
			continue
		}

		series = agg.Merge(series)
		if verr := series.Validate(); verr != nil {
			f.log.Warn("provider series invalid", "provider", p.Name(), "err", verr)
			lastErr = fmt.Errorf("%s: %v: %w", p.Name(), verr, model.ErrProviderUnavailable)
			continue
		}
		if f.OnServed != nil {
			f.OnServed(p.Name(), symbol, tf, series)
		}
		return series, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", symbol, model.ErrSymbolNotFound)
}

// fetchWithRetry applies the per-provider retry policy: rate-limit
// responses back off exponentially up to BackoffMax, transient network
// failures wait a short fixed delay, anything else fails the attempt
// immediately. Every outbound call first waits its turn on the provider's
// rate limiter.
func (f *Fetcher) fetchWithRetry(ctx context.Context, p provider.Provider, call func(context.Context) (model.Series, error)) (model.Series, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if err := f.waitTurn(ctx, p.Name()); err != nil {
			return nil, err
		}

		series, err := call(ctx)
		if err == nil {
			return series, nil
		}
		lastErr = err

		var delay time.Duration
		switch {
		case errors.Is(err, model.ErrRateLimited):
			delay = f.cfg.BackoffBase << attempt
			if delay > f.cfg.BackoffMax {
				delay = f.cfg.BackoffMax
			}
		case errors.Is(err, model.ErrNetwork):
			delay = f.cfg.NetworkRetryDelay
		default:
			return nil, err
		}

		if attempt == f.cfg.MaxAttempts-1 {
			break
		}
		if f.OnRetry != nil {
			f.OnRetry(p.Name())
		}
		f.log.Debug("retrying provider", "provider", p.Name(), "attempt", attempt+1, "delay", delay)
		if serr := f.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

// waitTurn blocks until the provider's minimum call spacing allows another
// outbound request.
func (f *Fetcher) waitTurn(ctx context.Context, name string) error {
	if f.cfg.MinCallSpacing <= 0 {
		return nil
	}
	f.mu.Lock()
	lim, ok := f.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.cfg.MinCallSpacing), 1)
		f.limiters[name] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}

// begin bumps and returns the generation for a logical request key.
func (f *Fetcher) begin(key string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gens[key]++
	return f.gens[key]
}

// finish checks the caller's generation is still current before handing the
// result back; a superseded request yields ErrSuperseded so no state is
// updated from stale data.
func (f *Fetcher) finish(key string, gen uint64, series model.Series) (model.Series, error) {
	f.mu.Lock()
	current := f.gens[key]
	f.mu.Unlock()
	if gen != current {
		return nil, model.ErrSuperseded
	}
	return series, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
