// Package provider contains the candle provider contract and one thin
// adapter per public market-data API. Adapters translate symbols,
// timeframes and JSON shapes only; fallback order, retry and caching policy
// live in the fetcher.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"chartdesk/internal/model"
)

// Provider is the data-fetching contract every adapter implements. A
// successful fetch returns a non-empty ascending candle series; an empty or
// unsupported request maps onto model.ErrNoData so the fetcher can fall
// back to the next provider.
type Provider interface {
	Name() string

	// Fetch returns up to limit of the most recent candles.
	Fetch(ctx context.Context, symbol string, tf model.Timeframe, limit int) (model.Series, error)

	// FetchBefore returns up to limit candles strictly before the cutoff
	// (unix seconds), for incremental historical backfill.
	FetchBefore(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error)
}

// SymbolSearcher is implemented by providers that support autocomplete.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string) ([]model.SymbolInfo, error)
}

// classifyStatus maps an HTTP response status onto the fetch error taxonomy.
func classifyStatus(name string, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: http %d: %w", name, status, model.ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: http %d: %w", name, status, model.ErrNoData)
	default:
		return fmt.Errorf("%s: http %d: %w", name, status, model.ErrProviderUnavailable)
	}
}

// transportErr wraps a transport-level failure (no HTTP response at all).
func transportErr(name string, err error) error {
	return fmt.Errorf("%s: %v: %w", name, err, model.ErrNetwork)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// anyToFloat tolerates the mixed numeric encodings public APIs emit.
func anyToFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		return parseFloat(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
