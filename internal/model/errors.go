package model

import "errors"

// Fetch error taxonomy. RateLimited and NoData are recovered inside the
// fetcher (backoff retry and provider fallback respectively) and are never
// surfaced to callers; only final exhaustion escapes.
var (
	// ErrProviderUnavailable marks an HTTP or network failure from a provider.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRateLimited marks a retryable rate-limit response (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork marks a transient transport failure (refused connection,
	// timeout). The fetcher retries it after a short fixed delay, unlike
	// other provider failures which fail the attempt immediately.
	ErrNetwork = errors.New("network failure")

	// ErrNoData marks a valid but empty or insufficient response. It triggers
	// fallback to the next provider, not a hard failure.
	ErrNoData = errors.New("no data")

	// ErrSymbolNotFound is raised when every provider has been exhausted
	// without a recorded error.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrSuperseded marks a fetch whose result arrived after a newer request
	// for the same pane began. Callers drop it silently: no state update,
	// no user-visible error.
	ErrSuperseded = errors.New("fetch superseded")
)
