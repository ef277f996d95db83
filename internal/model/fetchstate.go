package model

// FetchState tracks the lifecycle of candle loading for one chart pane.
// Version is a monotonically increasing counter: every new logical fetch
// bumps it, and a completion whose version no longer matches is discarded.
type FetchState struct {
	Loading     bool   `json:"loading"`
	LoadingMore bool   `json:"loading_more"`
	Error       string `json:"error,omitempty"`

	// HasMoreHistory is sticky: once a backfill returns nothing older it
	// stays false so the pane stops issuing further backfill requests.
	HasMoreHistory bool `json:"has_more_history"`

	Version uint64 `json:"-"`
}

// NewFetchState returns the initial state for a fresh pane.
func NewFetchState() FetchState {
	return FetchState{HasMoreHistory: true}
}
