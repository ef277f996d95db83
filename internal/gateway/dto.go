package gateway

import (
	"chartdesk/internal/indicator"
	"chartdesk/internal/model"
	"chartdesk/internal/volprofile"
)

// PaneSnapshot is the wire representation of one chart pane, used by both
// the REST endpoints and the WebSocket stream.
type PaneSnapshot struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Timeframe  model.Timeframe  `json:"timeframe"`
	Indicators IndicatorToggles `json:"indicators"`
	Candles    model.Series     `json:"candles"`
	State      model.FetchState `json:"state"`
}

// OverlayPayload bundles every enabled indicator for a pane into one
// response so the frontend redraws atomically.
type OverlayPayload struct {
	RSI       []indicator.RSIPoint   `json:"rsi,omitempty"`
	Hull      []indicator.HullPoint  `json:"hull,omitempty"`
	Guppy     []indicator.GuppyPoint `json:"guppy,omitempty"`
	KeyLevels []indicator.KeyLevel   `json:"key_levels,omitempty"`
}

// ProfileResponse wraps a visible-range volume profile.
type ProfileResponse struct {
	PaneID  string             `json:"pane_id"`
	From    float64            `json:"from"`
	To      float64            `json:"to"`
	Bars    int                `json:"bars"`
	Profile volprofile.Profile `json:"profile"`
}

// CreatePaneRequest is the POST /api/panes body.
type CreatePaneRequest struct {
	Symbol    string          `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
}

// UpdatePaneRequest carries partial pane reconfiguration.
type UpdatePaneRequest struct {
	Symbol     string            `json:"symbol,omitempty"`
	Timeframe  model.Timeframe   `json:"timeframe,omitempty"`
	Indicators *IndicatorToggles `json:"indicators,omitempty"`
}

// Envelope is the WebSocket message frame.
type Envelope struct {
	Type string       `json:"type"` // "pane", "pong", "error"
	Pane *PaneSnapshot `json:"pane,omitempty"`
	Ping int64        `json:"ping,omitempty"`
	Err  string       `json:"error,omitempty"`
}
