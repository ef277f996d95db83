package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Candle represents one OHLCV bar for a single instrument.
// Time is the bar's open time in Unix seconds (UTC).
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Series is an ordered candle sequence for one (symbol, timeframe, source).
// Invariants: strictly ascending by Time, no duplicate timestamps,
// High >= max(Open, Close), Low <= min(Open, Close). A series is owned by
// exactly one chart pane and is never shared between panes.
type Series []Candle

// Validate checks the series invariants. Returns the first violation found.
func (s Series) Validate() error {
	for i := range s {
		c := &s[i]
		if c.High < c.Open || c.High < c.Close {
			return fmt.Errorf("candle at ts=%d: high %.8f below body", c.Time, c.High)
		}
		if c.Low > c.Open || c.Low > c.Close {
			return fmt.Errorf("candle at ts=%d: low %.8f above body", c.Time, c.Low)
		}
		if c.Volume < 0 {
			return fmt.Errorf("candle at ts=%d: negative volume", c.Time)
		}
		if i > 0 && c.Time <= s[i-1].Time {
			return fmt.Errorf("candle at index %d: time %d not after %d", i, c.Time, s[i-1].Time)
		}
	}
	return nil
}

// EarliestTime returns the first candle's timestamp, or 0 for an empty series.
func (s Series) EarliestTime() int64 {
	if len(s) == 0 {
		return 0
	}
	return s[0].Time
}

// LatestTime returns the last candle's timestamp, or 0 for an empty series.
func (s Series) LatestTime() int64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Time
}

// Closes extracts the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// SortByTime sorts the series ascending by timestamp in place.
func (s Series) SortByTime() {
	sort.Slice(s, func(i, j int) bool { return s[i].Time < s[j].Time })
}

// Slice returns the candles within the clamped index window [from, to].
// Fractional or out-of-range bounds (as reported by a chart surface's visible
// range) are tolerated.
func (s Series) Slice(from, to float64) Series {
	lo := int(from)
	hi := int(to) + 1
	if lo < 0 {
		lo = 0
	}
	if hi > len(s) {
		hi = len(s)
	}
	if lo >= hi {
		return nil
	}
	return s[lo:hi]
}

// Timeframe identifies a candle granularity, e.g. "1m", "1h", "1d".
type Timeframe string

// Supported timeframes ordered fine to coarse.
const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var tfSeconds = map[Timeframe]int64{
	TF1m:  60,
	TF5m:  5 * 60,
	TF15m: 15 * 60,
	TF1h:  3600,
	TF4h:  4 * 3600,
	TF1d:  86400,
	TF1w:  7 * 86400,
}

// Seconds returns the timeframe duration in seconds, or 0 if unknown.
func (tf Timeframe) Seconds() int64 {
	return tfSeconds[tf]
}

// Duration returns the timeframe as a time.Duration, or 0 if unknown.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Valid reports whether the timeframe is one of the supported granularities.
func (tf Timeframe) Valid() bool {
	_, ok := tfSeconds[tf]
	return ok
}

// SymbolInfo is one symbol-search result from a provider.
type SymbolInfo struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}
