package indicator

import (
	"math"

	"chartdesk/internal/model"
)

// DefaultHullPeriod is the Hull Suite's conventional lookback.
const DefaultHullPeriod = 55

// Trend labels the Hull line's direction at a point.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// HullPoint is one Hull Suite output value.
type HullPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Trend Trend   `json:"trend"`
}

// Hull computes the Hull Moving Average cascade over the close prices:
// raw = 2*WMA(period/2) - WMA(period), hull = WMA(raw, floor(sqrt(period))).
// The trend at index i is up iff hull[i] >= hull[i-1]; the first defined
// point has no predecessor and is dropped. Indices whose underlying WMA
// window is incomplete are excluded, never emitted as zero. Fewer than
// 2*period candles yields nil.
func Hull(candles model.Series, period int) []HullPoint {
	if period < 2 || len(candles) < 2*period {
		return nil
	}

	closes := candles.Closes()
	half := wma(closes, period/2)
	full := wma(closes, period)

	raw := make([]float64, len(closes))
	for i := range raw {
		raw[i] = 2*half[i] - full[i]
	}
	hull := wma(raw, int(math.Sqrt(float64(period))))

	out := make([]HullPoint, 0, len(candles))
	for i := 1; i < len(hull); i++ {
		if math.IsNaN(hull[i]) || math.IsNaN(hull[i-1]) {
			continue
		}
		trend := TrendDown
		if hull[i] >= hull[i-1] {
			trend = TrendUp
		}
		out = append(out, HullPoint{Time: candles[i].Time, Value: hull[i], Trend: trend})
	}
	return out
}

// wma computes the linearly weighted moving average: the most recent bar in
// each window carries weight `period`, the oldest weight 1. Indices with an
// incomplete window are NaN. NaN inputs propagate into every window that
// includes them.
func wma(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}

	denom := float64(period) * float64(period+1) / 2
	for i := period - 1; i < len(values); i++ {
		var sum float64
		for j := 0; j < period; j++ {
			sum += values[i-j] * float64(period-j)
		}
		out[i] = sum / denom
	}
	return out
}
