package indicator

import (
	"math"

	"chartdesk/internal/model"
)

// Guppy MMA ribbon periods: six fast EMAs tracking trader activity and six
// slow EMAs tracking investor activity.
var (
	GuppyShortPeriods = [6]int{3, 5, 8, 10, 12, 15}
	GuppyLongPeriods  = [6]int{30, 35, 40, 45, 50, 60}
)

// GuppyPoint carries the time-aligned values of all twelve EMAs at one candle.
type GuppyPoint struct {
	Time  int64      `json:"time"`
	Short [6]float64 `json:"short"`
	Long  [6]float64 `json:"long"`
}

// Guppy computes the Guppy Multiple Moving Average ribbon over the close
// prices. Each EMA is seeded with a simple average over its first `period`
// closes, then follows the standard recurrence with multiplier 2/(period+1).
// Output starts at the first index where the longest EMA (60) is defined; a
// point is emitted only if all twelve EMAs are defined there. Fewer than 60
// candles yields nil.
func Guppy(candles model.Series) []GuppyPoint {
	longest := GuppyLongPeriods[len(GuppyLongPeriods)-1]
	if len(candles) < longest {
		return nil
	}

	closes := candles.Closes()
	var short, long [6][]float64
	for i, p := range GuppyShortPeriods {
		short[i] = emaSeries(closes, p)
	}
	for i, p := range GuppyLongPeriods {
		long[i] = emaSeries(closes, p)
	}

	out := make([]GuppyPoint, 0, len(closes)-longest+1)
	for i := longest - 1; i < len(closes); i++ {
		pt := GuppyPoint{Time: candles[i].Time}
		defined := true
		for j := 0; j < 6; j++ {
			pt.Short[j] = short[j][i]
			pt.Long[j] = long[j][i]
			if math.IsNaN(pt.Short[j]) || math.IsNaN(pt.Long[j]) {
				defined = false
			}
		}
		if defined {
			out = append(out, pt)
		}
	}
	return out
}

// emaSeries computes an EMA over values, seeded with the simple average of
// the first `period` entries. Indices before the seed are NaN.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)

	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*mult + out[i-1]*(1-mult)
	}
	return out
}
