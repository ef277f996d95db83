// Package indicator provides pure batch computations over a candle series:
// Wilder's RSI, the Hull Suite trend line, the Guppy multi-EMA ribbon, and
// calendar key levels. All functions return an empty result (never an error)
// when the input is too short for the requested window; callers treat that
// as "not yet renderable".
package indicator

import "chartdesk/internal/model"

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// RSIPoint is one RSI output value, always within [0, 100].
type RSIPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// RSI computes Wilder's Relative Strength Index over the close prices.
// The first average gain/loss pair is seeded as a simple mean over the first
// `period` close-to-close deltas; subsequent bars use Wilder's smoothing
// avg = (avg*(period-1) + new) / period. Output is aligned one bar after each
// consumed delta, so its length is exactly len(candles) - period. Fewer than
// period+1 candles yields nil.
func RSI(candles model.Series, period int) []RSIPoint {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := candles[i].Close - candles[i-1].Close
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]RSIPoint, 0, len(candles)-period)
	out = append(out, RSIPoint{Time: candles[period].Time, Value: rsiValue(avgGain, avgLoss)})

	p := float64(period)
	for i := period + 1; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out = append(out, RSIPoint{Time: candles[i].Time, Value: rsiValue(avgGain, avgLoss)})
	}
	return out
}

// rsiValue maps smoothed averages to the RSI scale. A zero average loss is
// defined as RSI=100 to avoid the divide-by-zero in RS.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
