// Package volprofile computes a visible-range volume profile: fixed-count
// price rows over a candle window, a point of control, and a 70% value area.
// Every call recomputes from scratch; the windows involved (a few hundred
// bars, 200 rows) are small enough that correctness beats incrementality.
package volprofile

import "chartdesk/internal/model"

// NumRows is the fixed number of equal-height price rows in a profile.
const NumRows = 200

// ValueAreaFraction is the share of total volume the value area must cover.
const ValueAreaFraction = 0.70

// PriceLevel is one horizontal profile row. Price is the row midpoint.
// The buy/sell split uses close >= open as a proxy for trade side; it is a
// deterministic heuristic, not real order-flow attribution.
type PriceLevel struct {
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
}

// Profile is the result of binning one visible candle window.
type Profile struct {
	Levels        []PriceLevel `json:"levels"`
	POC           float64      `json:"poc"`
	ValueAreaHigh float64      `json:"value_area_high"`
	ValueAreaLow  float64      `json:"value_area_low"`
	MaxVolume     float64      `json:"max_volume"`
}

// Compute bins the window's volume into NumRows equal-height rows spanning
// [min(low), max(high)]. Each candle's volume is spread across every row it
// overlaps, proportional to the fraction of the candle's high-low range
// intersecting that row; a zero-range candle contributes everything to the
// row containing its close. A window with zero price range (flat market)
// returns a degenerate but well-formed result: POC at the shared price,
// no levels, zero max volume.
func Compute(candles model.Series) Profile {
	if len(candles) == 0 {
		return Profile{}
	}

	minPrice := candles[0].Low
	maxPrice := candles[0].High
	for i := range candles {
		if candles[i].Low < minPrice {
			minPrice = candles[i].Low
		}
		if candles[i].High > maxPrice {
			maxPrice = candles[i].High
		}
	}

	priceRange := maxPrice - minPrice
	if priceRange == 0 {
		return Profile{POC: maxPrice, ValueAreaHigh: maxPrice, ValueAreaLow: maxPrice}
	}

	rowHeight := priceRange / NumRows
	levels := make([]PriceLevel, NumRows)
	for i := range levels {
		levels[i].Price = minPrice + (float64(i)+0.5)*rowHeight
	}

	totalVolume := 0.0
	for i := range candles {
		c := &candles[i]
		totalVolume += c.Volume
		bullish := c.Close >= c.Open

		candleRange := c.High - c.Low
		if candleRange == 0 {
			addVolume(&levels[rowIndex(c.Close, minPrice, rowHeight)], c.Volume, bullish)
			continue
		}

		lo := rowIndex(c.Low, minPrice, rowHeight)
		hi := rowIndex(c.High, minPrice, rowHeight)
		for row := lo; row <= hi; row++ {
			rowLow := minPrice + float64(row)*rowHeight
			rowHigh := rowLow + rowHeight
			overlap := overlapHeight(c.Low, c.High, rowLow, rowHigh)
			if overlap <= 0 {
				continue
			}
			addVolume(&levels[row], overlap/candleRange*c.Volume, bullish)
		}
	}

	// POC: maximum accumulated volume, first row on ties.
	poc := 0
	for i := 1; i < NumRows; i++ {
		if levels[i].Volume > levels[poc].Volume {
			poc = i
		}
	}

	vaLow, vaHigh := valueArea(levels, poc, totalVolume)

	return Profile{
		Levels:        levels,
		POC:           levels[poc].Price,
		ValueAreaHigh: levels[vaHigh].Price,
		ValueAreaLow:  levels[vaLow].Price,
		MaxVolume:     levels[poc].Volume,
	}
}

// valueArea greedily expands from the POC row until the accumulated volume
// reaches ValueAreaFraction of the total or both boundaries are exhausted.
// At each step the adjacent row with more volume is taken, preferring the
// upper row on exact ties.
func valueArea(levels []PriceLevel, poc int, totalVolume float64) (lo, hi int) {
	lo, hi = poc, poc
	target := totalVolume * ValueAreaFraction
	acc := levels[poc].Volume

	for acc < target && (lo > 0 || hi < len(levels)-1) {
		above, below := -1.0, -1.0
		if hi < len(levels)-1 {
			above = levels[hi+1].Volume
		}
		if lo > 0 {
			below = levels[lo-1].Volume
		}
		if above >= below && hi < len(levels)-1 {
			hi++
			acc += above
		} else {
			lo--
			acc += below
		}
	}
	return lo, hi
}

// rowIndex maps a price to its row, clamped so max(high) lands in the top
// row instead of one past it.
func rowIndex(price, minPrice, rowHeight float64) int {
	idx := int((price - minPrice) / rowHeight)
	if idx < 0 {
		idx = 0
	}
	if idx >= NumRows {
		idx = NumRows - 1
	}
	return idx
}

func overlapHeight(aLow, aHigh, bLow, bHigh float64) float64 {
	lo := aLow
	if bLow > lo {
		lo = bLow
	}
	hi := aHigh
	if bHigh < hi {
		hi = bHigh
	}
	return hi - lo
}

func addVolume(l *PriceLevel, vol float64, bullish bool) {
	l.Volume += vol
	if bullish {
		l.BuyVolume += vol
	} else {
		l.SellVolume += vol
	}
}
