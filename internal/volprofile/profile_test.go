package volprofile

import (
	"math"
	"testing"

	"chartdesk/internal/model"
)

func candle(ts int64, open, high, low, close, volume float64) model.Candle {
	return model.Candle{Time: ts, Open: open, High: high, Low: low, Close: close, Volume: volume}
}

// window builds a deterministic non-degenerate candle window.
func window(n int) model.Series {
	out := make(model.Series, n)
	for i := 0; i < n; i++ {
		base := 100 + 3*math.Sin(float64(i)/5)
		open := base
		close := base + float64(i%5-2)*0.4
		high := math.Max(open, close) + 0.8
		low := math.Min(open, close) - 0.6
		out[i] = candle(int64(1700000000+i*60), open, high, low, close, 50+float64(i%11)*7)
	}
	return out
}

func totalVolume(s model.Series) float64 {
	var v float64
	for i := range s {
		v += s[i].Volume
	}
	return v
}

func TestCompute_VolumeConservation(t *testing.T) {
	for _, n := range []int{1, 7, 50, 300} {
		s := window(n)
		p := Compute(s)

		var binned float64
		for _, l := range p.Levels {
			binned += l.Volume
		}
		want := totalVolume(s)
		if math.Abs(binned-want) > want*1e-9 {
			t.Errorf("n=%d: binned volume %.6f, candles carry %.6f", n, binned, want)
		}
	}
}

func TestCompute_RowLayout(t *testing.T) {
	s := window(40)
	p := Compute(s)

	if len(p.Levels) != NumRows {
		t.Fatalf("expected %d rows, got %d", NumRows, len(p.Levels))
	}

	minPrice, maxPrice := s[0].Low, s[0].High
	for i := range s {
		minPrice = math.Min(minPrice, s[i].Low)
		maxPrice = math.Max(maxPrice, s[i].High)
	}
	rowHeight := (maxPrice - minPrice) / NumRows

	// Rows are equal-height midpoints spanning [min(low), max(high)].
	assertNear(t, "first midpoint", p.Levels[0].Price, minPrice+rowHeight/2)
	assertNear(t, "last midpoint", p.Levels[NumRows-1].Price, maxPrice-rowHeight/2)
	for i := 1; i < NumRows; i++ {
		assertNear(t, "row spacing", p.Levels[i].Price-p.Levels[i-1].Price, rowHeight)
	}
}

func TestCompute_POCIsMaxRow(t *testing.T) {
	p := Compute(window(120))

	var pocVol float64
	for _, l := range p.Levels {
		if l.Price == p.POC {
			pocVol = l.Volume
		}
	}
	if pocVol != p.MaxVolume {
		t.Fatalf("POC row volume %.6f != MaxVolume %.6f", pocVol, p.MaxVolume)
	}
	for i, l := range p.Levels {
		if l.Volume > pocVol {
			t.Errorf("row %d volume %.6f exceeds POC volume %.6f", i, l.Volume, pocVol)
		}
	}
}

func TestCompute_ValueAreaCoversTarget(t *testing.T) {
	s := window(200)
	p := Compute(s)

	if p.ValueAreaLow > p.POC || p.ValueAreaHigh < p.POC {
		t.Fatalf("value area [%.4f, %.4f] does not contain POC %.4f", p.ValueAreaLow, p.ValueAreaHigh, p.POC)
	}

	var inArea float64
	for _, l := range p.Levels {
		if l.Price >= p.ValueAreaLow && l.Price <= p.ValueAreaHigh {
			inArea += l.Volume
		}
	}
	total := totalVolume(s)
	if inArea < total*ValueAreaFraction-total*1e-9 {
		t.Errorf("value area volume %.6f below 70%% of total %.6f", inArea, total)
	}

	// Greedy minimality: the last row the expansion added is one of the two
	// boundary rows, so dropping the larger boundary row must fall below the
	// target.
	var loIdx, hiIdx int
	for i, l := range p.Levels {
		if nearlyEqual(l.Price, p.ValueAreaLow) {
			loIdx = i
		}
		if nearlyEqual(l.Price, p.ValueAreaHigh) {
			hiIdx = i
		}
	}
	if loIdx != hiIdx {
		larger := math.Max(p.Levels[loIdx].Volume, p.Levels[hiIdx].Volume)
		if inArea-larger >= total*ValueAreaFraction {
			t.Errorf("value area not minimal: still covers target without a boundary row")
		}
	}
}

func TestCompute_ZeroRangeWindow(t *testing.T) {
	// Flat market: every candle pinned to one price.
	s := model.Series{
		candle(1, 50, 50, 50, 50, 10),
		candle(2, 50, 50, 50, 50, 20),
	}
	p := Compute(s)

	if p.POC != 50 {
		t.Errorf("degenerate POC=%.4f, want 50", p.POC)
	}
	if len(p.Levels) != 0 {
		t.Errorf("degenerate result must have no levels, got %d", len(p.Levels))
	}
	if p.MaxVolume != 0 {
		t.Errorf("degenerate MaxVolume=%.4f, want 0", p.MaxVolume)
	}
}

func TestCompute_ZeroRangeCandle(t *testing.T) {
	// One spanning candle plus one zero-range candle: the latter's volume
	// lands entirely in the row containing its close.
	s := model.Series{
		candle(1, 100, 110, 90, 105, 40),
		candle(2, 95, 95, 95, 95, 60),
	}
	p := Compute(s)

	rowHeight := (110.0 - 90.0) / NumRows
	targetRow := int((95.0 - 90.0) / rowHeight)

	if p.Levels[targetRow].Volume < 60 {
		t.Errorf("zero-range candle volume not concentrated: row %d has %.4f", targetRow, p.Levels[targetRow].Volume)
	}

	var binned float64
	for _, l := range p.Levels {
		binned += l.Volume
	}
	assertNear(t, "conservation with zero-range candle", binned, 100)
}

func TestCompute_BuySellSplit(t *testing.T) {
	// Close >= open → buy volume; close < open → sell volume.
	s := model.Series{
		candle(1, 100, 104, 99, 103, 30), // bullish
		candle(2, 103, 104, 98, 100, 70), // bearish
	}
	p := Compute(s)

	var buy, sell float64
	for _, l := range p.Levels {
		buy += l.BuyVolume
		sell += l.SellVolume
	}
	assertNear(t, "buy volume", buy, 30)
	assertNear(t, "sell volume", sell, 70)
}

func TestCompute_Empty(t *testing.T) {
	p := Compute(nil)
	if p.POC != 0 || len(p.Levels) != 0 {
		t.Errorf("empty window must produce zero profile, got %+v", p)
	}
}

func assertNear(t *testing.T, label string, got, want float64) {
	t.Helper()
	tol := math.Max(math.Abs(want)*1e-9, 1e-9)
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.9f, want %.9f", label, got, want)
	}
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= math.Max(math.Abs(b)*1e-9, 1e-9)
}
