package indicator

import (
	"math"
	"testing"

	"chartdesk/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

// series builds a candle series from closes, one bar per minute starting at
// a fixed timestamp. High/Low bracket the body so invariants hold.
func series(closes ...float64) model.Series {
	const start = int64(1700000000)
	out := make(model.Series, len(closes))
	for i, cl := range closes {
		op := cl
		if i > 0 {
			op = closes[i-1]
		}
		hi, lo := op, op
		if cl > hi {
			hi = cl
		}
		if cl < lo {
			lo = cl
		}
		out[i] = model.Candle{
			Time: start + int64(i)*60,
			Open: op, High: hi + 0.5, Low: lo - 0.5, Close: cl,
			Volume: 100,
		}
	}
	return out
}

func ascending(n int) model.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return series(closes...)
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Closes: 100, 102, 104, 103, 105, 106
	// Deltas: +2, +2, -1, +2, +1
	// Seed over first 3 deltas: avgGain=(2+2+0)/3=4/3, avgLoss=(0+0+1)/3=1/3
	//   RS=4 → RSI = 100 - 100/5 = 80.0              (at close 103)
	// Wilder step, delta +2: avgGain=(4/3*2+2)/3=14/9, avgLoss=(1/3*2)/3=2/9
	//   RS=7 → RSI = 100 - 100/8 = 87.5              (at close 105)
	// Wilder step, delta +1: avgGain=(14/9*2+1)/3=37/27, avgLoss=(2/9*2)/3=4/27
	//   RS=9.25 → RSI = 100 - 100/10.25 = 90.243902  (at close 106)
	s := series(100, 102, 104, 103, 105, 106)
	pts := RSI(s, 3)

	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	assertClose(t, "RSI[0]", pts[0].Value, 80.0, 0.0001)
	assertClose(t, "RSI[1]", pts[1].Value, 87.5, 0.0001)
	assertClose(t, "RSI[2]", pts[2].Value, 90.243902, 0.0001)

	// Time alignment: first point lands on the bar closing the seed window.
	if pts[0].Time != s[3].Time {
		t.Errorf("RSI[0].Time=%d, want %d", pts[0].Time, s[3].Time)
	}
}

func TestRSI_OutputLength(t *testing.T) {
	for _, n := range []int{15, 20, 100} {
		pts := RSI(ascending(n), DefaultRSIPeriod)
		if len(pts) != n-DefaultRSIPeriod {
			t.Errorf("n=%d: expected %d points, got %d", n, n-DefaultRSIPeriod, len(pts))
		}
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	if pts := RSI(ascending(14), 14); pts != nil {
		t.Errorf("expected nil for 14 bars at period 14, got %d points", len(pts))
	}
	if pts := RSI(nil, 14); pts != nil {
		t.Errorf("expected nil for empty input, got %d points", len(pts))
	}
}

func TestRSI_BoundsAndConvergence(t *testing.T) {
	// All-increasing closes: avgLoss stays 0, so RSI pins at 100.
	pts := RSI(ascending(50), 14)
	for i, p := range pts {
		if p.Value < 0 || p.Value > 100 {
			t.Fatalf("point %d out of [0,100]: %f", i, p.Value)
		}
	}
	if last := pts[len(pts)-1].Value; last != 100.0 {
		t.Errorf("monotone rise should converge to 100, got %f", last)
	}
}

func TestRSI_MixedSeriesStaysInBounds(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		// Deterministic zig-zag with drift.
		closes[i] = 100 + float64(i%7) - float64(i%3)*2 + float64(i)/50
	}
	for _, p := range RSI(series(closes...), 14) {
		if p.Value < 0 || p.Value > 100 {
			t.Fatalf("RSI out of bounds: %f", p.Value)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Hull Correctness
// ────────────────────────────────────────────────────────────

func TestHull_Correctness_Period4(t *testing.T) {
	// Closes: 10, 11, 12, 13, 14, 13, 12, 13. period=4, half=2, sqrt=2.
	// WMA(2)[i] = (c[i]*2 + c[i-1]) / 3
	// WMA(4)[i] = (c[i]*4 + c[i-1]*3 + c[i-2]*2 + c[i-3]) / 10
	// raw = 2*WMA(2) - WMA(4), defined from index 3:
	//   raw[3]=13.3333, raw[4]=14.3333, raw[5]=13.4667, raw[6]=11.8667, raw[7]=12.5333
	// hull = WMA(raw, 2), defined from index 4:
	//   hull[4]=14.0, hull[5]=13.755556, hull[6]=12.4, hull[7]=12.311111
	// Output drops the first defined point (no predecessor): indices 5..7.
	s := series(10, 11, 12, 13, 14, 13, 12, 13)
	pts := Hull(s, 4)

	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	assertClose(t, "hull[5]", pts[0].Value, 13.755556, 0.0001)
	assertClose(t, "hull[6]", pts[1].Value, 12.4, 0.0001)
	assertClose(t, "hull[7]", pts[2].Value, 12.311111, 0.0001)

	for i, p := range pts {
		if p.Trend != TrendDown {
			t.Errorf("point %d: expected down trend, got %s", i, p.Trend)
		}
	}
	if pts[0].Time != s[5].Time {
		t.Errorf("first point time=%d, want %d", pts[0].Time, s[5].Time)
	}
}

func TestHull_TrendLabels(t *testing.T) {
	pts := Hull(ascending(130), DefaultHullPeriod)
	if len(pts) == 0 {
		t.Fatal("expected output for 130 ascending bars")
	}
	for i, p := range pts {
		if p.Trend != TrendUp {
			t.Errorf("point %d: ascending series should trend up, got %s", i, p.Trend)
		}
	}

	// Labels must match the value sequence pairwise.
	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.Value
	}
	for i := 1; i < len(pts); i++ {
		want := TrendDown
		if values[i] >= values[i-1] {
			want = TrendUp
		}
		if pts[i].Trend != want {
			t.Errorf("point %d: trend %s disagrees with values %.4f→%.4f", i, pts[i].Trend, values[i-1], values[i])
		}
	}
}

func TestHull_NoUndefinedIndices(t *testing.T) {
	pts := Hull(ascending(110), DefaultHullPeriod)
	for i, p := range pts {
		if math.IsNaN(p.Value) || p.Value == 0 {
			t.Errorf("point %d: undefined or zero value emitted: %f", i, p.Value)
		}
	}
}

func TestHull_InsufficientData(t *testing.T) {
	if pts := Hull(ascending(2*DefaultHullPeriod-1), DefaultHullPeriod); pts != nil {
		t.Errorf("expected nil below 2*period bars, got %d points", len(pts))
	}
}

// ────────────────────────────────────────────────────────────
// Guppy Correctness
// ────────────────────────────────────────────────────────────

func TestGuppy_Exactly60Bars(t *testing.T) {
	pts := Guppy(ascending(60))
	if len(pts) != 1 {
		t.Fatalf("expected exactly 1 point for 60 bars, got %d", len(pts))
	}

	// With monotonically increasing closes every short EMA sits above every
	// long EMA (uptrend ordering).
	pt := pts[0]
	minShort := pt.Short[0]
	for _, v := range pt.Short {
		if v < minShort {
			minShort = v
		}
	}
	maxLong := pt.Long[0]
	for _, v := range pt.Long {
		if v > maxLong {
			maxLong = v
		}
	}
	if minShort <= maxLong {
		t.Errorf("uptrend ordering violated: min short %.4f <= max long %.4f", minShort, maxLong)
	}
}

func TestGuppy_OutputLength(t *testing.T) {
	if pts := Guppy(ascending(59)); pts != nil {
		t.Errorf("expected nil below 60 bars, got %d points", len(pts))
	}
	if pts := Guppy(ascending(75)); len(pts) != 16 {
		t.Errorf("expected 16 points for 75 bars, got %d", len(pts))
	}
}

func TestGuppy_EMASeeding(t *testing.T) {
	// EMA(3) over 100,102,104,103,105: seed=(100+102+104)/3=102,
	// then 103*0.5+102*0.5=102.5, then 105*0.5+102.5*0.5=103.75.
	got := emaSeries([]float64{100, 102, 104, 103, 105}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Error("indices before seed must be NaN")
	}
	assertClose(t, "seed", got[2], 102.0, 0.0001)
	assertClose(t, "ema[3]", got[3], 102.5, 0.0001)
	assertClose(t, "ema[4]", got[4], 103.75, 0.0001)
}
