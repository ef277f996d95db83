package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chartdesk/internal/model"
)

func TestBinance_ParsesKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("interval"); got != "1h" {
			t.Errorf("interval=%s, want 1h", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			[1700000000000, "100.5", "101.0", "99.5", "100.8", "12.5", 1700003599999],
			[1700003600000, "100.8", "102.0", "100.1", "101.9", "8.25", 1700007199999]
		]`))
	}))
	defer srv.Close()

	s, err := NewBinance(srv.URL).Fetch(context.Background(), "BTCUSDT", model.TF1h, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(s) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(s))
	}
	if s[0].Time != 1700000000 || s[0].Open != 100.5 || s[0].Volume != 12.5 {
		t.Errorf("first candle mangled: %+v", s[0])
	}
	if err := s.Validate(); err != nil {
		t.Errorf("series invalid: %v", err)
	}
}

func TestBinance_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewBinance(srv.URL).Fetch(context.Background(), "BTCUSDT", model.TF1m, 10)
	if !errors.Is(err, model.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestBinance_ServerErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewBinance(srv.URL).Fetch(context.Background(), "BTCUSDT", model.TF1m, 10)
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestBinance_TransportErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := NewBinance(srv.URL).Fetch(context.Background(), "BTCUSDT", model.TF1m, 10)
	if !errors.Is(err, model.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}

func TestBinance_UnsupportedTimeframeIsNoData(t *testing.T) {
	_, err := NewBinance("http://127.0.0.1:0").Fetch(context.Background(), "BTCUSDT", model.Timeframe("3m"), 10)
	if !errors.Is(err, model.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestBybit_ReversesNewestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700003600000","100.8","102.0","100.1","101.9","8.25","840"],
			["1700000000000","100.5","101.0","99.5","100.8","12.5","1260"]
		]}}`))
	}))
	defer srv.Close()

	s, err := NewBybit(srv.URL).Fetch(context.Background(), "BTCUSDT", model.TF1h, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(s) != 2 || s[0].Time != 1700000000 || s[1].Time != 1700003600 {
		t.Fatalf("rows not reversed into ascending order: %+v", s)
	}
}

func TestBybit_APIErrorIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{"list":[]}}`))
	}))
	defer srv.Close()

	_, err := NewBybit(srv.URL).Fetch(context.Background(), "NOPE", model.TF1h, 10)
	if !errors.Is(err, model.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestCoinbase_ProductIDNormalization(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT": "BTC-USD",
		"BTCUSD":  "BTC-USD",
		"ETH-EUR": "ETH-EUR",
		"SOL":     "SOL-USD",
	}
	for in, want := range cases {
		if got := productID(in); got != want {
			t.Errorf("productID(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestCoinbase_ParsesAndSupportsGranularity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/candles" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// [time, low, high, open, close, volume], newest first.
		w.Write([]byte(`[
			[1700003600, 100.1, 102.0, 100.8, 101.9, 8.25],
			[1700000000, 99.5, 101.0, 100.5, 100.8, 12.5]
		]`))
	}))
	defer srv.Close()

	c := NewCoinbase(srv.URL)
	s, err := c.Fetch(context.Background(), "BTCUSDT", model.TF1h, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(s) != 2 || s[0].Time != 1700000000 || s[0].Open != 100.5 {
		t.Fatalf("candles mangled: %+v", s)
	}

	// 4h has no Coinbase granularity.
	if _, err := c.Fetch(context.Background(), "BTCUSDT", model.TF4h, 2); !errors.Is(err, model.ErrNoData) {
		t.Errorf("expected ErrNoData for 4h, got %v", err)
	}
}

func TestYahoo_SkipsNullBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":[{
			"timestamp":[1700000000,1700000060,1700000120],
			"indicators":{"quote":[{
				"open":[100.0,null,100.9],
				"high":[101.0,null,101.5],
				"low":[99.0,null,100.2],
				"close":[100.5,null,101.1],
				"volume":[1000,null,1200]
			}]}
		}],"error":null}}`))
	}))
	defer srv.Close()

	s, err := NewYahoo(srv.URL).Fetch(context.Background(), "AAPL", model.TF1m, 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(s) != 2 {
		t.Fatalf("expected null bar skipped, got %d candles", len(s))
	}
	if s[1].Time != 1700000120 || s[1].Close != 101.1 {
		t.Errorf("second candle mangled: %+v", s[1])
	}
}

func TestYahoo_ToleratesRaggedArrays(t *testing.T) {
	// Volume and open run shorter than timestamp/close; decoding stops at
	// the shortest array instead of indexing past it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":[{
			"timestamp":[1700000000,1700000060,1700000120],
			"indicators":{"quote":[{
				"open":[100.0,100.4],
				"high":[101.0,101.2,101.5],
				"low":[99.0,99.8,100.2],
				"close":[100.5,100.8,101.1],
				"volume":[1000]
			}]}
		}],"error":null}}`))
	}))
	defer srv.Close()

	s, err := NewYahoo(srv.URL).Fetch(context.Background(), "AAPL", model.TF1m, 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(s) != 1 {
		t.Fatalf("expected 1 complete candle, got %d", len(s))
	}
	if s[0].Time != 1700000000 || s[0].Volume != 1000 {
		t.Errorf("candle mangled: %+v", s[0])
	}
}

func TestYahoo_ChartErrorIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	_, err := NewYahoo(srv.URL).Fetch(context.Background(), "NOPE", model.TF1d, 10)
	if !errors.Is(err, model.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestYahoo_SearchSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/finance/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quotes":[
			{"symbol":"AAPL","shortname":"Apple Inc."},
			{"symbol":"APLE","longname":"Apple Hospitality REIT"}
		]}`))
	}))
	defer srv.Close()

	got, err := NewYahoo(srv.URL).SearchSymbols(context.Background(), "app")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[1].Name != "Apple Hospitality REIT" {
		t.Errorf("search results mangled: %+v", got)
	}
}
