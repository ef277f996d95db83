package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"chartdesk/internal/model"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// Coinbase fetches candles from the public Coinbase Exchange REST API.
// Product ids use a dash ("BTC-USD"); plain symbols like "BTCUSD" or
// "BTCUSDT" are translated on the way in.
type Coinbase struct {
	client *resty.Client
}

// NewCoinbase creates the adapter; baseURL overrides the endpoint for tests.
func NewCoinbase(baseURL string) *Coinbase {
	if baseURL == "" {
		baseURL = coinbaseBaseURL
	}
	return &Coinbase{client: resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second)}
}

func (c *Coinbase) Name() string { return "coinbase" }

// Coinbase supports a fixed granularity set; 4h and 1w have no equivalent,
// so those requests report no data and the fetcher moves on.
var coinbaseGranularity = map[model.Timeframe]int64{
	model.TF1m: 60, model.TF5m: 300, model.TF15m: 900,
	model.TF1h: 3600, model.TF1d: 86400,
}

func (c *Coinbase) Fetch(ctx context.Context, symbol string, tf model.Timeframe, limit int) (model.Series, error) {
	return c.candles(ctx, symbol, tf, 0, limit)
}

func (c *Coinbase) FetchBefore(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	return c.candles(ctx, symbol, tf, before, limit)
}

func (c *Coinbase) candles(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	gran, ok := coinbaseGranularity[tf]
	if !ok {
		return nil, fmt.Errorf("coinbase: timeframe %s: %w", tf, model.ErrNoData)
	}

	params := map[string]string{"granularity": strconv.FormatInt(gran, 10)}
	if before > 0 {
		// end is exclusive of later candles; request the window ending just
		// before the cutoff.
		params["end"] = time.Unix(before-1, 0).UTC().Format(time.RFC3339)
		params["start"] = time.Unix(before-1-gran*int64(limit), 0).UTC().Format(time.RFC3339)
	}

	// Rows: [time, low, high, open, close, volume], newest first.
	var rows [][]float64
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&rows).
		Get("/products/" + productID(symbol) + "/candles")
	if err != nil {
		return nil, transportErr("coinbase", err)
	}
	if resp.IsError() {
		return nil, classifyStatus("coinbase", resp.StatusCode())
	}

	out := make(model.Series, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		out = append(out, model.Candle{
			Time:   int64(row[0]),
			Low:    row[1],
			High:   row[2],
			Open:   row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("coinbase: empty response for %s: %w", symbol, model.ErrNoData)
	}
	return out, nil
}

// productID normalizes plain tickers to Coinbase's dashed product ids.
// "BTCUSDT" and "BTCUSD" both map to "BTC-USD"; dashed input passes through.
func productID(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	s := strings.ToUpper(symbol)
	s = strings.TrimSuffix(s, "USDT")
	if base := strings.TrimSuffix(s, "USD"); base != s {
		s = base
	}
	return s + "-USD"
}
