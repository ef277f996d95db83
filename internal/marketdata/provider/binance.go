package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"chartdesk/internal/model"
)

const binanceBaseURL = "https://api.binance.com"

// Binance fetches spot klines from the public Binance REST API.
type Binance struct {
	client *resty.Client
}

// NewBinance creates the adapter. baseURL overrides the production endpoint
// for tests; pass "" for the default.
func NewBinance(baseURL string) *Binance {
	if baseURL == "" {
		baseURL = binanceBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second)
	return &Binance{client: client}
}

func (b *Binance) Name() string { return "binance" }

// Binance interval strings match our timeframe names exactly.
var binanceIntervals = map[model.Timeframe]string{
	model.TF1m: "1m", model.TF5m: "5m", model.TF15m: "15m",
	model.TF1h: "1h", model.TF4h: "4h", model.TF1d: "1d", model.TF1w: "1w",
}

func (b *Binance) Fetch(ctx context.Context, symbol string, tf model.Timeframe, limit int) (model.Series, error) {
	return b.klines(ctx, symbol, tf, 0, limit)
}

func (b *Binance) FetchBefore(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	// endTime is inclusive; step back one millisecond to make the cutoff strict.
	return b.klines(ctx, symbol, tf, before*1000-1, limit)
}

func (b *Binance) klines(ctx context.Context, symbol string, tf model.Timeframe, endMillis int64, limit int) (model.Series, error) {
	interval, ok := binanceIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("binance: timeframe %s: %w", tf, model.ErrNoData)
	}

	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if endMillis > 0 {
		params["endTime"] = strconv.FormatInt(endMillis, 10)
	}

	// Rows: [openTime(ms), open, high, low, close, volume, closeTime, ...]
	// with prices and volume as strings.
	var rows [][]interface{}
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&rows).
		Get("/api/v3/klines")
	if err != nil {
		return nil, transportErr("binance", err)
	}
	if resp.IsError() {
		return nil, classifyStatus("binance", resp.StatusCode())
	}

	out := make(model.Series, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		out = append(out, model.Candle{
			Time:   int64(anyToFloat(row[0])) / 1000,
			Open:   anyToFloat(row[1]),
			High:   anyToFloat(row[2]),
			Low:    anyToFloat(row[3]),
			Close:  anyToFloat(row[4]),
			Volume: anyToFloat(row[5]),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("binance: empty response for %s: %w", symbol, model.ErrNoData)
	}
	return out, nil
}
