package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"chartdesk/internal/model"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit fetches spot klines from the public Bybit v5 REST API.
type Bybit struct {
	client *resty.Client
}

// NewBybit creates the adapter; baseURL overrides the endpoint for tests.
func NewBybit(baseURL string) *Bybit {
	if baseURL == "" {
		baseURL = bybitBaseURL
	}
	return &Bybit{client: resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second)}
}

func (b *Bybit) Name() string { return "bybit" }

var bybitIntervals = map[model.Timeframe]string{
	model.TF1m: "1", model.TF5m: "5", model.TF15m: "15",
	model.TF1h: "60", model.TF4h: "240", model.TF1d: "D", model.TF1w: "W",
}

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"` // [startMs, open, high, low, close, volume, turnover], newest first
	} `json:"result"`
}

func (b *Bybit) Fetch(ctx context.Context, symbol string, tf model.Timeframe, limit int) (model.Series, error) {
	return b.klines(ctx, symbol, tf, 0, limit)
}

func (b *Bybit) FetchBefore(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	return b.klines(ctx, symbol, tf, before*1000-1, limit)
}

func (b *Bybit) klines(ctx context.Context, symbol string, tf model.Timeframe, endMillis int64, limit int) (model.Series, error) {
	interval, ok := bybitIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("bybit: timeframe %s: %w", tf, model.ErrNoData)
	}

	params := map[string]string{
		"category": "spot",
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if endMillis > 0 {
		params["end"] = strconv.FormatInt(endMillis, 10)
	}

	var body bybitKlineResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get("/v5/market/kline")
	if err != nil {
		return nil, transportErr("bybit", err)
	}
	if resp.IsError() {
		return nil, classifyStatus("bybit", resp.StatusCode())
	}
	if body.RetCode != 0 {
		return nil, fmt.Errorf("bybit: retCode %d (%s): %w", body.RetCode, body.RetMsg, model.ErrNoData)
	}

	// Rows come newest first; reverse into ascending order.
	rows := body.Result.List
	out := make(model.Series, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		out = append(out, model.Candle{
			Time:   int64(parseFloat(row[0])) / 1000,
			Open:   parseFloat(row[1]),
			High:   parseFloat(row[2]),
			Low:    parseFloat(row[3]),
			Close:  parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bybit: empty response for %s: %w", symbol, model.ErrNoData)
	}
	return out, nil
}
