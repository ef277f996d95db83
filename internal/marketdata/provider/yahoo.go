package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"chartdesk/internal/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo fetches chart data from the public Yahoo Finance API. It covers the
// stock/index asset class and also implements symbol search for
// autocomplete.
type Yahoo struct {
	client *resty.Client
}

// NewYahoo creates the adapter; baseURL overrides the endpoint for tests.
func NewYahoo(baseURL string) *Yahoo {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (chartdesk)")
	return &Yahoo{client: client}
}

func (y *Yahoo) Name() string { return "yahoo" }

var yahooIntervals = map[model.Timeframe]string{
	model.TF1m: "1m", model.TF5m: "5m", model.TF15m: "15m",
	model.TF1h: "1h", model.TF1d: "1d", model.TF1w: "1wk",
}

// yahooChart mirrors the chart API response. Numeric fields arrive as
// nullable mixed types, so they are decoded loosely.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) Fetch(ctx context.Context, symbol string, tf model.Timeframe, limit int) (model.Series, error) {
	now := time.Now().Unix()
	return y.chart(ctx, symbol, tf, now-tf.Seconds()*int64(limit), now)
}

func (y *Yahoo) FetchBefore(ctx context.Context, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	return y.chart(ctx, symbol, tf, before-tf.Seconds()*int64(limit), before-1)
}

func (y *Yahoo) chart(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) (model.Series, error) {
	interval, ok := yahooIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("yahoo: timeframe %s: %w", tf, model.ErrNoData)
	}

	var body yahooChart
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"interval": interval,
			"period1":  strconv.FormatInt(from, 10),
			"period2":  strconv.FormatInt(to, 10),
		}).
		SetResult(&body).
		Get("/v8/finance/chart/" + symbol)
	if err != nil {
		return nil, transportErr("yahoo", err)
	}
	if resp.IsError() {
		return nil, classifyStatus("yahoo", resp.StatusCode())
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo: %s: %w", body.Chart.Error.Code, model.ErrNoData)
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: empty chart for %s: %w", symbol, model.ErrNoData)
	}

	result := body.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	out := make(model.Series, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// The parallel arrays can come back ragged; stop at the shortest.
		if i >= len(quote.Close) || i >= len(quote.Open) || i >= len(quote.High) ||
			i >= len(quote.Low) || i >= len(quote.Volume) {
			break
		}
		// Null entries mark halted/missing bars; skip them.
		if quote.Close[i] == nil {
			continue
		}
		out = append(out, model.Candle{
			Time:   ts,
			Open:   anyToFloat(quote.Open[i]),
			High:   anyToFloat(quote.High[i]),
			Low:    anyToFloat(quote.Low[i]),
			Close:  anyToFloat(quote.Close[i]),
			Volume: anyToFloat(quote.Volume[i]),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("yahoo: no bars for %s: %w", symbol, model.ErrNoData)
	}
	return out, nil
}

type yahooSearch struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
	} `json:"quotes"`
}

// SearchSymbols queries Yahoo's autocomplete endpoint.
func (y *Yahoo) SearchSymbols(ctx context.Context, query string) ([]model.SymbolInfo, error) {
	var body yahooSearch
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetResult(&body).
		Get("/v1/finance/search")
	if err != nil {
		return nil, transportErr("yahoo", err)
	}
	if resp.IsError() {
		return nil, classifyStatus("yahoo", resp.StatusCode())
	}

	out := make([]model.SymbolInfo, 0, len(body.Quotes))
	for _, q := range body.Quotes {
		name := q.ShortName
		if name == "" {
			name = q.LongName
		}
		out = append(out, model.SymbolInfo{Symbol: q.Symbol, Name: name})
	}
	return out, nil
}
