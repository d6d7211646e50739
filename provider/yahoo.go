package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/viktsys/marketcache/metrics"
	"github.com/viktsys/marketcache/models"
)

// Config configures the chart API client.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

const chartPath = "/v8/finance/chart/{symbol}"

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		Currency           string  `json:"currency"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		FiftyTwoWeekHigh   float64 `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow    float64 `json:"fiftyTwoWeekLow"`
		MarketCap          float64 `json:"marketCap"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// YahooClient reads the public chart endpoint.
type YahooClient struct {
	http    *resty.Client
	metrics *metrics.Metrics
}

func NewYahooClient(cfg Config, m *metrics.Metrics) *YahooClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &YahooClient{http: c, metrics: m}
}

func (y *YahooClient) chart(ctx context.Context, op, symbol, rng, interval string) (res chartResult, err error) {
	started := time.Now()
	defer func() { y.metrics.ObserveUpstream(op, started, err) }()

	var body chartResponse
	resp, err := y.http.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{"range": rng, "interval": interval}).
		SetResult(&body).
		SetError(&body).
		Get(chartPath)
	// a throttled response may carry a body that fails to decode, so check it first
	if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
		return res, fmt.Errorf("%w: %s %s", models.ErrRateLimited, op, symbol)
	}
	if err != nil {
		return res, fmt.Errorf("%w: %s %s: %v", models.ErrDataUnavailable, op, symbol, err)
	}
	if body.Chart.Error != nil {
		return res, fmt.Errorf("%w: %s %s: %s", models.ErrDataUnavailable, op, symbol, body.Chart.Error.Description)
	}
	if resp.IsError() {
		return res, fmt.Errorf("%w: %s %s: status %d", models.ErrDataUnavailable, op, symbol, resp.StatusCode())
	}
	if len(body.Chart.Result) == 0 {
		return res, fmt.Errorf("%w: %s %s: empty result", models.ErrDataUnavailable, op, symbol)
	}
	return body.Chart.Result[0], nil
}

// bars zips the parallel indicator arrays, skipping rows without a close.
func (r chartResult) bars() []models.DailyBar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	at := func(s []*float64, i int) float64 {
		if i < len(s) && s[i] != nil {
			return *s[i]
		}
		return 0
	}

	out := make([]models.DailyBar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		out = append(out, models.DailyBar{
			Time:   ts,
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  *q.Close[i],
			Volume: at(q.Volume, i),
		})
	}
	return out
}

func (y *YahooClient) FetchDailyBars(ctx context.Context, symbol string) ([]models.DailyBar, error) {
	res, err := y.chart(ctx, "daily", symbol, "6mo", models.IntervalDaily)
	if err != nil {
		return nil, err
	}
	bars := res.bars()
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: daily %s: no bars", models.ErrDataUnavailable, symbol)
	}
	return bars, nil
}

func (y *YahooClient) FetchIntraday(ctx context.Context, symbol, period string) ([]models.Bar, error) {
	if !models.IsIntraday(period) {
		return nil, fmt.Errorf("%w: intraday %q", models.ErrInvalidPeriod, period)
	}
	res, err := y.chart(ctx, "intraday", symbol, period, models.IntervalIntraday)
	if err != nil {
		return nil, err
	}
	return res.bars(), nil
}

func (y *YahooClient) FetchFastQuote(ctx context.Context, symbol string) (models.FastQuote, error) {
	res, err := y.chart(ctx, "quote", symbol, "1d", models.IntervalDaily)
	if err != nil {
		return models.FastQuote{}, err
	}
	if res.Meta.RegularMarketPrice <= 0 {
		return models.FastQuote{}, fmt.Errorf("%w: quote %s: no price", models.ErrDataUnavailable, symbol)
	}
	return models.FastQuote{
		Symbol:   symbol,
		Price:    res.Meta.RegularMarketPrice,
		Currency: res.Meta.Currency,
	}, nil
}

func (y *YahooClient) FetchFastInfo(ctx context.Context, symbol string) (models.FastInfo, error) {
	res, err := y.chart(ctx, "info", symbol, "1d", models.IntervalDaily)
	if err != nil {
		return models.FastInfo{}, err
	}
	return models.FastInfo{
		MarketCap: res.Meta.MarketCap,
		YearHigh:  res.Meta.FiftyTwoWeekHigh,
		YearLow:   res.Meta.FiftyTwoWeekLow,
	}, nil
}
