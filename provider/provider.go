// Package provider is the only way the service talks to upstream market data.
package provider

import (
	"context"

	"github.com/viktsys/marketcache/models"
)

// Fetcher pulls history and quotes from the market data provider. Every
// failure matches models.ErrDataUnavailable; throttling also matches
// models.ErrRateLimited. Fetchers do not retry.
type Fetcher interface {
	// FetchDailyBars returns the last six months of daily bars, newest last.
	FetchDailyBars(ctx context.Context, symbol string) ([]models.DailyBar, error)
	// FetchIntraday returns 5-minute bars for period "1d" or "5d".
	FetchIntraday(ctx context.Context, symbol, period string) ([]models.Bar, error)
	FetchFastQuote(ctx context.Context, symbol string) (models.FastQuote, error)
	FetchFastInfo(ctx context.Context, symbol string) (models.FastInfo, error)
}

// TradeSource produces live trades until ctx is done or the connection fails.
// Stream blocks; it returns nil only when ctx is cancelled. emit is called
// from the goroutine running Stream.
type TradeSource interface {
	Name() string
	Stream(ctx context.Context, symbols []string, emit func([]models.Trade)) error
}
