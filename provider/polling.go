package provider

import (
	"context"
	"time"

	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

// PollingSource emulates a stream by asking the Fetcher for a quote per
// symbol every interval.
type PollingSource struct {
	fetcher  Fetcher
	interval time.Duration
	log      *zap.Logger
}

func NewPollingSource(f Fetcher, interval time.Duration, log *zap.Logger) *PollingSource {
	return &PollingSource{fetcher: f, interval: interval, log: log.Named("polling")}
}

func (p *PollingSource) Name() string { return "polling" }

func (p *PollingSource) Stream(ctx context.Context, symbols []string, emit func([]models.Trade)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if trades := p.poll(ctx, symbols); len(trades) > 0 {
			emit(trades)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll skips symbols whose quote failed or came back without a price.
func (p *PollingSource) poll(ctx context.Context, symbols []string) []models.Trade {
	trades := make([]models.Trade, 0, len(symbols))
	for _, s := range symbols {
		if ctx.Err() != nil {
			break
		}
		q, err := p.fetcher.FetchFastQuote(ctx, s)
		if err != nil {
			p.log.Debug("quote unavailable", zap.String("symbol", s), zap.Error(err))
			continue
		}
		if q.Price <= 0 {
			continue
		}
		trades = append(trades, models.Trade{Symbol: s, Price: q.Price, Timestamp: time.Now()})
	}
	return trades
}
