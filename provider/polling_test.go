package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

type quoteFetcher struct {
	Fetcher
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (f *quoteFetcher) FetchFastQuote(_ context.Context, symbol string) (models.FastQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[symbol]
	if !ok {
		return models.FastQuote{}, models.ErrDataUnavailable
	}
	return models.FastQuote{Symbol: symbol, Price: p}, nil
}

func TestPollingSkipsFailedSymbols(t *testing.T) {
	f := &quoteFetcher{prices: map[string]float64{"AAPL": 190, "ZERO": 0}}
	src := NewPollingSource(f, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []models.Trade, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Stream(ctx, []string{"AAPL", "MISSING", "ZERO"}, func(tr []models.Trade) { batches <- tr })
	}()

	first := <-batches
	second := <-batches
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected nil after cancel, got %v", err)
	}

	for _, batch := range [][]models.Trade{first, second} {
		if len(batch) != 1 || batch[0].Symbol != "AAPL" || batch[0].Price != 190 {
			t.Errorf("Expected only AAPL@190, got %+v", batch)
		}
	}
}
