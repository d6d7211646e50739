package market

import (
	"context"
	"sync"
	"time"

	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// metadataParallelism bounds concurrent metadata fills in one snapshot.
const metadataParallelism = 8

// avgVolumeBars is the trailing window of avg_volume_30d, in stored bars.
const avgVolumeBars = 30

const statusClosed = "Market Closed"

// Snapshot assembles one entry per symbol; an empty list means every
// configured symbol. Missing data degrades the affected fields to zero and
// never fails the batch.
func (s *Service) Snapshot(ctx context.Context, symbols []string) map[string]models.SnapshotEntry {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		symbols = s.Symbols()
	}

	now := s.clock.Now()
	open := s.calendar.IsOpen(now)

	var (
		mu  sync.Mutex
		out = make(map[string]models.SnapshotEntry, len(symbols))
		g   errgroup.Group
	)
	g.SetLimit(metadataParallelism)
	for _, sym := range symbols {
		g.Go(func() error {
			e := s.entry(ctx, sym, open, now)
			mu.Lock()
			out[sym] = e
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) entry(ctx context.Context, symbol string, open bool, now time.Time) models.SnapshotEntry {
	bars, _, err := s.store.ReadSeries(ctx, symbol)
	if err != nil {
		s.log.Debug("snapshot without daily bars", zap.String("symbol", symbol), zap.Error(err))
		bars = nil
	}

	var lastClose, prevClose, volume, prevVolume float64
	if n := len(bars); n > 0 {
		lastClose = bars[n-1].Close
		volume = bars[n-1].Volume
		if n > 1 {
			prevClose = bars[n-2].Close
			prevVolume = bars[n-2].Volume
		}
	}

	price, at := lastClose, now
	if open {
		if q, ok := s.quotes.Get(symbol); ok && q.Price > 0 {
			price = q.Price
			if !q.Timestamp.IsZero() {
				at = q.Timestamp
			}
		}
	}

	e := models.SnapshotEntry{
		Symbol:     symbol,
		Name:       s.name(symbol),
		Price:      price,
		Volume:     volume,
		PrevVolume: prevVolume,
		Time:       at.Unix(),
		MarketOpen: open,
	}
	if prevClose > 0 {
		e.ChangeAbs = price - prevClose
		e.ChangePct = e.ChangeAbs / prevClose * 100
	}

	meta := s.metadata(ctx, symbol, bars)
	e.MarketCap = meta.MarketCap
	e.YearHigh = meta.YearHigh
	e.YearLow = meta.YearLow
	if meta.AvgVolume30d > 0 {
		e.RVol = volume / meta.AvgVolume30d
	}

	if !open {
		e.Status = statusClosed
	}
	return e
}

// metadata is cached per symbol even when the provider call fails, so a
// failing symbol costs at most one upstream call per metadata TTL. A fill cut
// short by the caller's cancellation is not cached.
func (s *Service) metadata(ctx context.Context, symbol string, bars []models.DailyBar) models.SymbolMetadata {
	fallback := models.SymbolMetadata{AvgVolume30d: models.AvgVolume(bars, avgVolumeBars)}
	meta, err := s.meta.GetOrFetch(ctx, symbol, func(ctx context.Context) (models.SymbolMetadata, error) {
		m := fallback
		info, err := s.fetcher.FetchFastInfo(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return m, ctx.Err()
			}
			s.log.Debug("fast info unavailable", zap.String("symbol", symbol), zap.Error(err))
			return m, nil
		}
		m.MarketCap = info.MarketCap
		m.YearHigh = info.YearHigh
		m.YearLow = info.YearLow
		return m, nil
	})
	if err != nil {
		return fallback
	}
	return meta
}
