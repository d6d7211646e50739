package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

// History returns bars for symbol over period. Unknown periods fall back to
// "1d". 1d and 5d are served as 5-minute bars through the intraday cache;
// longer periods are sliced from the stored daily series, which is fetched
// and persisted on first use. Upstream failures yield empty data with
// Degraded set. Only an empty symbol is an error.
func (s *Service) History(ctx context.Context, symbol, period string) (models.History, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.History{}, models.ErrInvalidSymbol
	}

	period, err := models.NormalizePeriod(period)
	if err != nil {
		s.log.Debug("using default period", zap.Error(err))
	}

	h := models.History{Symbol: symbol, Period: period, Data: []models.DailyBar{}}

	if models.IsIntraday(period) {
		h.Interval = models.IntervalIntraday
		bars, err := s.intraday.GetOrFetch(ctx, historyKey{symbol, period}, func(ctx context.Context) ([]models.Bar, error) {
			return s.fetcher.FetchIntraday(ctx, symbol, period)
		})
		if err != nil {
			s.log.Warn("intraday history unavailable", zap.String("symbol", symbol), zap.String("period", period), zap.Error(err))
			h.Degraded = true
			return h, nil
		}
		if len(bars) > 0 {
			h.Data = bars
		}
		return h, nil
	}

	h.Interval = models.IntervalDaily
	bars, err := s.dailySeries(ctx, symbol)
	if err != nil {
		s.log.Warn("daily history unavailable", zap.String("symbol", symbol), zap.Error(err))
		h.Degraded = true
		return h, nil
	}
	if sliced := SliceDaily(bars, period, s.clock.Now()); len(sliced) > 0 {
		h.Data = sliced
	}
	return h, nil
}

// dailySeries reads through the store: a missing series is fetched and
// persisted, and an unreachable store is bypassed without persisting.
func (s *Service) dailySeries(ctx context.Context, symbol string) ([]models.DailyBar, error) {
	bars, ok, err := s.store.ReadSeries(ctx, symbol)
	switch {
	case err != nil:
		s.log.Warn("store unavailable, fetching directly", zap.String("symbol", symbol), zap.Error(err))
		fetched, ferr := s.fetcher.FetchDailyBars(ctx, symbol)
		if ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return models.NormalizeSeries(fetched), nil
	case ok:
		return bars, nil
	}

	fetched, err := s.fetcher.FetchDailyBars(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("read-through %s: %w", symbol, err)
	}
	fetched = models.NormalizeSeries(fetched)
	if err := s.store.UpsertSeries(ctx, symbol, fetched); err != nil {
		s.log.Warn("failed to persist fetched series", zap.String("symbol", symbol), zap.Error(err))
	}
	return fetched, nil
}

// SliceDaily returns the suffix of bars dated at or after now minus the
// lookback of period (30 days for unknown periods). bars must be in time order.
func SliceDaily(bars []models.DailyBar, period string, now time.Time) []models.DailyBar {
	cutoff := now.AddDate(0, 0, -models.LookbackDays(period)).Unix()
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Time >= cutoff })
	return bars[i:]
}
