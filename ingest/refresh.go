// Package ingest keeps the bar store and the quote store warm in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/viktsys/marketcache/database"
	"github.com/viktsys/marketcache/metrics"
	"github.com/viktsys/marketcache/models"
	"github.com/viktsys/marketcache/provider"
	"github.com/viktsys/marketcache/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// seriesPeriod is the freshness key period of the stored daily window.
const seriesPeriod = models.Period6M

// saveEvery is how many refreshed symbols pass between freshness file saves
// and batch pauses.
const saveEvery = 10

// RefreshResult summarizes one batch.
type RefreshResult struct {
	Refreshed int
	Skipped   int
	Failed    []string
	Duration  time.Duration
}

// Refresher pulls the six-month daily window for every symbol into the store.
type Refresher struct {
	fetcher  provider.Fetcher
	store    database.BarStore
	fresh    *FreshnessFile
	limiter  *rate.Limiter
	cooldown time.Duration
	pause    time.Duration
	symbols  []string
	hours    session.Hours

	log     *zap.Logger
	metrics *metrics.Metrics

	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	processed atomic.Int64
}

// NewRefresher paces provider calls at one per cfg.RequestSpacing. hours sets
// the day boundary Preload uses. fresh may be nil.
func NewRefresher(cfg Config, symbols []string, f provider.Fetcher, store database.BarStore,
	fresh *FreshnessFile, hours session.Hours, log *zap.Logger, m *metrics.Metrics) *Refresher {
	limit := rate.Inf
	if cfg.RequestSpacing > 0 {
		limit = rate.Every(cfg.RequestSpacing)
	}
	return &Refresher{
		fetcher:  f,
		store:    store,
		fresh:    fresh,
		limiter:  rate.NewLimiter(limit, 1),
		cooldown: cfg.RateLimitCooldown,
		pause:    cfg.BatchPause,
		symbols:  symbols,
		hours:    hours,
		log:      log.Named("refresh"),
		metrics:  m,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// RefreshAll refreshes every symbol. A failing symbol is logged and counted;
// the batch always moves on to the next one.
func (r *Refresher) RefreshAll(ctx context.Context) RefreshResult {
	return r.run(ctx, false)
}

// Preload is RefreshAll that skips symbols already fetched today.
func (r *Refresher) Preload(ctx context.Context) RefreshResult {
	return r.run(ctx, true)
}

func (r *Refresher) run(ctx context.Context, skipFresh bool) RefreshResult {
	start := time.Now()
	var res RefreshResult
	r.log.Info("starting daily refresh", zap.Int("symbols", len(r.symbols)), zap.Bool("skip_fresh", skipFresh))

	today := r.startOfDay()
	sinceSave := 0
	for _, symbol := range r.symbols {
		if ctx.Err() != nil {
			break
		}
		if skipFresh && r.fresh != nil && r.fresh.FreshSince(symbol, seriesPeriod, today) {
			res.Skipped++
			r.metrics.ObserveRefresh("skipped")
			continue
		}

		if err := r.refreshSymbol(ctx, symbol); err != nil {
			r.log.Warn("refresh failed", zap.String("symbol", symbol), zap.Error(err))
			res.Failed = append(res.Failed, symbol)
			r.metrics.ObserveRefresh("failed")
			continue
		}
		res.Refreshed++
		r.processed.Add(1)
		r.metrics.ObserveRefresh("ok")

		if sinceSave++; sinceSave >= saveEvery {
			r.saveFreshness()
			sinceSave = 0
			if r.pause > 0 {
				r.log.Info("pausing between batches", zap.Int("refreshed", res.Refreshed), zap.Duration("pause", r.pause))
				if err := r.sleep(ctx, r.pause); err != nil {
					break
				}
			}
		}
	}
	if sinceSave > 0 {
		r.saveFreshness()
	}

	res.Duration = time.Since(start)
	r.log.Info("daily refresh completed",
		zap.Int("refreshed", res.Refreshed),
		zap.Int("skipped", res.Skipped),
		zap.Strings("failed", res.Failed),
		zap.Duration("took", res.Duration))
	return res
}

// refreshSymbol retries once after a cooldown when the provider throttles.
func (r *Refresher) refreshSymbol(ctx context.Context, symbol string) error {
	bars, err := r.fetch(ctx, symbol)
	if errors.Is(err, models.ErrRateLimited) {
		r.log.Warn("rate limited, cooling down", zap.String("symbol", symbol), zap.Duration("cooldown", r.cooldown))
		if err := r.sleep(ctx, r.cooldown); err != nil {
			return err
		}
		bars, err = r.fetch(ctx, symbol)
	}
	if err != nil {
		return err
	}

	if err := r.store.UpsertSeries(ctx, symbol, models.NormalizeSeries(bars)); err != nil {
		return fmt.Errorf("store %s: %w", symbol, err)
	}
	if r.fresh != nil {
		r.fresh.Mark(symbol, seriesPeriod, r.now())
	}
	r.log.Debug("refreshed", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return nil
}

func (r *Refresher) fetch(ctx context.Context, symbol string) ([]models.DailyBar, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.fetcher.FetchDailyBars(ctx, symbol)
}

func (r *Refresher) saveFreshness() {
	if r.fresh == nil {
		return
	}
	if err := r.fresh.Save(); err != nil {
		r.log.Warn("failed to save freshness file", zap.Error(err))
	}
}

func (r *Refresher) startOfDay() time.Time {
	now := r.now().In(r.hours.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.hours.Location)
}

// Processed counts symbols refreshed over the lifetime of r.
func (r *Refresher) Processed() int64 { return r.processed.Load() }

// Run refreshes immediately and then every interval until ctx is done. The
// cadence is fixed and does not follow the exchange calendar.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	for {
		r.RefreshAll(ctx)
		if err := r.sleep(ctx, interval); err != nil {
			return
		}
	}
}
