package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/viktsys/marketcache/api"
	"github.com/viktsys/marketcache/config"
	"github.com/viktsys/marketcache/database"
	"github.com/viktsys/marketcache/ingest"
	"github.com/viktsys/marketcache/market"
	"github.com/viktsys/marketcache/metrics"
	"github.com/viktsys/marketcache/provider"
	"github.com/viktsys/marketcache/publish"
	"github.com/viktsys/marketcache/quotes"
	"github.com/viktsys/marketcache/session"
	"go.uber.org/zap"
)

var serverCMD = &cobra.Command{
	Use:   "server",
	Short: "Start the API server and background schedulers",
	Long: `Start the HTTP API server together with the daily bar refresher and the
live quote feed. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, log)
	},
}

func runServer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	hours, err := session.NewHours(cfg.Market.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid market.timezone: %w", err)
	}
	clock := session.SystemClock{}

	log.Info("Initializing bar store", zap.String("driver", cfg.Store.Driver))
	store, err := database.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("failed to initialize bar store: %w", err)
	}
	defer store.Close()

	fetcher := provider.NewYahooClient(cfg.Provider, m)
	qs := quotes.NewStore()

	svc := market.NewService(market.Config{
		Symbols: cfg.Market.Symbols,
		Names:   cfg.Market.Names,
		Cache:   cfg.Cache,
	}, store, qs, fetcher, hours, clock, log, m)

	hub := api.NewHub(qs.All, log)
	pub, err := buildPublishers(ctx, cfg, hub, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	fresh, err := ingest.LoadFreshness(cfg.Scheduler.FreshnessFile)
	if err != nil {
		log.Warn("starting with empty freshness file", zap.Error(err))
	}
	refresher := ingest.NewRefresher(cfg.Scheduler, svc.Symbols(), fetcher, store, fresh, hours, log, m)

	var feed *ingest.LiveFeed
	if cfg.Feed.Enabled {
		feed = ingest.NewLiveFeed(cfg.Scheduler, svc.Symbols(), tradeSource(cfg, fetcher, log),
			qs, pub, hours, clock, log, m)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runRefresher(ctx, refresher, cfg.Scheduler)
	}()
	if feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed.Run(ctx)
		}()
	}

	gin.SetMode(cfg.Server.Mode)
	var reporter api.FeedReporter
	if feed != nil {
		reporter = feed
	}
	h := api.NewHandler(svc, reporter, hub, m, log)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("addr", srv.Addr), zap.Int("symbols", len(svc.Symbols())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info("Shutting down")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	wg.Wait()
	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return nil
}

// runRefresher preloads stale symbols on start, then refreshes everything
// on the fixed interval.
func runRefresher(ctx context.Context, r *ingest.Refresher, cfg ingest.Config) {
	if !cfg.PreloadOnStart {
		r.Run(ctx, cfg.RefreshInterval)
		return
	}
	r.Preload(ctx)
	t := time.NewTimer(cfg.RefreshInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	r.Run(ctx, cfg.RefreshInterval)
}

func tradeSource(cfg *config.Config, f provider.Fetcher, log *zap.Logger) provider.TradeSource {
	if cfg.Feed.ResolvedSource() == config.SourceFinnhub {
		return provider.NewFinnhubSource(cfg.Feed.Finnhub, log)
	}
	return provider.NewPollingSource(f, cfg.Scheduler.StreamInterval, log)
}

// buildPublishers always includes the websocket hub; redis and kafka join
// when enabled.
func buildPublishers(ctx context.Context, cfg *config.Config, hub *api.Hub, log *zap.Logger) (publish.Multi, error) {
	pubs := publish.Multi{hub}
	if cfg.Redis.Enabled {
		rp, err := publish.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("Publishing quotes to redis", zap.String("addr", cfg.Redis.Addr))
		pubs = append(pubs, rp)
	}
	if cfg.Kafka.Enabled {
		log.Info("Publishing quotes to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		pubs = append(pubs, publish.NewKafkaPublisher(publish.NewKafkaWriter(cfg.Kafka)))
	}
	return pubs, nil
}
