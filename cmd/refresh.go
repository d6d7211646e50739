package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/viktsys/marketcache/database"
	"github.com/viktsys/marketcache/ingest"
	"github.com/viktsys/marketcache/provider"
	"github.com/viktsys/marketcache/session"
	"go.uber.org/zap"
)

var refreshCMD = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the stored daily series of every configured symbol once",
	Long: `Fetch the six month daily window for each configured symbol from the
provider and replace the stored series, pacing requests the same way the
server's background refresher does.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("Initializing bar store", zap.String("driver", cfg.Store.Driver))
		store, err := database.Open(ctx, cfg.Store, log)
		if err != nil {
			return fmt.Errorf("failed to initialize bar store: %w", err)
		}
		defer store.Close()

		hours, err := session.NewHours(cfg.Market.TimeZone)
		if err != nil {
			return fmt.Errorf("invalid market.timezone: %w", err)
		}

		fresh, err := ingest.LoadFreshness(cfg.Scheduler.FreshnessFile)
		if err != nil {
			log.Warn("starting with empty freshness file", zap.Error(err))
		}

		r := ingest.NewRefresher(cfg.Scheduler, cfg.Market.Symbols,
			provider.NewYahooClient(cfg.Provider, nil), store, fresh, hours, log, nil)
		res := r.RefreshAll(ctx)

		fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d, failed %d in %s\n",
			res.Refreshed, len(res.Failed), res.Duration.Round(time.Millisecond))
		if len(res.Failed) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "failed symbols: %v\n", res.Failed)
		}
		return nil
	},
}
