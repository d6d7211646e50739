package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/viktsys/marketcache/config"
	"go.uber.org/zap"
)

var cfgFile string

var rootCMD = &cobra.Command{
	Use:   "marketcache",
	Short: "Market data cache and trading session engine",
	Long: `A service that keeps daily bars and live quotes for a fixed set of US
equities warm, and serves snapshots, price history and market status
through a REST API and a websocket stream.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCMD.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCMD.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	rootCMD.AddCommand(serverCMD)
	rootCMD.AddCommand(refreshCMD)
	rootCMD.AddCommand(statusCMD)
}

// bootstrap loads configuration and builds the logger shared by all commands.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
