package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/viktsys/marketcache/config"
	"github.com/viktsys/marketcache/session"
)

var statusAt string

var statusCMD = &cobra.Command{
	Use:   "status",
	Short: "Print whether the regular trading session is open",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		hours, err := session.NewHours(cfg.Market.TimeZone)
		if err != nil {
			return fmt.Errorf("invalid market.timezone: %w", err)
		}

		at := time.Now()
		if statusAt != "" {
			if at, err = time.Parse(time.RFC3339, statusAt); err != nil {
				return fmt.Errorf("invalid --at, use RFC3339: %w", err)
			}
		}

		out := struct {
			At         string `json:"at"`
			MarketOpen bool   `json:"market_open"`
			Status     string `json:"status"`
		}{At: at.In(hours.Location).Format(time.RFC3339), MarketOpen: hours.IsOpen(at), Status: "Closed"}
		if out.MarketOpen {
			out.Status = "Open"
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	statusCMD.Flags().StringVar(&statusAt, "at", "", "instant to check, RFC3339 (default now)")
}
