package ingest

import (
	"context"
	"time"
)

// Config tunes the background refresh and live feed loops.
type Config struct {
	RefreshInterval         time.Duration `mapstructure:"refresh_interval"`
	RequestSpacing          time.Duration `mapstructure:"request_spacing"`
	RateLimitCooldown       time.Duration `mapstructure:"rate_limit_cooldown"`
	BatchPause              time.Duration `mapstructure:"batch_pause"` // after every saveEvery refreshed symbols
	StreamInterval          time.Duration `mapstructure:"stream_interval"`
	MarketCheckInterval     time.Duration `mapstructure:"market_check_interval"`
	ReconnectInitialBackoff time.Duration `mapstructure:"reconnect_initial_backoff"`
	ReconnectMaxBackoff     time.Duration `mapstructure:"reconnect_max_backoff"`
	FreshnessFile           string        `mapstructure:"freshness_file"`
	PreloadOnStart          bool          `mapstructure:"preload_on_start"`
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
