package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OptimizeIndexes adds the read-path indexes AutoMigrate does not express.
func OptimizeIndexes(db *gorm.DB, log *zap.Logger) error {
	// history reads scan one series newest-first
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_daily_bars_series_time
		ON daily_bars (symbol, bar_interval, time DESC)
	`).Error; err != nil {
		return fmt.Errorf("failed to create daily bars time index: %w", err)
	}

	// staleness checks look at the oldest headers first
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_daily_series_updated_at
		ON daily_series (updated_at)
	`).Error; err != nil {
		return fmt.Errorf("failed to create daily series updated_at index: %w", err)
	}

	log.Debug("database indexes optimized")
	return nil
}
