// Package database persists daily bar series.
package database

import (
	"context"
	"fmt"

	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

// BarStore is the durable daily-bar store. UpsertSeries replaces the whole
// (symbol, 1d) series atomically; ReadSeries reports ok=false for a series
// that was never written. Backend failures match models.ErrStoreUnavailable.
type BarStore interface {
	UpsertSeries(ctx context.Context, symbol string, bars []models.DailyBar) error
	ReadSeries(ctx context.Context, symbol string) ([]models.DailyBar, bool, error)
	Close() error
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config selects and configures a BarStore backend.
type Config struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// Open builds the configured BarStore.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (BarStore, error) {
	switch cfg.Driver {
	case DriverPostgres:
		db, err := OpenPostgres(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	case DriverMongo:
		return OpenMongo(ctx, cfg.Mongo, log)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
