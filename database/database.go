package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PostgresConfig describes the Postgres connection and pool.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	TimeZone        string        `mapstructure:"timezone"`
	DSN             string        `mapstructure:"dsn"` // overrides the discrete fields when set
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

func (c PostgresConfig) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.TimeZone)
}

// OpenPostgres connects, tunes the pool, migrates the schema and applies indexes.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// read-mostly workload: a small symbol set, one writer per day
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&models.DailySeries{}, &models.DailyBarRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := OptimizeIndexes(db.WithContext(ctx), log); err != nil {
		log.Warn("failed to optimize indexes", zap.Error(err))
	}

	log.Info("database connected and migrated", zap.String("host", cfg.Host), zap.String("name", cfg.Name))
	return db, nil
}

// PostgresStore keeps each daily series as a header row plus one row per bar.
type PostgresStore struct {
	db        *gorm.DB
	batchSize int
	now       func() time.Time
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db, batchSize: 500, now: time.Now}
}

// UpsertSeries replaces the stored series in one transaction.
func (s *PostgresStore) UpsertSeries(ctx context.Context, symbol string, bars []models.DailyBar) error {
	bars = models.NormalizeSeries(bars)
	rows := make([]models.DailyBarRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, models.NewDailyBarRow(symbol, b))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header := models.DailySeries{
			Symbol:    symbol,
			Interval:  models.IntervalDaily,
			BarCount:  len(rows),
			UpdatedAt: s.now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "bar_interval"}},
			DoUpdates: clause.AssignmentColumns([]string{"bar_count", "updated_at"}),
		}).Create(&header).Error; err != nil {
			return fmt.Errorf("upsert series header: %w", err)
		}

		if err := tx.Where("symbol = ? AND bar_interval = ?", symbol, models.IntervalDaily).
			Delete(&models.DailyBarRow{}).Error; err != nil {
			return fmt.Errorf("delete bars: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, s.batchSize).Error; err != nil {
			return fmt.Errorf("insert bars: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, symbol, err)
	}
	return nil
}

// ReadSeries returns the stored bars ordered by time; ok is false when the
// series has never been written.
func (s *PostgresStore) ReadSeries(ctx context.Context, symbol string) ([]models.DailyBar, bool, error) {
	db := s.db.WithContext(ctx)

	var header models.DailySeries
	err := db.Where("symbol = ? AND bar_interval = ?", symbol, models.IntervalDaily).First(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, symbol, err)
	}

	var rows []models.DailyBarRow
	if err := db.Where("symbol = ? AND bar_interval = ?", symbol, models.IntervalDaily).
		Order("time ASC").Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, symbol, err)
	}

	bars := make([]models.DailyBar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, r.Bar())
	}
	return bars, true, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
