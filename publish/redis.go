package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viktsys/marketcache/models"
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

// RedisPublisher stores the latest quote under quote:{SYMBOL} and announces it
// on the prices.{SYMBOL} channel.
type RedisPublisher struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisPublisher(rdb redis.UniversalClient, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, ttl: ttl}
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisPublisher(rdb, cfg.QuoteTTL), nil
}

func QuoteKey(symbol string) string     { return "quote:" + symbol }
func PriceChannel(symbol string) string { return "prices." + symbol }

// Publish writes the whole batch in one pipeline round trip.
func (p *RedisPublisher) Publish(ctx context.Context, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	pipe := p.rdb.Pipeline()
	for _, q := range quotes {
		payload, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode quote %s: %w", q.Symbol, err)
		}
		pipe.Set(ctx, QuoteKey(q.Symbol), payload, p.ttl)
		pipe.Publish(ctx, PriceChannel(q.Symbol), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }
