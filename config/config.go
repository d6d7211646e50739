// Package config loads service configuration from defaults, an optional
// config file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/viktsys/marketcache/database"
	"github.com/viktsys/marketcache/ingest"
	"github.com/viktsys/marketcache/market"
	"github.com/viktsys/marketcache/provider"
	"github.com/viktsys/marketcache/publish"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Log       LogConfig           `mapstructure:"log"`
	Market    MarketConfig        `mapstructure:"market"`
	Store     database.Config     `mapstructure:"store"`
	Provider  provider.Config     `mapstructure:"provider"`
	Feed      FeedConfig          `mapstructure:"feed"`
	Scheduler ingest.Config       `mapstructure:"scheduler"`
	Cache     market.CacheConfig  `mapstructure:"cache"`
	Redis     publish.RedisConfig `mapstructure:"redis"`
	Kafka     publish.KafkaConfig `mapstructure:"kafka"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MarketConfig struct {
	Symbols  []string          `mapstructure:"symbols"`
	Names    map[string]string `mapstructure:"names"`
	TimeZone string            `mapstructure:"timezone"`
}

// Live trade sources.
const (
	SourceAuto    = "auto" // finnhub when a token is configured, polling otherwise
	SourceFinnhub = "finnhub"
	SourcePolling = "polling"
)

type FeedConfig struct {
	Enabled bool                   `mapstructure:"enabled"`
	Source  string                 `mapstructure:"source"`
	Finnhub provider.FinnhubConfig `mapstructure:"finnhub"`
}

// ResolvedSource applies the auto rule.
func (f FeedConfig) ResolvedSource() string {
	if f.Source == SourceAuto {
		if f.Finnhub.Token != "" {
			return SourceFinnhub
		}
		return SourcePolling
	}
	return f.Source
}

var defaultSymbols = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "AVGO", "META", "NFLX", "COST", "TSLA", "GOOGL",
	"GOOG", "TMUS", "PLTR", "CSCO", "LIN", "ISRG", "PEP", "INTU", "BKNG", "ADBE",
	"AMD", "AMGN", "QCOM", "TXN", "HON", "GILD", "VRTX", "CMCSA", "PANW", "ADP",
	"AMAT", "MELI", "CRWD", "ADI",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("market.symbols", defaultSymbols)
	v.SetDefault("market.timezone", "America/New_York")

	v.SetDefault("store.driver", database.DriverPostgres)
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "password")
	v.SetDefault("store.postgres.name", "marketcache")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.timezone", "UTC")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_open_conns", 25)
	v.SetDefault("store.postgres.max_idle_conns", 25)
	v.SetDefault("store.postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("store.postgres.conn_max_idle_time", 10*time.Minute)
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "marketcache")
	v.SetDefault("store.mongo.collection", "historical_prices")
	v.SetDefault("store.mongo.connect_timeout", 10*time.Second)

	v.SetDefault("provider.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("provider.user_agent", "Mozilla/5.0 (compatible; marketcache/1.0)")

	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.source", SourceAuto)
	v.SetDefault("feed.finnhub.url", "wss://ws.finnhub.io")
	v.SetDefault("feed.finnhub.token", "")
	v.SetDefault("feed.finnhub.ping_interval", 20*time.Second)
	v.SetDefault("feed.finnhub.pong_wait", 30*time.Second)

	v.SetDefault("scheduler.refresh_interval", 24*time.Hour)
	v.SetDefault("scheduler.request_spacing", 2*time.Second)
	v.SetDefault("scheduler.rate_limit_cooldown", 5*time.Minute)
	v.SetDefault("scheduler.batch_pause", 30*time.Second)
	v.SetDefault("scheduler.stream_interval", 2*time.Second)
	v.SetDefault("scheduler.market_check_interval", 30*time.Second)
	v.SetDefault("scheduler.reconnect_initial_backoff", time.Second)
	v.SetDefault("scheduler.reconnect_max_backoff", 10*time.Second)
	v.SetDefault("scheduler.freshness_file", "./stock_cache/last_updates.json")
	v.SetDefault("scheduler.preload_on_start", true)

	v.SetDefault("cache.intraday_ttl", 10*time.Minute)
	v.SetDefault("cache.intraday_max", 256)
	v.SetDefault("cache.metadata_ttl", 30*time.Minute)
	v.SetDefault("cache.metadata_max", 512)
	v.SetDefault("cache.coalesce", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.quote_ttl", time.Hour)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
}

// Load reads configuration. path may be empty; a .env file in the working
// directory is loaded into the environment when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// "store.postgres.host" -> STORE_POSTGRES_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	// conventional names used by existing deployments
	if err := bindAliases(v, map[string][]string{
		"feed.finnhub.token": {"FINNHUB_API_KEY"},
		"store.mongo.uri":    {"MONGO_URI"},
		"market.symbols":     {"SYMBOLS"},
	}); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.Market.Symbols = cleanSymbols(cfg.Market.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// bindAliases binds each key to its canonical variable first, then the aliases.
func bindAliases(v *viper.Viper, aliases map[string][]string) error {
	for key, names := range aliases {
		canonical := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, canonical}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func cleanSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		// env values arrive as one comma separated string
		for _, part := range strings.Split(s, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Market.Symbols) == 0 {
		errs = append(errs, errors.New("market.symbols cannot be empty"))
	}
	switch c.Store.Driver {
	case database.DriverPostgres, database.DriverMongo, database.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, mongo, memory", c.Store.Driver))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode %q is not one of debug, release, test", c.Server.Mode))
	}
	switch c.Feed.Source {
	case SourceAuto, SourceFinnhub, SourcePolling:
	default:
		errs = append(errs, fmt.Errorf("feed.source %q is not one of auto, finnhub, polling", c.Feed.Source))
	}
	if c.Feed.Source == SourceFinnhub && c.Feed.Finnhub.Token == "" {
		errs = append(errs, errors.New("feed.finnhub.token is required for the finnhub source"))
	}

	positive := map[string]time.Duration{
		"cache.intraday_ttl":                  c.Cache.IntradayTTL,
		"cache.metadata_ttl":                  c.Cache.MetadataTTL,
		"provider.timeout":                    c.Provider.Timeout,
		"scheduler.refresh_interval":          c.Scheduler.RefreshInterval,
		"scheduler.stream_interval":           c.Scheduler.StreamInterval,
		"scheduler.market_check_interval":     c.Scheduler.MarketCheckInterval,
		"scheduler.reconnect_initial_backoff": c.Scheduler.ReconnectInitialBackoff,
		"scheduler.reconnect_max_backoff":     c.Scheduler.ReconnectMaxBackoff,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.Scheduler.ReconnectMaxBackoff < c.Scheduler.ReconnectInitialBackoff {
		errs = append(errs, errors.New("scheduler.reconnect_max_backoff must not be below the initial backoff"))
	}
	if f := c.Feed.Finnhub; f.PongWait > 0 && f.PingInterval >= f.PongWait {
		errs = append(errs, errors.New("feed.finnhub.pong_wait must exceed feed.finnhub.ping_interval"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers cannot be empty"))
	}
	return errors.Join(errs...)
}
