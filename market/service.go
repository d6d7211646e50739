// Package market answers snapshot, history and session queries by combining
// the live quote store, the durable bar store and the provider.
package market

import (
	"strings"
	"time"

	"github.com/viktsys/marketcache/cache"
	"github.com/viktsys/marketcache/database"
	"github.com/viktsys/marketcache/metrics"
	"github.com/viktsys/marketcache/models"
	"github.com/viktsys/marketcache/provider"
	"github.com/viktsys/marketcache/quotes"
	"github.com/viktsys/marketcache/session"
	"go.uber.org/zap"
)

// CacheConfig sizes the in-process caches.
type CacheConfig struct {
	IntradayTTL time.Duration `mapstructure:"intraday_ttl"`
	IntradayMax int           `mapstructure:"intraday_max"`
	MetadataTTL time.Duration `mapstructure:"metadata_ttl"`
	MetadataMax int           `mapstructure:"metadata_max"`
	Coalesce    bool          `mapstructure:"coalesce"`
}

// Config lists the served symbols and optional display names.
type Config struct {
	Symbols []string
	Names   map[string]string
	Cache   CacheConfig
}

type historyKey struct {
	Symbol string
	Period string
}

// Service is safe for concurrent use.
type Service struct {
	store    database.BarStore
	quotes   *quotes.Store
	fetcher  provider.Fetcher
	calendar session.Calendar
	clock    session.Clock

	intraday *cache.TTL[historyKey, []models.Bar]
	meta     *cache.TTL[string, models.SymbolMetadata]

	symbols []string
	names   map[string]string

	log *zap.Logger
}

func NewService(cfg Config, store database.BarStore, qs *quotes.Store, f provider.Fetcher,
	cal session.Calendar, clock session.Clock, log *zap.Logger, m *metrics.Metrics) *Service {
	intradayOpts := []cache.Option{
		cache.WithClock(clock.Now),
		cache.WithObserver(m.CacheObserver("intraday")),
	}
	if cfg.Cache.Coalesce {
		intradayOpts = append(intradayOpts, cache.WithCoalescing())
	}

	names := make(map[string]string, len(cfg.Names))
	for k, v := range cfg.Names {
		names[strings.ToUpper(k)] = v
	}

	return &Service{
		store:    store,
		quotes:   qs,
		fetcher:  f,
		calendar: cal,
		clock:    clock,
		intraday: cache.New[historyKey, []models.Bar](cfg.Cache.IntradayTTL, cfg.Cache.IntradayMax, intradayOpts...),
		meta: cache.New[string, models.SymbolMetadata](cfg.Cache.MetadataTTL, cfg.Cache.MetadataMax,
			cache.WithClock(clock.Now),
			cache.WithObserver(m.CacheObserver("metadata"))),
		symbols: normalizeSymbols(cfg.Symbols),
		names:   names,
		log:     log.Named("market"),
	}
}

// Symbols returns the configured symbol set.
func (s *Service) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

func (s *Service) MarketStatus() models.MarketStatus {
	if s.calendar.IsOpen(s.clock.Now()) {
		return models.MarketStatus{MarketOpen: true, Status: "Open"}
	}
	return models.MarketStatus{MarketOpen: false, Status: "Closed"}
}

func (s *Service) name(symbol string) string {
	if n, ok := s.names[symbol]; ok && n != "" {
		return n
	}
	return symbol
}

// normalizeSymbols upper-cases, trims and de-duplicates, keeping order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
