// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viktsys/marketcache/models"
)

const namespace = "marketcache"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	RefreshSymbols   *prometheus.CounterVec
	LiveUpdates      *prometheus.CounterVec
	FeedState        *prometheus.GaugeVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Market data provider calls by operation and result.",
		}, []string{"op", "result"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Market data provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "TTL cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		RefreshSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_symbols_total",
			Help:      "Daily refresh outcomes per symbol.",
		}, []string{"result"}),
		LiveUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_updates_total",
			Help:      "Quote updates applied from live sources.",
		}, []string{"source"}),
		FeedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_feed_state",
			Help:      "1 for the current state of the live feed driver.",
		}, []string{"state"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CacheLookups,
		m.RefreshSymbols,
		m.LiveUpdates,
		m.FeedState,
		m.HTTPRequests,
		m.HTTPDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveUpstream records one provider call.
func (m *Metrics) ObserveUpstream(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, models.ErrRateLimited):
		result = "rate_limited"
	case err != nil:
		result = "error"
	}
	m.UpstreamRequests.WithLabelValues(op, result).Inc()
	m.UpstreamDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// CacheObserver returns a lookup callback for the named cache.
func (m *Metrics) CacheObserver(name string) func(result string) {
	return func(result string) {
		if m == nil {
			return
		}
		m.CacheLookups.WithLabelValues(name, result).Inc()
	}
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.RefreshSymbols.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLiveUpdates(source string, n int) {
	if m == nil {
		return
	}
	m.LiveUpdates.WithLabelValues(source).Add(float64(n))
}

// SetFeedState marks state as current and clears the others.
func (m *Metrics) SetFeedState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.FeedState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
