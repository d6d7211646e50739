// Package api exposes the market service over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/viktsys/marketcache/ingest"
	"github.com/viktsys/marketcache/metrics"
	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

// MarketService is the read side served by the routes.
type MarketService interface {
	Symbols() []string
	Snapshot(ctx context.Context, symbols []string) map[string]models.SnapshotEntry
	History(ctx context.Context, symbol, period string) (models.History, error)
	MarketStatus() models.MarketStatus
}

// FeedReporter reports the live feed driver state.
type FeedReporter interface {
	State() ingest.State
}

const feedDisabled = "DISABLED"

type Handler struct {
	market  MarketService
	feed    FeedReporter
	hub     *Hub
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewHandler wires the routes. feed and hub may be nil when the live feed is off.
func NewHandler(svc MarketService, feed FeedReporter, hub *Hub, m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{market: svc, feed: feed, hub: hub, metrics: m, log: log.Named("api")}
}

type SnapshotQuery struct {
	Symbols string `form:"symbols"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *Handler) GetSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.Symbols())
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	var q SnapshotQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var symbols []string
	if q.Symbols != "" {
		symbols = strings.Split(q.Symbols, ",")
	}
	c.JSON(http.StatusOK, h.market.Snapshot(c.Request.Context(), symbols))
}

func (h *Handler) GetHistory(c *gin.Context) {
	period := c.Param("period")
	if period == "" {
		period = c.DefaultQuery("period", models.DefaultPeriod)
	}

	hist, err := h.market.History(c.Request.Context(), c.Param("symbol"), period)
	if err != nil {
		if errors.Is(err, models.ErrInvalidSymbol) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handler) GetMarketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.MarketStatus())
}

func (h *Handler) GetFeedStatus(c *gin.Context) {
	state := feedDisabled
	if h.feed != nil {
		state = string(h.feed.State())
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// SetupRoutes builds the gin engine. Set the gin mode before calling.
func (h *Handler) SetupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(Recovery(h.log), RequestLogger(h.log, h.metrics))

	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.GET("/symbols", h.GetSymbols)
	api.GET("/snapshot", h.GetSnapshot)
	api.GET("/history/:symbol", h.GetHistory)
	api.GET("/history/:symbol/:period", h.GetHistory)
	api.GET("/market-status", h.GetMarketStatus)
	api.GET("/feed-status", h.GetFeedStatus)
	if h.hub != nil {
		api.GET("/ws", gin.WrapF(h.hub.ServeWS))
	}

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	return r
}
