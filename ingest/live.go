package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/viktsys/marketcache/metrics"
	"github.com/viktsys/marketcache/models"
	"github.com/viktsys/marketcache/provider"
	"github.com/viktsys/marketcache/publish"
	"github.com/viktsys/marketcache/quotes"
	"github.com/viktsys/marketcache/session"
	"go.uber.org/zap"
)

// State is the live feed driver state.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateStreaming    State = "STREAMING"
	StateReconnecting State = "RECONNECTING"
)

var allStates = []string{
	string(StateIdle),
	string(StateConnecting),
	string(StateStreaming),
	string(StateReconnecting),
}

var errStreamEnded = errors.New("trade stream ended")

// LiveFeed streams trades into the quote store while the market is open and
// sits idle while it is closed. It runs for the lifetime of its context.
type LiveFeed struct {
	source    provider.TradeSource
	store     *quotes.Store
	publisher publish.Publisher
	calendar  session.Calendar
	clock     session.Clock
	symbols   []string

	checkInterval  time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics
	sleep   func(context.Context, time.Duration) error

	state atomic.Value // State
}

// NewLiveFeed builds a driver. publisher may be nil.
func NewLiveFeed(cfg Config, symbols []string, src provider.TradeSource, store *quotes.Store,
	pub publish.Publisher, cal session.Calendar, clock session.Clock, log *zap.Logger, m *metrics.Metrics) *LiveFeed {
	l := &LiveFeed{
		source:         src,
		store:          store,
		publisher:      pub,
		calendar:       cal,
		clock:          clock,
		symbols:        symbols,
		checkInterval:  cfg.MarketCheckInterval,
		initialBackoff: cfg.ReconnectInitialBackoff,
		maxBackoff:     cfg.ReconnectMaxBackoff,
		log:            log.Named("live").With(zap.String("source", src.Name())),
		metrics:        m,
		sleep:          sleepCtx,
	}
	l.setState(StateIdle)
	return l
}

func (l *LiveFeed) State() State { return l.state.Load().(State) }

func (l *LiveFeed) setState(s State) {
	if prev, ok := l.state.Load().(State); ok && prev == s {
		return
	}
	l.state.Store(s)
	l.metrics.SetFeedState(string(s), allStates)
	l.log.Info("live feed state", zap.String("state", string(s)))
}

func (l *LiveFeed) open() bool { return l.calendar.IsOpen(l.clock.Now()) }

// Run supervises the feed until ctx is done.
func (l *LiveFeed) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !l.open() {
			l.setState(StateIdle)
			if err := l.sleep(ctx, l.checkInterval); err != nil {
				break
			}
			continue
		}
		l.setState(StateConnecting)
		l.session(ctx)
	}
	l.setState(StateIdle)
}

// session streams until the market closes or ctx is done, reconnecting with
// exponential backoff and resubscribing the full symbol set each time.
func (l *LiveFeed) session(ctx context.Context) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.watchClose(sessCtx, cancel)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initialBackoff
	b.MaxInterval = l.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	for {
		err := l.source.Stream(sessCtx, l.symbols, func(trades []models.Trade) {
			if l.State() != StateStreaming {
				l.setState(StateStreaming)
				b.Reset()
			}
			l.apply(sessCtx, trades)
		})
		if sessCtx.Err() != nil {
			return
		}
		if err == nil {
			err = errStreamEnded
		}

		l.setState(StateReconnecting)
		wait := b.NextBackOff()
		l.log.Warn("stream failed, reconnecting", zap.Error(err), zap.Duration("backoff", wait))
		if err := l.sleep(sessCtx, wait); err != nil {
			return
		}
		if !l.open() {
			return
		}
	}
}

// watchClose cancels the session once the market closes.
func (l *LiveFeed) watchClose(ctx context.Context, cancel context.CancelFunc) {
	t := time.NewTicker(l.checkInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !l.open() {
				l.log.Info("market closed, stopping stream")
				cancel()
				return
			}
		}
	}
}

func (l *LiveFeed) apply(ctx context.Context, trades []models.Trade) {
	applied := make([]models.Quote, 0, len(trades))
	for _, t := range trades {
		applied = append(applied, l.store.Upsert(t.Symbol, quotes.FromTrade(t, true)))
	}
	l.metrics.ObserveLiveUpdates(l.source.Name(), len(applied))

	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, applied); err != nil {
		l.log.Warn("publish failed", zap.Error(err))
	}
}
