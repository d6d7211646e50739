package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viktsys/marketcache/models"
	"github.com/viktsys/marketcache/quotes"
	"github.com/viktsys/marketcache/session"
	"go.uber.org/zap"
)

type switchCalendar struct{ open atomic.Bool }

func (c *switchCalendar) IsOpen(time.Time) bool { return c.open.Load() }

type streamFunc func(ctx context.Context, emit func([]models.Trade)) error

// scriptedSource plays one streamFunc per Stream call and then blocks.
type scriptedSource struct {
	mu      sync.Mutex
	script  []streamFunc
	calls   int
	symbols [][]string
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Stream(ctx context.Context, symbols []string, emit func([]models.Trade)) error {
	s.mu.Lock()
	s.calls++
	s.symbols = append(s.symbols, append([]string(nil), symbols...))
	var fn streamFunc
	if len(s.script) > 0 {
		fn, s.script = s.script[0], s.script[1:]
	}
	s.mu.Unlock()

	if fn == nil {
		<-ctx.Done()
		return nil
	}
	return fn(ctx, emit)
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	quotes []models.Quote
}

func (p *recordingPublisher) Publish(_ context.Context, q []models.Quote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes = append(p.quotes, q...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.quotes)
}

func liveConfig() Config {
	return Config{
		MarketCheckInterval:     5 * time.Millisecond,
		ReconnectInitialBackoff: time.Second,
		ReconnectMaxBackoff:     10 * time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func emitOnce(trades ...models.Trade) streamFunc {
	return func(ctx context.Context, emit func([]models.Trade)) error {
		emit(trades)
		<-ctx.Done()
		return nil
	}
}

func TestLiveFeedIdleWhileClosed(t *testing.T) {
	cal := &switchCalendar{}
	src := &scriptedSource{}
	feed := NewLiveFeed(liveConfig(), []string{"AAPL"}, src, quotes.NewStore(), nil, cal, session.SystemClock{}, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	feed.Run(ctx)

	if src.callCount() != 0 {
		t.Errorf("Expected no stream while closed, got %d calls", src.callCount())
	}
	if feed.State() != StateIdle {
		t.Errorf("Expected IDLE, got %s", feed.State())
	}
}

func TestLiveFeedStreamsIntoStoreAndPublishes(t *testing.T) {
	cal := &switchCalendar{}
	cal.open.Store(true)
	src := &scriptedSource{script: []streamFunc{emitOnce(
		models.Trade{Symbol: "AAPL", Price: 100},
	)}}
	store := quotes.NewStore()
	pub := &recordingPublisher{}
	feed := NewLiveFeed(liveConfig(), []string{"AAPL"}, src, store, pub, cal, session.SystemClock{}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	waitFor(t, "streaming state", func() bool { return feed.State() == StateStreaming })
	q, ok := store.Get("AAPL")
	if !ok || q.Price != 100 || !q.MarketOpen {
		t.Errorf("Expected open AAPL quote at 100, got %+v (ok=%v)", q, ok)
	}
	if pub.count() != 1 {
		t.Errorf("Expected 1 published quote, got %d", pub.count())
	}

	cancel()
	<-done
}

func TestLiveFeedReconnectsWithBackoffAndResubscribes(t *testing.T) {
	cal := &switchCalendar{}
	cal.open.Store(true)
	fail := func(context.Context, func([]models.Trade)) error { return errors.New("connection reset") }
	src := &scriptedSource{script: []streamFunc{
		fail,
		fail,
		fail,
		emitOnce(models.Trade{Symbol: "MSFT", Price: 420}),
	}}
	store := quotes.NewStore()
	symbols := []string{"AAPL", "MSFT"}
	feed := NewLiveFeed(liveConfig(), symbols, src, store, nil, cal, session.SystemClock{}, zap.NewNop(), nil)

	var (
		mu     sync.Mutex
		waits  []time.Duration
		states []State
	)
	feed.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		states = append(states, feed.State())
		mu.Unlock()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	waitFor(t, "recovered stream", func() bool {
		_, ok := store.Get("MSFT")
		return ok
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("Expected backoffs %v, got %v", want, waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("backoff %d: expected %v, got %v", i, want[i], waits[i])
		}
		if states[i] != StateReconnecting {
			t.Errorf("Expected RECONNECTING during backoff, got %s", states[i])
		}
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	for i, subs := range src.symbols {
		if len(subs) != len(symbols) {
			t.Errorf("connection %d subscribed %v, expected the full set", i, subs)
		}
	}
}

func TestLiveFeedBackoffIsCapped(t *testing.T) {
	cal := &switchCalendar{}
	cal.open.Store(true)
	fail := func(context.Context, func([]models.Trade)) error { return errors.New("down") }
	script := make([]streamFunc, 8)
	for i := range script {
		script[i] = fail
	}
	src := &scriptedSource{script: script}
	feed := NewLiveFeed(liveConfig(), []string{"AAPL"}, src, quotes.NewStore(), nil, cal, session.SystemClock{}, zap.NewNop(), nil)

	var waits []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 7 {
			cancel()
		}
		return ctx.Err()
	}
	feed.Run(ctx)

	for _, w := range waits {
		if w > 10*time.Second {
			t.Errorf("Expected backoff capped at 10s, got %v", w)
		}
	}
	if waits[len(waits)-1] != 10*time.Second {
		t.Errorf("Expected backoff to reach the 10s cap, got %v", waits)
	}
}

func TestLiveFeedStopsStreamingWhenMarketCloses(t *testing.T) {
	cal := &switchCalendar{}
	cal.open.Store(true)
	src := &scriptedSource{script: []streamFunc{emitOnce(models.Trade{Symbol: "AAPL", Price: 1})}}
	feed := NewLiveFeed(liveConfig(), []string{"AAPL"}, src, quotes.NewStore(), nil, cal, session.SystemClock{}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	waitFor(t, "streaming state", func() bool { return feed.State() == StateStreaming })
	cal.open.Store(false)
	waitFor(t, "idle state", func() bool { return feed.State() == StateIdle })

	if n := src.callCount(); n != 1 {
		t.Errorf("Expected no reconnect after close, got %d stream calls", n)
	}

	cancel()
	<-done
}
