package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/viktsys/marketcache/models"
)

func sampleQuotes() []models.Quote {
	ts := time.Date(2024, 6, 11, 14, 0, 0, 0, time.UTC)
	return []models.Quote{
		{Symbol: "AAPL", Price: 191.2, ChangePct: 0.5, Timestamp: ts, MarketOpen: true},
		{Symbol: "MSFT", Price: 420.1, Timestamp: ts, MarketOpen: true},
	}
}

func TestRedisPublisherSetsAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, PriceChannel("AAPL"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	pub := NewRedisPublisher(rdb, time.Hour)
	if err := pub.Publish(ctx, sampleQuotes()); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	raw, err := mr.Get(QuoteKey("AAPL"))
	if err != nil {
		t.Fatalf("Expected stored quote: %v", err)
	}
	var stored models.Quote
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("Failed to decode stored quote: %v", err)
	}
	if stored.Price != 191.2 {
		t.Errorf("Expected price 191.2, got %v", stored.Price)
	}
	if ttl := mr.TTL(QuoteKey("AAPL")); ttl != time.Hour {
		t.Errorf("Expected 1h TTL, got %v", ttl)
	}
	if !mr.Exists(QuoteKey("MSFT")) {
		t.Error("Expected MSFT quote to be stored")
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "prices.AAPL" {
			t.Errorf("Expected prices.AAPL, got %s", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}

func TestRedisPublisherReportsFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	if err := NewRedisPublisher(rdb, time.Hour).Publish(context.Background(), sampleQuotes()); err == nil {
		t.Error("Expected error when redis is down")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeysBySymbol(t *testing.T) {
	w := &fakeWriter{}
	if err := NewKafkaPublisher(w).Publish(context.Background(), sampleQuotes()); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "AAPL" || string(w.msgs[1].Key) != "MSFT" {
		t.Errorf("Expected keys AAPL, MSFT; got %s, %s", w.msgs[0].Key, w.msgs[1].Key)
	}
}

type stubPublisher struct {
	err   error
	calls int
}

func (s *stubPublisher) Publish(context.Context, []models.Quote) error {
	s.calls++
	return s.err
}

func (s *stubPublisher) Close() error { return s.err }

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &stubPublisher{}
	bad := &stubPublisher{err: boom}
	w := &fakeWriter{}

	m := Multi{bad, ok, NewKafkaPublisher(w)}
	err := m.Publish(context.Background(), sampleQuotes())

	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to contain boom, got %v", err)
	}
	if ok.calls != 1 || len(w.msgs) != 2 {
		t.Error("Expected a failing publisher not to stop the others")
	}

	m.Close()
	if !w.closed {
		t.Error("Expected Close to reach every publisher")
	}
}
