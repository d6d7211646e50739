package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viktsys/marketcache/models"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per quote keyed by symbol, so every
// symbol stays ordered within its partition.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond, // writes are synchronous, keep the live feed moving
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(quotes))
	for _, q := range quotes {
		payload, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode quote %s: %w", q.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(q.Symbol), Value: payload, Time: q.Timestamp})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
