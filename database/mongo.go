package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viktsys/marketcache/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig describes the Mongo connection.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// seriesDoc is one document per (symbol, interval).
type seriesDoc struct {
	Symbol    string            `bson:"symbol"`
	Interval  string            `bson:"interval"`
	Bars      []models.DailyBar `bson:"bars"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

// MongoStore keeps each daily series as a single document, so a replace is
// one atomic write.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// OpenMongo connects, pings and ensures the (symbol, interval) unique index.
func OpenMongo(ctx context.Context, cfg MongoConfig, log *zap.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := NewMongoStore(client, cfg.Database, cfg.Collection)
	if err := s.EnsureIndexes(connectCtx); err != nil {
		log.Warn("failed to create mongo indexes", zap.Error(err))
	}

	log.Info("mongo connected", zap.String("database", cfg.Database), zap.String("collection", cfg.Collection))
	return s, nil
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		now:    time.Now,
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "interval", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uidx_symbol_interval"),
	})
	return err
}

func seriesFilter(symbol string) bson.D {
	return bson.D{{Key: "symbol", Value: symbol}, {Key: "interval", Value: models.IntervalDaily}}
}

func (s *MongoStore) UpsertSeries(ctx context.Context, symbol string, bars []models.DailyBar) error {
	doc := seriesDoc{
		Symbol:    symbol,
		Interval:  models.IntervalDaily,
		Bars:      models.NormalizeSeries(bars),
		UpdatedAt: s.now().UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, seriesFilter(symbol), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, symbol, err)
	}
	return nil
}

func (s *MongoStore) ReadSeries(ctx context.Context, symbol string) ([]models.DailyBar, bool, error) {
	var doc seriesDoc
	err := s.coll.FindOne(ctx, seriesFilter(symbol)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, symbol, err)
	}
	return doc.Bars, true, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
