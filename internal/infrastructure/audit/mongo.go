package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

// MongoSink mirrors scrape audit entries into a MongoDB collection.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var (
	_ ports.AuditLog    = (*MongoSink)(nil)
	_ ports.AuditReader = (*MongoSink)(nil)
)

// ConnectMongo dials the configured deployment and prepares the audit collection.
func ConnectMongo(ctx context.Context, cfg config.AuditConfig) (*MongoSink, error) {
	if cfg.MongoURI == "" {
		return nil, errors.New("audit mongo uri is empty")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := cli.Ping(connectCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := cli.Database(cfg.Database).Collection(cfg.Collection)
	_, _ = coll.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "at", Value: -1}}},
		{Keys: bson.D{{Key: "host", Value: 1}, {Key: "at", Value: -1}}},
	})
	return &MongoSink{client: cli, coll: coll}, nil
}

// Append inserts one audit document.
func (m *MongoSink) Append(ctx context.Context, e domain.AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if _, err := m.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries first.
func (m *MongoSink) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := m.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	var out []domain.AuditEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode audit: %w", err)
	}
	return out, nil
}

// Close disconnects the client.
func (m *MongoSink) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
