package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/pkg/logger"
)

// Client keeps one document per session with the message log embedded, so
// an append is a single $push on one document.
type Client struct {
	client   *mongo.Client
	sessions *mongo.Collection
	events   *mongo.Collection
}

func NewClient(ctx context.Context, uri, database, collection string) (*Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(20 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetMaxPoolSize(10).
		SetMinPoolSize(1)

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	c := &Client{
		client:   client,
		sessions: db.Collection(collection),
		events:   db.Collection("analytics_events"),
	}

	if err := c.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, err
	}

	logger.Info("Mongo client initialized",
		zap.String("database", database),
		zap.String("collection", collection),
	)

	return c, nil
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	_, err := c.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("uniq_session_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("by_user_updated"),
		},
		{
			Keys:    bson.D{{Key: "model_id", Value: 1}},
			Options: options.Index().SetName("by_model"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	_, err = c.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "brand_id", Value: 1}, {Key: "event_type", Value: 1}},
		Options: options.Index().SetName("by_brand_type"),
	})
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *Client) CreateSession(ctx context.Context, s *models.Session) (bool, error) {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}

	res, err := c.sessions.UpdateOne(ctx,
		bson.M{"session_id": s.SessionID},
		bson.M{"$setOnInsert": bson.M{
			"session_id": s.SessionID,
			"brand_id":   s.BrandID,
			"user_id":    s.UserID,
			"mode":       s.Mode,
			"product_id": s.ProductID,
			"model_id":   s.ModelID,
			"messages":   bson.A{},
			"created_at": s.CreatedAt,
			"updated_at": s.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}

	return res.UpsertedCount == 1, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := c.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (c *Client) SetMode(ctx context.Context, sessionID string, mode models.Mode) error {
	return c.set(ctx, sessionID, bson.M{"mode": mode})
}

func (c *Client) SetModel(ctx context.Context, sessionID, productID, modelID string) error {
	return c.set(ctx, sessionID, bson.M{"product_id": productID, "model_id": modelID})
}

func (c *Client) set(ctx context.Context, sessionID string, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	res, err := c.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (c *Client) AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error {
	now := time.Now().UTC()
	docs := make(bson.A, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		docs = append(docs, m)
	}

	res, err := c.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{
			"$push": bson.M{"messages": bson.M{"$each": docs}},
			"$set":  bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrSessionNotFound
	}

	logger.Debug("Messages appended", zap.String("session_id", sessionID), zap.Int("count", len(msgs)))
	return nil
}

func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	opts := options.FindOne().SetProjection(historyProjection(limit))

	var s models.Session
	err := c.sessions.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return s.Messages, nil
}

func historyProjection(limit int) bson.M {
	if limit <= 0 {
		return bson.M{"messages": 1}
	}
	return bson.M{"messages": bson.M{"$slice": -limit}}
}

func (c *Client) ListSessions(ctx context.Context, f models.ListFilter) ([]models.SessionSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: listFilter(f)}},
		{{Key: "$sort", Value: bson.D{{Key: "updated_at", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.M{
			"session_id":    1,
			"user_id":       1,
			"mode":          1,
			"model_id":      1,
			"updated_at":    1,
			"message_count": bson.M{"$size": bson.M{"$ifNull": bson.A{"$messages", bson.A{}}}},
		}}},
	}

	cur, err := c.sessions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		SessionID    string      `bson:"session_id"`
		UserID       string      `bson:"user_id"`
		Mode         models.Mode `bson:"mode"`
		ModelID      string      `bson:"model_id"`
		UpdatedAt    time.Time   `bson:"updated_at"`
		MessageCount int         `bson:"message_count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	out := make([]models.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SessionSummary{
			SessionID:    r.SessionID,
			UserID:       r.UserID,
			Mode:         r.Mode,
			ModelID:      r.ModelID,
			MessageCount: r.MessageCount,
			UpdatedAt:    r.UpdatedAt,
		})
	}
	return out, nil
}

func listFilter(f models.ListFilter) bson.M {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.ModelID != "" {
		filter["model_id"] = f.ModelID
	}
	if f.Mode != "" {
		filter["mode"] = f.Mode
	}
	return filter
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := c.sessions.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrSessionNotFound
	}

	logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

func (c *Client) RecordEvent(ctx context.Context, ev *models.AnalyticsEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if _, err := c.events.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}
