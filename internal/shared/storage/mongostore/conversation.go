package mongostore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-router/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// contextDocument 会话上下文包装文档
type contextDocument struct {
	Key          string     `bson:"_id"`
	ContextID    string     `bson:"context_id"`
	TenantID     string     `bson:"tenant_id"`
	UserID       string     `bson:"user_id"`
	Platform     string     `bson:"platform"`
	SessionID    string     `bson:"session_id,omitempty"`
	Status       string     `bson:"status"`
	MessageCount int        `bson:"message_count"`
	LastActivity time.Time  `bson:"last_activity"`
	ExpiresAt    *time.Time `bson:"expires_at,omitempty"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	Data         string     `bson:"data"`
}

func toDocument(c *model.ConversationContext) (*contextDocument, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("mongostore: encode context %s: %w", c.ContextKey, err)
	}
	return &contextDocument{
		Key:          c.ContextKey,
		ContextID:    c.ContextID,
		TenantID:     c.TenantID,
		UserID:       c.UserID,
		Platform:     c.Platform,
		SessionID:    c.SessionID,
		Status:       string(c.Status),
		MessageCount: c.MessageCount,
		LastActivity: c.LastActivity.UTC(),
		ExpiresAt:    c.ExpiresAt,
		UpdatedAt:    time.Now().UTC(),
		Data:         string(data),
	}, nil
}

func (d *contextDocument) decode() (*model.ConversationContext, error) {
	var c model.ConversationContext
	if err := json.Unmarshal([]byte(d.Data), &c); err != nil {
		return nil, fmt.Errorf("mongostore: decode context %s: %w", d.Key, err)
	}
	c.Normalize()
	c.DurableSynced = true
	return &c, nil
}

func decodeAll(docs []*contextDocument) ([]*model.ConversationContext, error) {
	out := make([]*model.ConversationContext, 0, len(docs))
	for _, d := range docs {
		c, err := d.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ============================================================================
// ContextStore
// ============================================================================

func (s *Store) SaveContext(ctx context.Context, c *model.ConversationContext) error {
	doc, err := toDocument(c)
	if err != nil {
		return err
	}
	return upsertByID(ctx, s.col(ColConversationContexts), doc.Key, doc)
}

func (s *Store) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	doc, err := findOne[contextDocument](ctx, s.col(ColConversationContexts), bson.D{{Key: "_id", Value: key}})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.decode()
}

func (s *Store) DeleteContext(ctx context.Context, key string) error {
	_, err := s.col(ColConversationContexts).DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return wrapError(err)
}

func (s *Store) ListActiveContexts(ctx context.Context, tenantID string, now time.Time) ([]*model.ConversationContext, error) {
	filter := bson.D{
		{Key: "tenant_id", Value: tenantID},
		{Key: "status", Value: string(model.ContextStatusActive)},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "expires_at", Value: nil}},
			bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now.UTC()}}}},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}})
	docs, err := findMany[contextDocument](ctx, s.col(ColConversationContexts), filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

func (s *Store) ListExpiredContexts(ctx context.Context, before time.Time, limit int) ([]*model.ConversationContext, error) {
	filter := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: before.UTC()}}}}
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	docs, err := findMany[contextDocument](ctx, s.col(ColConversationContexts), filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

func (s *Store) DeleteExpiredContexts(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: before.UTC()}}}}
	res, err := s.col(ColConversationContexts).DeleteMany(ctx, filter)
	if err != nil {
		return 0, wrapError(err)
	}
	return res.DeletedCount, nil
}
