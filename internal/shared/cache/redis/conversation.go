// Package redis ConversationContext 缓存操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-router/internal/shared/cache"
	"chat-router/internal/shared/model"
)

// GetContext 获取会话上下文，未命中返回 (nil, nil)
func (s *Store) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c model.ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode context %s: %w", key, err)
	}
	c.Normalize()
	return &c, nil
}

// SetContext 写入会话上下文（SET key value EX ttl）
func (s *Store) SetContext(ctx context.Context, c *model.ConversationContext, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.TTLContext
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode context %s: %w", c.ContextKey, err)
	}
	return s.client.Set(ctx, c.ContextKey, data, ttl).Err()
}

// DeleteContext 删除会话上下文（键不存在不报错）
func (s *Store) DeleteContext(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// ExistsContext 会话上下文是否存在
func (s *Store) ExistsContext(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpireContext 延长会话上下文 TTL，键不存在时返回 false
func (s *Store) ExpireContext(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.Expire(ctx, key, ttl).Result()
}
