// Package cache 缓存层 mock 实现
package cache

import (
	"context"
	"time"

	"chat-router/internal/shared/model"
)

// ============================================================================
// NoOpCache - 空操作的 Cache 实现（用于测试）
// ============================================================================

// NoOpCache 是一个不做任何操作的 Cache 实现，所有读取都视为未命中
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Close 关闭缓存
func (c *NoOpCache) Close() error {
	return nil
}

// Ping 连通性检查
func (c *NoOpCache) Ping(ctx context.Context) error {
	return nil
}

// ConversationCache 方法

func (c *NoOpCache) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	return nil, nil
}
func (c *NoOpCache) SetContext(ctx context.Context, conv *model.ConversationContext, ttl time.Duration) error {
	return nil
}
func (c *NoOpCache) DeleteContext(ctx context.Context, key string) error {
	return nil
}
func (c *NoOpCache) ExistsContext(ctx context.Context, key string) (bool, error) {
	return false, nil
}
func (c *NoOpCache) ExpireContext(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

// ProviderHealthCache 方法

func (c *NoOpCache) PublishProviderHealth(ctx context.Context, instanceID string, provider model.ProviderType, health *model.ProviderHealth) error {
	return nil
}
func (c *NoOpCache) ListProviderHealth(ctx context.Context, provider model.ProviderType) (map[string]*model.ProviderHealth, error) {
	return map[string]*model.ProviderHealth{}, nil
}

// 确保 NoOpCache 实现了 Cache 接口
var _ Cache = (*NoOpCache)(nil)
