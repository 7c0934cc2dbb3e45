// Package cache 缓存层抽象接口
//
// 会话上下文的易失层（volatile tier），当前由 Redis 实现。
// 缓存层不是枚举的权威来源，列表查询走持久层。
package cache

import (
	"context"
	"time"

	"chat-router/internal/shared/model"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// ConversationCache 会话上下文缓存接口
//
// GetContext 未命中时返回 (nil, nil)。
type ConversationCache interface {
	GetContext(ctx context.Context, key string) (*model.ConversationContext, error)
	SetContext(ctx context.Context, c *model.ConversationContext, ttl time.Duration) error
	DeleteContext(ctx context.Context, key string) error
	ExistsContext(ctx context.Context, key string) (bool, error)
	ExpireContext(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ProviderHealthCache provider 健康快照缓存接口
//
// 多实例部署时各实例的健康检查结果写入共享缓存，带 TTL，实例下线后自动过期。
type ProviderHealthCache interface {
	PublishProviderHealth(ctx context.Context, instanceID string, provider model.ProviderType, health *model.ProviderHealth) error
	ListProviderHealth(ctx context.Context, provider model.ProviderType) (map[string]*model.ProviderHealth, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	ConversationCache
	ProviderHealthCache
	Ping(ctx context.Context) error
	Close() error
}
