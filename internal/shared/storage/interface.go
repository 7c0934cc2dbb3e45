// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（PostgreSQL/SQLite）、mongostore/
//   - 初始化时通过依赖注入传入实现
//
// 持久层是会话上下文枚举和过期清理的权威来源；缓存层见 cache/。
package storage

import (
	"context"
	"time"

	"chat-router/internal/shared/model"
)

// ============================================================================
// 会话上下文存储
// ============================================================================

// ContextStore 会话上下文持久化接口
//
// GetContext 不存在时返回 (nil, nil)。
// SaveContext 以 context_key 为主键 upsert。
// DeleteContext 不存在时不报错。
type ContextStore interface {
	GetContext(ctx context.Context, key string) (*model.ConversationContext, error)
	SaveContext(ctx context.Context, c *model.ConversationContext) error
	DeleteContext(ctx context.Context, key string) error

	// ListActiveContexts 列出租户下 status=active 且未过期的上下文，按最后活动时间倒序
	ListActiveContexts(ctx context.Context, tenantID string, now time.Time) ([]*model.ConversationContext, error)
	// ListExpiredContexts 列出 expires_at <= before 的上下文（limit <= 0 表示不限制）
	ListExpiredContexts(ctx context.Context, before time.Time, limit int) ([]*model.ConversationContext, error)
	// DeleteExpiredContexts 删除 expires_at <= before 的上下文，返回删除数量
	DeleteExpiredContexts(ctx context.Context, before time.Time) (int64, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	ContextStore
	Ping(ctx context.Context) error
	Close() error
}
