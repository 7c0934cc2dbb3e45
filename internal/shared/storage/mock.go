// Package storage 提供存储层抽象
//
// mock.go 提供用于测试的 NoOp 实现
package storage

import (
	"context"
	"time"

	"chat-router/internal/shared/model"
)

// ============================================================================
// NoOpStore - 空操作的 PersistentStore 实现（用于测试）
// ============================================================================

// NoOpStore 不做任何持久化，所有读取都视为不存在
type NoOpStore struct{}

// NewNoOpStore 创建 NoOpStore 实例
func NewNoOpStore() *NoOpStore {
	return &NoOpStore{}
}

func (s *NoOpStore) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	return nil, nil
}
func (s *NoOpStore) SaveContext(ctx context.Context, c *model.ConversationContext) error {
	return nil
}
func (s *NoOpStore) DeleteContext(ctx context.Context, key string) error {
	return nil
}
func (s *NoOpStore) ListActiveContexts(ctx context.Context, tenantID string, now time.Time) ([]*model.ConversationContext, error) {
	return []*model.ConversationContext{}, nil
}
func (s *NoOpStore) ListExpiredContexts(ctx context.Context, before time.Time, limit int) ([]*model.ConversationContext, error) {
	return []*model.ConversationContext{}, nil
}
func (s *NoOpStore) DeleteExpiredContexts(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (s *NoOpStore) Ping(ctx context.Context) error {
	return nil
}
func (s *NoOpStore) Close() error {
	return nil
}

// 确保 NoOpStore 实现了 PersistentStore 接口
var _ PersistentStore = (*NoOpStore)(nil)
