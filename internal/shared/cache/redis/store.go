// Package redis Redis 缓存实现
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"chat-router/internal/shared/cache"
)

// Store Redis 缓存存储
type Store struct {
	client *redis.Client
}

// NewStoreFromClient 从现有 Redis 客户端创建缓存实例
//
// 连接由 infra 层建立并完成 Ping 检查。
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping 连通性检查
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}

// 确保 Store 实现了 cache.Cache 接口
var _ cache.Cache = (*Store)(nil)
