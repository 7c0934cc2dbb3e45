// Package infra Redis 基础设施初始化
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-router/internal/shared/cache"
	cacheredis "chat-router/internal/shared/cache/redis"
	"chat-router/internal/shared/eventbus"
	eventbusredis "chat-router/internal/shared/eventbus/redis"
)

// RedisInfra Redis 基础设施
//
// Cache 和 Analytics 共用一个客户端连接池
type RedisInfra struct {
	// 组件（显式命名避免冲突）
	cacheStore     *cacheredis.Store
	analyticsStore *eventbusredis.Store

	// 底层连接
	client *redis.Client
}

// NewRedisInfra 从 URL 创建 Redis 基础设施
func NewRedisInfra(redisURL, stream string, maxLen int64) (*RedisInfra, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return NewRedisInfraFromClient(client, stream, maxLen), nil
}

// NewRedisInfraFromClient 从现有客户端创建 Redis 基础设施
func NewRedisInfraFromClient(client *redis.Client, stream string, maxLen int64) *RedisInfra {
	return &RedisInfra{
		client:         client,
		cacheStore:     cacheredis.NewStoreFromClient(client),
		analyticsStore: eventbusredis.NewStoreFromClient(client, stream, maxLen),
	}
}

// Cache 返回缓存组件接口
func (r *RedisInfra) Cache() cache.Cache {
	return r.cacheStore
}

// Analytics 返回分析事件总线接口
func (r *RedisInfra) Analytics() eventbus.AnalyticsBus {
	return r.analyticsStore
}

// Client 返回底层 Redis 客户端
func (r *RedisInfra) Client() *redis.Client {
	return r.client
}

// Close 关闭 Redis 连接
func (r *RedisInfra) Close() error {
	return r.client.Close()
}
