// Package redis 基于 Redis Streams 的分析事件总线
package redis

import (
	"github.com/redis/go-redis/v9"

	"chat-router/internal/shared/eventbus"
)

// Store Redis 事件总线
type Store struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStoreFromClient 从现有 Redis 客户端创建事件总线
//
// stream 为空时使用 eventbus.DefaultAnalyticsStream，maxLen<=0 时使用 eventbus.DefaultMaxStreamLength。
func NewStoreFromClient(client *redis.Client, stream string, maxLen int64) *Store {
	if stream == "" {
		stream = eventbus.DefaultAnalyticsStream
	}
	if maxLen <= 0 {
		maxLen = eventbus.DefaultMaxStreamLength
	}
	return &Store{client: client, stream: stream, maxLen: maxLen}
}

// Stream 返回 Stream 名称
func (s *Store) Stream() string {
	return s.stream
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

var _ eventbus.AnalyticsBus = (*Store)(nil)
