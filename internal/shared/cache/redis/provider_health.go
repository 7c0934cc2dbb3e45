// Package redis ProviderHealth 缓存操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chat-router/internal/shared/cache"
	"chat-router/internal/shared/model"
)

func providerHealthPrefix(provider model.ProviderType) string {
	return fmt.Sprintf("%s%s:", cache.KeyProviderHealth, provider)
}

// PublishProviderHealth 写入本实例观测到的 provider 健康快照
func (s *Store) PublishProviderHealth(ctx context.Context, instanceID string, provider model.ProviderType, health *model.ProviderHealth) error {
	data, err := json.Marshal(health)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, providerHealthPrefix(provider)+instanceID, data, cache.TTLProviderHealth).Err()
}

// ListProviderHealth 列出各实例对某 provider 的健康快照
//
// 使用 SCAN 替代 KEYS，避免在实例数量大时阻塞 Redis
func (s *Store) ListProviderHealth(ctx context.Context, provider model.ProviderType) (map[string]*model.ProviderHealth, error) {
	prefix := providerHealthPrefix(provider)
	out := make(map[string]*model.ProviderHealth)

	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // 扫描与读取之间过期
		}
		if err != nil {
			return nil, err
		}
		var h model.ProviderHealth
		if err := json.Unmarshal(data, &h); err != nil {
			continue
		}
		out[key[len(prefix):]] = &h
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
