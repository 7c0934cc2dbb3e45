// Package etcd 路由配置热更新
//
// 路由策略、fallback 开关、熔断器开关以 JSON 存放在 {prefix}/routing，
// 所有 router 实例 Watch 同一个 key，一次写入全局生效。
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"chat-router/internal/shared/model"
)

// Store etcd 存储客户端
type Store struct {
	client *clientv3.Client
	prefix string
}

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewStore 创建 etcd 存储客户端
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/chat-router"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &Store{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Prefix 返回 key 前缀
func (s *Store) Prefix() string {
	return s.prefix
}

// RoutingKey 路由配置所在的 key
func (s *Store) RoutingKey() string {
	return routingKey(s.prefix)
}

func routingKey(prefix string) string {
	return prefix + "/routing"
}

// GetRoutingSettings 读取路由配置，不存在时返回 (nil, nil)
func (s *Store) GetRoutingSettings(ctx context.Context) (*model.RoutingSettings, error) {
	resp, err := s.client.Get(ctx, s.RoutingKey())
	if err != nil {
		return nil, fmt.Errorf("failed to get routing settings: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return decodeSettings(resp.Kvs[0].Value)
}

// PutRoutingSettings 写入路由配置
func (s *Store) PutRoutingSettings(ctx context.Context, settings *model.RoutingSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal routing settings: %w", err)
	}
	if _, err := s.client.Put(ctx, s.RoutingKey(), string(data)); err != nil {
		return fmt.Errorf("failed to put routing settings: %w", err)
	}
	log.Printf("[etcd] Updated routing settings: %s", string(data))
	return nil
}

// WatchRoutingSettings 监听路由配置变化
//
// 返回的 channel 在 ctx 取消或 watch 被关闭后关闭。删除事件和无法解析的值会被跳过。
func (s *Store) WatchRoutingSettings(ctx context.Context) <-chan *model.RoutingSettings {
	out := make(chan *model.RoutingSettings, 1)
	wch := s.client.Watch(ctx, s.RoutingKey())

	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				log.Printf("[etcd] Routing watch error: %v", err)
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				settings, err := decodeSettings(ev.Kv.Value)
				if err != nil {
					log.Printf("[etcd] Ignoring invalid routing settings at %s: %v", string(ev.Kv.Key), err)
					continue
				}
				select {
				case out <- settings:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func decodeSettings(data []byte) (*model.RoutingSettings, error) {
	var settings model.RoutingSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal routing settings: %w", err)
	}
	return &settings, nil
}
