// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：会话上下文持久层（PostgreSQL / SQLite / MongoDB）
//   - Cache：会话上下文缓存层和 provider 健康快照（Redis）
//   - Analytics：分析事件总线（Redis Streams）
//   - Settings：路由配置热更新（etcd，可选）
//   - Archive：过期上下文归档（MinIO，可选）
package infra

import (
	"context"
	"fmt"
	"log"

	"chat-router/internal/config"
	"chat-router/internal/shared/cache"
	"chat-router/internal/shared/eventbus"
	objstore "chat-router/internal/shared/minio"
	"chat-router/internal/shared/storage"
	"chat-router/internal/shared/storage/etcd"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久层
	Storage storage.PersistentStore

	// Cache 缓存层，包含 provider 健康快照（ProviderHealthCache）
	Cache cache.Cache

	// Analytics 分析事件总线
	Analytics eventbus.AnalyticsBus

	// Settings 路由配置热更新，未配置 etcd 时为 nil
	Settings *etcd.Store

	// Archive 过期上下文归档，未配置 MinIO 时为 nil
	Archive *objstore.Client

	redis *RedisInfra
}

// New 按配置初始化全部基础设施
//
// Storage 和 Redis 是必需的，etcd 和 MinIO 连接失败只记录警告。
func New(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	store, err := NewPersistentStore(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DatabaseDBName)
	if err != nil {
		return nil, err
	}

	redisInfra, err := NewRedisInfra(cfg.RedisURL, cfg.Analytics.Stream, cfg.Analytics.MaxLen)
	if err != nil {
		store.Close()
		return nil, err
	}

	i := &Infrastructure{
		Storage:   store,
		Cache:     redisInfra.Cache(),
		Analytics: redisInfra.Analytics(),
		redis:     redisInfra,
	}
	if !cfg.Analytics.Enabled {
		i.Analytics = eventbus.NewNoOpEventBus()
	}

	if cfg.EtcdEnabled() {
		settings, err := etcd.NewStore(etcd.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: cfg.EtcdTimeout,
			Prefix:      cfg.EtcdPrefix,
		})
		if err != nil {
			log.Printf("WARNING: etcd unavailable, routing hot reload disabled: %v", err)
		} else {
			i.Settings = settings
		}
	}

	if cfg.ArchiveEnabled() {
		archive, err := objstore.NewClient(cfg.MinIO)
		if err == nil {
			err = archive.EnsureBucket(ctx)
		}
		if err != nil {
			log.Printf("WARNING: minio unavailable, context archive disabled: %v", err)
		} else {
			i.Archive = archive
		}
	}

	return i, nil
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	// Cache 和 Analytics 共用同一个 Redis 客户端
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			lastErr = err
		}
	} else {
		if i.Cache != nil {
			if err := i.Cache.Close(); err != nil {
				lastErr = err
			}
		}
		if i.Analytics != nil {
			if err := i.Analytics.Close(); err != nil {
				lastErr = err
			}
		}
	}

	if i.Settings != nil {
		if err := i.Settings.Close(); err != nil {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("close infrastructure: %w", lastErr)
	}
	return nil
}

// NewNoOpInfrastructure 创建空操作的基础设施（用于测试）
func NewNoOpInfrastructure() *Infrastructure {
	return &Infrastructure{
		Storage:   storage.NewNoOpStore(),
		Cache:     cache.NewNoOpCache(),
		Analytics: eventbus.NewNoOpEventBus(),
	}
}
