// Package cache 缓存层类型定义
package cache

import (
	"time"
)

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// KeyProviderHealth provider 健康快照，完整键为 provider_health:{provider}:{instance}
	KeyProviderHealth = "provider_health:"

	// TTLContext 会话上下文默认 TTL
	TTLContext = 24 * time.Hour
	// TTLProviderHealth 健康快照 TTL（应大于检查间隔）
	TTLProviderHealth = 90 * time.Second
)
