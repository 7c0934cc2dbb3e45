// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// AnalyticsEvent 单条消息处理完成后的分析事件
type AnalyticsEvent struct {
	ID               string    `json:"id,omitempty"`
	RequestID        string    `json:"request_id"`
	TenantID         string    `json:"tenant_id"`
	UserID           string    `json:"user_id"`
	Platform         string    `json:"platform"`
	ContextID        string    `json:"context_id,omitempty"`
	Intent           string    `json:"intent,omitempty"`
	Confidence       float64   `json:"confidence"`
	Provider         string    `json:"provider"`
	Status           string    `json:"status"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// ============================================================================
// Key 和常量
// ============================================================================

const (
	// DefaultAnalyticsStream 默认 Stream 名称
	DefaultAnalyticsStream = "router:analytics"

	// DefaultMaxStreamLength Stream 近似最大长度
	DefaultMaxStreamLength = 100000
)
