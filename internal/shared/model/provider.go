package model

import "time"

// ProviderType 后端 NLU/对话引擎类型
type ProviderType string

const (
	// ProviderRuleBased 规则引擎（默认 provider，不确定时优先使用）
	ProviderRuleBased ProviderType = "RULE_BASED"
	// ProviderDialogue 统计对话引擎
	ProviderDialogue ProviderType = "DIALOGUE"
	// ProviderFallback 降级回复（非真实 provider）
	ProviderFallback ProviderType = "FALLBACK"
	// ProviderCustomLogic 租户自定义规则短路回复（非真实 provider）
	ProviderCustomLogic ProviderType = "CUSTOM_LOGIC"
)

// IsSynthetic FALLBACK/CUSTOM_LOGIC 等非真实 provider
func (p ProviderType) IsSynthetic() bool {
	return p == ProviderFallback || p == ProviderCustomLogic
}

// KnownProviders 所有真实 provider，按默认优先级排序
var KnownProviders = []ProviderType{ProviderRuleBased, ProviderDialogue}

// MaxConsecutiveFailures 连续失败达到该值即视为不可用
const MaxConsecutiveFailures = 3

// ProviderHealth provider 健康状态
type ProviderHealth struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastMessage         string    `json:"last_message,omitempty"`
	LastCheck           time.Time `json:"last_check"`
}

// Usable healthy 且连续失败次数小于阈值
func (h ProviderHealth) Usable() bool {
	return h.Healthy && h.ConsecutiveFailures < MaxConsecutiveFailures
}

// ProviderSelection provider 选择结果
type ProviderSelection struct {
	ProviderType      ProviderType   `json:"provider_type"`
	SelectionReason   string         `json:"selection_reason"`
	Confidence        float64        `json:"confidence"`
	FallbackProviders []ProviderType `json:"fallback_providers"`
}
