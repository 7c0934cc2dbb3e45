// Package model 定义核心数据模型
//
// conversation.go 包含会话上下文相关的数据模型定义：
//   - ConversationContext：单个用户在单个平台上的会话状态
//   - ContextStatus：会话状态枚举
//
// 生命周期：
//   - 首条消息时由 Context Store 创建（缓存和持久层都未命中）
//   - 每处理一条消息由 Engine 通过 Context Store 的更新路径修改一次
//   - 正常流程中不会被硬删除，只会被显式清理或随 TTL 过期
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ContextStatus - 会话状态枚举
// ============================================================================

// ContextStatus 会话状态
type ContextStatus string

const (
	ContextStatusActive    ContextStatus = "active"
	ContextStatusEscalated ContextStatus = "escalated"
	ContextStatusError     ContextStatus = "error"
	// ContextStatusMinimal 两层存储都不可用时的降级上下文
	ContextStatusMinimal ContextStatus = "minimal"
)

// 历史记录容量
const (
	MaxIntentHistory   = 50
	MaxProviderHistory = 20
)

// Metadata 中每轮写入的键
const (
	MetaLastMessage        = "lastMessage"
	MetaLastResponse       = "lastResponse"
	MetaLastProcessingTime = "lastProcessingTime"
)

// ============================================================================
// ConversationContext - 会话上下文
// ============================================================================

// ConversationContext 会话上下文
//
// 以 (tenant_id, user_id, platform) 为自然键，ContextKey 由该三元组确定性生成，
// ContextID 是分配后不可变的唯一 ID。
type ConversationContext struct {
	// === 标识 ===
	ContextID    string `json:"context_id"`
	ContextKey   string `json:"context_key"`
	TenantID     string `json:"tenant_id"`
	UserID       string `json:"user_id"`
	Platform     string `json:"platform"`
	ConnectionID string `json:"connection_id,omitempty"`
	BotID        string `json:"bot_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`

	// === 会话状态 ===
	Status                 ContextStatus `json:"status"`
	LastIntent             string        `json:"last_intent,omitempty"`
	LastProvider           ProviderType  `json:"last_provider,omitempty"`
	LastSuccessfulProvider ProviderType  `json:"last_successful_provider,omitempty"`
	PreviousProvider       ProviderType  `json:"previous_provider,omitempty"`
	Language               string        `json:"language,omitempty"`

	// === 计数与历史 ===
	MessageCount                 int            `json:"message_count"`
	MessageCountInCurrentSession int            `json:"message_count_in_current_session"`
	IntentHistory                BoundedHistory `json:"intent_history"`
	ProviderHistory              BoundedHistory `json:"provider_history"`

	// === 自由字段 ===
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Variables       map[string]interface{} `json:"variables,omitempty"`
	SessionData     map[string]interface{} `json:"session_data,omitempty"`
	UserPreferences map[string]interface{} `json:"user_preferences,omitempty"`
	Tags            []string               `json:"tags,omitempty"`

	// === 时间 ===
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	// === 升级与质量 ===
	EscalationLevel        int      `json:"escalation_level"`
	NeedsHumanIntervention bool     `json:"needs_human_intervention"`
	SatisfactionScore      *float64 `json:"satisfaction_score,omitempty"`
	ErrorCount             int      `json:"error_count"`
	TotalProcessingTime    int64    `json:"total_processing_time_ms"`

	// DurableSynced 最近一次持久层写入是否成功
	// 降级上下文或持久层写入失败的上下文为 false，下一次更新会立即补写
	DurableSynced bool `json:"durable_synced,omitempty"`
}

// ContextKey 根据 (tenant, user, platform) 生成确定性的上下文键
func ContextKey(tenantID, userID, platform string) string {
	return fmt.Sprintf("ctx:%s:%s:%s", tenantID, userID, platform)
}

// NewConversationContext 为首条消息创建新的会话上下文
func NewConversationContext(req *MiddlewareRequest, now time.Time) *ConversationContext {
	c := &ConversationContext{
		ContextID:       uuid.NewString(),
		ContextKey:      ContextKey(req.TenantID, req.UserID, req.Platform),
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		Platform:        req.Platform,
		ConnectionID:    req.ConnectionID,
		BotID:           req.BotID,
		SessionID:       req.SessionID,
		Status:          ContextStatusActive,
		Language:        req.Language,
		IntentHistory:   NewBoundedHistory(MaxIntentHistory),
		ProviderHistory: NewBoundedHistory(MaxProviderHistory),
		Metadata:        map[string]interface{}{},
		Variables:       map[string]interface{}{},
		SessionData:     map[string]interface{}{},
		UserPreferences: map[string]interface{}{},
		CreatedAt:       now,
		LastActivity:    now,
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// NewMinimalContext 两层存储都失败时返回的降级上下文
//
// 标识字段与请求一致，status=minimal，message_count=1，调用方可以继续降级处理。
func NewMinimalContext(req *MiddlewareRequest, now time.Time) *ConversationContext {
	c := NewConversationContext(req, now)
	c.Status = ContextStatusMinimal
	c.MessageCount = 1
	c.MessageCountInCurrentSession = 1
	return c
}

// Normalize 补齐反序列化后缺失的容量和 map
func (c *ConversationContext) Normalize() {
	c.IntentHistory.bind(MaxIntentHistory)
	c.ProviderHistory.bind(MaxProviderHistory)
	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
	if c.Variables == nil {
		c.Variables = map[string]interface{}{}
	}
	if c.SessionData == nil {
		c.SessionData = map[string]interface{}{}
	}
	if c.UserPreferences == nil {
		c.UserPreferences = map[string]interface{}{}
	}
}

// PushIntent 记录意图
func (c *ConversationContext) PushIntent(intent string) {
	c.IntentHistory.bind(MaxIntentHistory)
	c.IntentHistory.Push(intent)
	c.LastIntent = intent
}

// PushProvider 记录本轮使用的 provider
//
// 上一轮的 provider 移入 PreviousProvider，用于上下文连续性路由。
func (c *ConversationContext) PushProvider(p ProviderType) {
	c.ProviderHistory.bind(MaxProviderHistory)
	c.ProviderHistory.Push(string(p))
	if c.LastProvider != "" {
		c.PreviousProvider = c.LastProvider
	}
	c.LastProvider = p
}

// IsExpired 设置了 ExpiresAt 且当前时间已到达
func (c *ConversationContext) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// IsActive status 为 active 且未过期
func (c *ConversationContext) IsActive(now time.Time) bool {
	return c.Status == ContextStatusActive && !c.IsExpired(now)
}

// Age 自创建以来的时长
func (c *ConversationContext) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// IdleTime 自最后一次活动以来的时长
func (c *ConversationContext) IdleTime(now time.Time) time.Duration {
	return now.Sub(c.LastActivity)
}

// ResetSession 开始新会话
//
// 这是当前会话消息计数唯一允许归零的路径。
func (c *ConversationContext) ResetSession(sessionID string, now time.Time) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c.SessionID = sessionID
	c.MessageCountInCurrentSession = 0
	c.SessionData = map[string]interface{}{}
	c.Status = ContextStatusActive
	c.ExpiresAt = nil
	c.LastActivity = now
}

// AddTag 添加标签（集合语义）
func (c *ConversationContext) AddTag(tag string) {
	if !c.HasTag(tag) {
		c.Tags = append(c.Tags, tag)
	}
}

// HasTag 是否包含标签
func (c *ConversationContext) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RemoveTag 移除标签
func (c *ConversationContext) RemoveTag(tag string) {
	for i, t := range c.Tags {
		if t == tag {
			c.Tags = append(c.Tags[:i], c.Tags[i+1:]...)
			return
		}
	}
}

// Clone 深拷贝
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.IntentHistory = c.IntentHistory.clone()
	out.ProviderHistory = c.ProviderHistory.clone()
	out.Metadata = cloneMap(c.Metadata)
	out.Variables = cloneMap(c.Variables)
	out.SessionData = cloneMap(c.SessionData)
	out.UserPreferences = cloneMap(c.UserPreferences)
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.SatisfactionScore != nil {
		s := *c.SatisfactionScore
		out.SatisfactionScore = &s
	}
	return &out
}

// cloneMap 浅层复制 map（值为 JSON 标量或已序列化结构）
func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
