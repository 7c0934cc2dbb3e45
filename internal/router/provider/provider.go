// Package provider 定义后端 NLU/对话引擎的适配接口和注册表
//
// Provider 是 router 对后端引擎的唯一视图：
//   - SendMessage 把用户消息转发给引擎并返回回复
//   - HealthCheck 供 HealthMonitor 周期检查
//
// 架构关系：
//
//	Selector 选出 ProviderType
//	       │
//	       ▼  Registry.Get()
//	  Provider.SendMessage()
//	       │
//	       ▼  失败时
//	  Error Handler（熔断 + 切换备用 provider + 降级回复）
package provider

import (
	"context"
	"sort"
	"sync"

	"chat-router/internal/shared/model"
)

// ============================================================================
// Provider 接口
// ============================================================================

// Reply provider 返回的回复
type Reply struct {
	Text         string   `json:"text"`
	QuickReplies []string `json:"quick_replies,omitempty"`
	// Intent/Confidence 为引擎自己识别的意图，可为空
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	// Escalate 引擎要求转人工
	Escalate bool `json:"escalate,omitempty"`
}

// Provider 后端引擎适配接口
//
// 实现注意事项：
//   - SendMessage 必须遵守 ctx 的截止时间
//   - HTTP 4xx/5xx 返回 *HTTPError，响应解析失败返回包装后的 JSON 错误
//   - HealthCheck 不返回错误，检查失败即为 false
type Provider interface {
	// Type 返回 provider 类型，用于 Registry 查找
	Type() model.ProviderType

	// SendMessage 发送消息并返回回复
	SendMessage(ctx context.Context, botID, userID, text string) (*Reply, error)

	// HealthCheck 健康检查
	HealthCheck(ctx context.Context, botID string) bool
}

// ============================================================================
// Registry
// ============================================================================

// Registry Provider 注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[model.ProviderType]Provider
}

// NewRegistry 创建注册表
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[model.ProviderType]Provider),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register 注册 Provider，同类型后注册的覆盖先注册的
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get 获取 Provider
func (r *Registry) Get(t model.ProviderType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	return p, ok
}

// Types 列出已注册的类型
//
// 已知类型按 model.KnownProviders 的优先级在前，其余按名称排序。
func (r *Registry) Types() []model.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ProviderType, 0, len(r.providers))
	seen := make(map[model.ProviderType]bool, len(r.providers))
	for _, t := range model.KnownProviders {
		if _, ok := r.providers[t]; ok {
			out = append(out, t)
			seen[t] = true
		}
	}
	var rest []model.ProviderType
	for t := range r.providers {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// Len 已注册数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
