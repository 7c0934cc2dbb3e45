// Package selector provider 选择策略和策略链
package selector

import (
	"fmt"
	"strings"

	"chat-router/internal/shared/model"
)

// StrategyName 选择策略名称
type StrategyName string

const (
	StrategyIntentBased     StrategyName = "intent_based"
	StrategyComplexityBased StrategyName = "complexity_based"
	StrategyContextBased    StrategyName = "context_based"
	StrategyHealthBased     StrategyName = "health_based"
	StrategyHybrid          StrategyName = "hybrid"
)

// DefaultStrategy 默认策略
const DefaultStrategy = StrategyHybrid

// continuityWindow 当前会话消息数小于该值时保持上一个 provider
const continuityWindow = 5

// lowConfidence 高复杂度且意图置信度低于该值时回到默认 provider
const lowConfidence = 0.7

// Input 策略输入
//
// 策略是纯函数，所有外部状态（健康快照、随机数）都通过 Input 传入。
type Input struct {
	Intent  *model.IntentAnalysisResult
	Context *model.ConversationContext
	// Usable 当前可用的 provider
	Usable map[model.ProviderType]bool
	// Pick 返回 [0,n) 的随机数，health_based 使用
	Pick func(n int) int
}

func (in *Input) usable(p model.ProviderType) bool {
	return in.Usable[p]
}

func (in *Input) complexity() model.Complexity {
	if in.Intent == nil {
		return model.ComplexityLow
	}
	return in.Intent.Complexity
}

// Strategy 选择策略：返回选中的 provider 和原因
type Strategy func(in *Input) (model.ProviderType, string)

var strategies = map[StrategyName]Strategy{
	StrategyIntentBased:     IntentBased,
	StrategyComplexityBased: ComplexityBased,
	StrategyContextBased:    ContextBased,
	StrategyHealthBased:     HealthBased,
	StrategyHybrid:          Hybrid,
}

// ParseStrategy 解析策略名称（大小写不敏感）
func ParseStrategy(name string) (StrategyName, error) {
	n := StrategyName(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := strategies[n]; !ok {
		return "", fmt.Errorf("unknown selection strategy %q", name)
	}
	return n, nil
}

// Lookup 按名称获取策略
func Lookup(name StrategyName) (Strategy, bool) {
	s, ok := strategies[name]
	return s, ok
}

// ============================================================================
// 单一策略
// ============================================================================

// IntentBased 业务意图 → 规则引擎，客服意图 → 对话引擎，其余 → 规则引擎
func IntentBased(in *Input) (model.ProviderType, string) {
	switch {
	case in.Intent.IsBusinessIntent():
		return model.ProviderRuleBased, "intent_based:business_intent"
	case in.Intent.IsSupportIntent():
		return model.ProviderDialogue, "intent_based:support_intent"
	default:
		return model.ProviderRuleBased, "intent_based:default"
	}
}

// ComplexityBased high → 规则引擎，medium → 对话引擎，其余 → 规则引擎
func ComplexityBased(in *Input) (model.ProviderType, string) {
	switch in.complexity() {
	case model.ComplexityHigh:
		return model.ProviderRuleBased, "complexity_based:high"
	case model.ComplexityMedium:
		return model.ProviderDialogue, "complexity_based:medium"
	default:
		return model.ProviderRuleBased, "complexity_based:low"
	}
}

// ContextBased 会话连续性 → 上次成功的 provider → 默认
func ContextBased(in *Input) (model.ProviderType, string) {
	if p, ok := continuity(in); ok {
		return p, "context_based:continuity"
	}
	if c := in.Context; c != nil && c.LastSuccessfulProvider != "" {
		return c.LastSuccessfulProvider, "context_based:last_successful"
	}
	return model.ProviderRuleBased, "context_based:default"
}

// HealthBased 在可用 provider 中随机选择，都不可用时返回默认 provider
func HealthBased(in *Input) (model.ProviderType, string) {
	var healthy []model.ProviderType
	for _, p := range model.KnownProviders {
		if in.usable(p) {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return model.ProviderRuleBased, "health_based:none_healthy"
	}
	idx := 0
	if in.Pick != nil && len(healthy) > 1 {
		idx = in.Pick(len(healthy))
	}
	return healthy[idx], "health_based:random_healthy"
}

// continuity 会话早期沿用上一个 provider，FALLBACK/CUSTOM_LOGIC 不参与
func continuity(in *Input) (model.ProviderType, bool) {
	c := in.Context
	if c == nil || c.PreviousProvider == "" || c.PreviousProvider.IsSynthetic() ||
		c.MessageCountInCurrentSession >= continuityWindow {
		return "", false
	}
	return c.PreviousProvider, true
}

// ============================================================================
// Hybrid 规则链
// ============================================================================

// Rule 规则链中的一条规则，不匹配时返回 ok=false
type Rule struct {
	Name  string
	Match func(in *Input) (model.ProviderType, bool)
}

// RuleChain 按顺序尝试规则，第一条匹配的规则生效
type RuleChain struct {
	rules    []Rule
	fallback model.ProviderType
}

// NewRuleChain 创建规则链，所有规则都不匹配时返回 fallback
func NewRuleChain(fallback model.ProviderType, rules ...Rule) *RuleChain {
	return &RuleChain{rules: rules, fallback: fallback}
}

// Select 按规则链顺序选择
func (c *RuleChain) Select(in *Input) (model.ProviderType, string) {
	for _, r := range c.rules {
		if p, ok := r.Match(in); ok {
			return p, r.Name
		}
	}
	return c.fallback, "default"
}

// Rules 规则名称列表（按优先级）
func (c *RuleChain) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// hybridChain 业务意图 → 高复杂度低置信 → 客服意图 → 会话连续性 → 健康优先 → 默认
var hybridChain = NewRuleChain(model.ProviderRuleBased,
	Rule{Name: "business_intent", Match: func(in *Input) (model.ProviderType, bool) {
		return model.ProviderRuleBased, in.Intent.IsBusinessIntent()
	}},
	Rule{Name: "complex_low_confidence", Match: func(in *Input) (model.ProviderType, bool) {
		ok := in.Intent != nil && in.Intent.Complexity == model.ComplexityHigh && in.Intent.Confidence < lowConfidence
		return model.ProviderRuleBased, ok
	}},
	Rule{Name: "support_intent", Match: func(in *Input) (model.ProviderType, bool) {
		return model.ProviderDialogue, in.Intent.IsSupportIntent()
	}},
	Rule{Name: "context_continuity", Match: continuity},
	Rule{Name: "health_preference", Match: func(in *Input) (model.ProviderType, bool) {
		for _, p := range model.KnownProviders {
			if in.usable(p) {
				return p, true
			}
		}
		return "", false
	}},
)

// Hybrid 默认策略
func Hybrid(in *Input) (model.ProviderType, string) {
	p, reason := hybridChain.Select(in)
	return p, "hybrid:" + reason
}
