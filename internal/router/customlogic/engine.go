// Package customlogic 租户自定义规则
//
// 在选择 provider 之前执行。规则命中时直接生成回复，Engine 跳过 provider 选择和调用。
package customlogic

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"chat-router/internal/config"
	"chat-router/internal/shared/model"
)

// Engine 自定义规则接口
//
// 未命中任何规则时返回 (nil, nil)。
type Engine interface {
	TryHandle(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext, intent *model.IntentAnalysisResult) (*model.MiddlewareResponse, error)
}

// Nop 从不短路
type Nop struct{}

func (Nop) TryHandle(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext, intent *model.IntentAnalysisResult) (*model.MiddlewareResponse, error) {
	return nil, nil
}

// ============================================================================
// RuleEngine
// ============================================================================

// rule 编译后的规则
type rule struct {
	name         string
	tenantID     string
	intents      map[string]bool
	keywords     []string
	tmpl         *template.Template
	quickReplies []string
	escalate     bool
	priority     int
}

// RuleEngine 基于 YAML 配置的规则引擎
//
// 规则按 priority 从高到低匹配，同优先级保持配置顺序，第一条命中的规则生效。
// 一条规则命中的条件：租户匹配（tenant_id 为空表示所有租户），
// 且意图在 intents 中或消息包含任一关键词。
type RuleEngine struct {
	rules []*rule
}

// NewRuleEngine 编译规则
func NewRuleEngine(rules []config.RuleConfig) (*RuleEngine, error) {
	compiled := make([]*rule, 0, len(rules))
	for i, rc := range rules {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		if len(rc.Intents) == 0 && len(rc.Keywords) == 0 {
			return nil, fmt.Errorf("custom rule %s: intents or keywords required", name)
		}
		if rc.Response == "" {
			return nil, fmt.Errorf("custom rule %s: response required", name)
		}
		tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=zero").Parse(rc.Response)
		if err != nil {
			return nil, fmt.Errorf("custom rule %s: parse response template: %w", name, err)
		}

		r := &rule{
			name:         name,
			tenantID:     rc.TenantID,
			intents:      make(map[string]bool, len(rc.Intents)),
			tmpl:         tmpl,
			quickReplies: rc.QuickReplies,
			escalate:     rc.Escalate,
			priority:     rc.Priority,
		}
		for _, in := range rc.Intents {
			r.intents[in] = true
		}
		for _, kw := range rc.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				r.keywords = append(r.keywords, kw)
			}
		}
		compiled = append(compiled, r)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].priority > compiled[j].priority
	})
	return &RuleEngine{rules: compiled}, nil
}

// Len 规则数量
func (e *RuleEngine) Len() int {
	return len(e.rules)
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
}

// templateData 模板可访问的数据
type templateData struct {
	Request   *model.MiddlewareRequest
	Context   *model.ConversationContext
	Intent    string
	Variables map[string]interface{}
}

func (e *RuleEngine) TryHandle(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext, intent *model.IntentAnalysisResult) (*model.MiddlewareResponse, error) {
	r := e.match(req, intent)
	if r == nil {
		return nil, nil
	}

	data := templateData{Request: req, Context: c}
	if intent != nil {
		data.Intent = intent.PrimaryIntent
	}
	if c != nil {
		data.Variables = c.Variables
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("custom rule %s: render response: %w", r.name, err)
	}

	status := model.ResponseStatusCustomLogic
	if r.escalate {
		status = model.ResponseStatusEscalated
	}
	resp := &model.MiddlewareResponse{
		RequestID:      req.RequestID,
		ResponseText:   buf.String(),
		ProviderUsed:   model.ProviderCustomLogic,
		Status:         status,
		IntentAnalysis: intent,
		ProcessingMetrics: &model.ProcessingMetrics{
			Provider:        model.ProviderCustomLogic,
			SelectionReason: "custom_rule:" + r.name,
			Confidence:      1,
			NeedsEscalation: r.escalate,
		},
		Timestamp:          time.Now(),
		ShouldSendResponse: true,
	}
	if len(r.quickReplies) > 0 {
		resp.QuickReplies = append([]string(nil), r.quickReplies...)
	}
	return resp, nil
}

func (e *RuleEngine) match(req *model.MiddlewareRequest, intent *model.IntentAnalysisResult) *rule {
	text := strings.ToLower(req.Message)
	for _, r := range e.rules {
		if r.tenantID != "" && r.tenantID != req.TenantID {
			continue
		}
		if intent != nil && r.intents[intent.PrimaryIntent] {
			return r
		}
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r
			}
		}
	}
	return nil
}

var (
	_ Engine = Nop{}
	_ Engine = (*RuleEngine)(nil)
)
