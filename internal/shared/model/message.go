package model

import (
	"strings"
	"time"
)

// ============================================================================
// MiddlewareRequest - 入站消息
// ============================================================================

// MiddlewareRequest 渠道适配层（Facebook/Web/API）归一化后的入站消息
type MiddlewareRequest struct {
	RequestID    string `json:"request_id"`
	TenantID     string `json:"tenant_id"`
	UserID       string `json:"user_id"`
	Platform     string `json:"platform"`
	ConnectionID string `json:"connection_id,omitempty"`
	BotID        string `json:"bot_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message"`
	Language     string `json:"language,omitempty"`
}

// Validate 校验请求形状
//
// 不合法的请求在加载上下文之前直接拒绝，不会触达 provider。
func (r *MiddlewareRequest) Validate() error {
	if r == nil {
		return &ValidationError{Field: "request", Message: "request is required"}
	}
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if strings.TrimSpace(r.Platform) == "" {
		return &ValidationError{Field: "platform", Message: "platform is required"}
	}
	return nil
}

// ContextKey 请求对应的上下文键
func (r *MiddlewareRequest) ContextKey() string {
	return ContextKey(r.TenantID, r.UserID, r.Platform)
}

// ============================================================================
// MiddlewareResponse - 出站响应
// ============================================================================

// ResponseStatus 响应状态
type ResponseStatus string

const (
	ResponseStatusSuccess     ResponseStatus = "success"
	ResponseStatusCustomLogic ResponseStatus = "custom_logic"
	ResponseStatusFallback    ResponseStatus = "fallback"
	ResponseStatusError       ResponseStatus = "error"
	ResponseStatusEscalated   ResponseStatus = "escalated"
)

// ProcessingMetrics 单次处理的路由信息
type ProcessingMetrics struct {
	Provider         ProviderType `json:"provider,omitempty"`
	SelectionReason  string       `json:"selection_reason,omitempty"`
	Confidence       float64      `json:"confidence"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	NeedsEscalation  bool         `json:"needs_escalation,omitempty"`
	ErrorKind        string       `json:"error_kind,omitempty"`
}

// MiddlewareResponse 渠道适配层用于渲染回复的响应
type MiddlewareResponse struct {
	RequestID          string                `json:"request_id"`
	ResponseText       string                `json:"response_text"`
	ProviderUsed       ProviderType          `json:"provider_used"`
	Status             ResponseStatus        `json:"status"`
	ErrorMessage       string                `json:"error_message,omitempty"`
	IntentAnalysis     *IntentAnalysisResult `json:"intent_analysis,omitempty"`
	ProcessingMetrics  *ProcessingMetrics    `json:"processing_metrics,omitempty"`
	QuickReplies       []string              `json:"quick_replies,omitempty"`
	Timestamp          time.Time             `json:"timestamp"`
	ShouldSendResponse bool                  `json:"should_send_response"`
}

// NeedsEscalation 响应是否要求升级人工
func (r *MiddlewareResponse) NeedsEscalation() bool {
	if r.Status == ResponseStatusEscalated {
		return true
	}
	return r.ProcessingMetrics != nil && r.ProcessingMetrics.NeedsEscalation
}

// IsError 响应是否表示处理失败（降级回复也算）
func (r *MiddlewareResponse) IsError() bool {
	return r.Status == ResponseStatusError || r.Status == ResponseStatusFallback
}

// ============================================================================
// IntentAnalysisResult - 意图分析结果
// ============================================================================

// Complexity 消息复杂度
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// 业务类意图
const (
	IntentOrderInquiry    = "order_inquiry"
	IntentProductInquiry  = "product_inquiry"
	IntentPriceInquiry    = "price_inquiry"
	IntentPaymentInquiry  = "payment_inquiry"
	IntentShippingInquiry = "shipping_inquiry"
)

// 客服类意图
const (
	IntentCustomerSupport  = "customer_support"
	IntentTechnicalSupport = "technical_support"
	IntentComplaint        = "complaint"
	IntentRefundRequest    = "refund_request"
)

// 其它常见意图
const (
	IntentGreeting = "greeting"
	IntentGoodbye  = "goodbye"
	IntentUnknown  = "unknown"
)

var businessIntents = map[string]bool{
	IntentOrderInquiry:    true,
	IntentProductInquiry:  true,
	IntentPriceInquiry:    true,
	IntentPaymentInquiry:  true,
	IntentShippingInquiry: true,
}

var supportIntents = map[string]bool{
	IntentCustomerSupport:  true,
	IntentTechnicalSupport: true,
	IntentComplaint:        true,
	IntentRefundRequest:    true,
}

// IntentAnalysisResult 意图分析结果
type IntentAnalysisResult struct {
	PrimaryIntent string            `json:"primary_intent"`
	Confidence    float64           `json:"confidence"`
	Complexity    Complexity        `json:"complexity"`
	Language      string            `json:"language,omitempty"`
	Entities      map[string]string `json:"entities,omitempty"`
}

// IsBusinessIntent 订单/商品/价格/支付/物流咨询
func (r *IntentAnalysisResult) IsBusinessIntent() bool {
	return r != nil && businessIntents[r.PrimaryIntent]
}

// IsSupportIntent 客服/技术支持/投诉/退款
func (r *IntentAnalysisResult) IsSupportIntent() bool {
	return r != nil && supportIntents[r.PrimaryIntent]
}
