package errhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"chat-router/internal/router/provider"
	"chat-router/internal/shared/model"
	"chat-router/pkg/logging"
)

// HealthRecorder provider 健康状态的写入方（由 Selector 实现）
type HealthRecorder interface {
	UpdateHealth(p model.ProviderType, healthy bool, message string)
}

// Config Handler 配置
type Config struct {
	BreakerEnabled   bool
	FallbackEnabled  bool
	FailureThreshold int
	Recovery         time.Duration
	// CallTimeout 备用 provider 单次调用超时，默认 30s
	CallTimeout time.Duration
}

const defaultCallTimeout = 30 * time.Second

// Handler 错误处理器
type Handler struct {
	breakers  *BreakerRegistry
	providers *provider.Registry
	health    HealthRecorder
	logger    *logging.Logger

	callTimeout time.Duration

	breakerEnabled  atomic.Bool
	fallbackEnabled atomic.Bool

	// synthesize 生成降级回复文本，测试中可替换
	synthesize func(req *model.MiddlewareRequest, kind ErrorKind) (string, error)
}

// NewHandler 创建错误处理器，health 可以为 nil
func NewHandler(cfg Config, providers *provider.Registry, health HealthRecorder, logger *logging.Logger) *Handler {
	if providers == nil {
		providers = provider.NewRegistry()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	h := &Handler{
		breakers:    NewBreakerRegistry(cfg.FailureThreshold, cfg.Recovery, nil),
		providers:   providers,
		health:      health,
		logger:      logger.Named("errhandler"),
		callTimeout: cfg.CallTimeout,
		synthesize:  synthesizeFallback,
	}
	h.breakerEnabled.Store(cfg.BreakerEnabled)
	h.fallbackEnabled.Store(cfg.FallbackEnabled)
	return h
}

// ============================================================================
// 热更新
// ============================================================================

func (h *Handler) SetBreakerEnabled(v bool)  { h.breakerEnabled.Store(v) }
func (h *Handler) SetFallbackEnabled(v bool) { h.fallbackEnabled.Store(v) }
func (h *Handler) BreakerEnabled() bool      { return h.breakerEnabled.Load() }
func (h *Handler) FallbackEnabled() bool     { return h.fallbackEnabled.Load() }

// Breakers 所有熔断器快照
func (h *Handler) Breakers() []BreakerSnapshot {
	return h.breakers.Snapshot()
}

// Breaker 返回资源 key 对应的熔断器
func (h *Handler) Breaker(key string) *CircuitBreaker {
	return h.breakers.Get(key)
}

// ============================================================================
// provider 调用前后
// ============================================================================

// Allow provider 的熔断器是否放行
func (h *Handler) Allow(p model.ProviderType) bool {
	if !h.BreakerEnabled() {
		return true
	}
	return !h.breakers.Get(string(p)).IsOpen()
}

// RecordSuccess provider 调用成功
func (h *Handler) RecordSuccess(p model.ProviderType) {
	if h.BreakerEnabled() {
		h.breakers.Get(string(p)).RecordSuccess()
	}
	if h.health != nil {
		h.health.UpdateHealth(p, true, "ok")
	}
}

func (h *Handler) recordProviderFailure(p model.ProviderType, err error) {
	// 熔断跳过的调用不再累计失败
	if errors.Is(err, ErrCircuitOpen) {
		return
	}
	if h.BreakerEnabled() {
		h.breakers.Get(string(p)).RecordFailure()
	}
	if h.health != nil {
		h.health.UpdateHealth(p, false, err.Error())
	}
}

func errorClassKey(kind ErrorKind) string {
	return "error:" + string(kind)
}

// ============================================================================
// 错误处理
// ============================================================================

// HandleError 通用错误处理
//
// 分类 → 记录错误类别熔断器 → 降级回复；降级关闭或生成失败时返回终态错误响应。
func (h *Handler) HandleError(ctx context.Context, err error, req *model.MiddlewareRequest) *model.MiddlewareResponse {
	kind := Classify(err)
	if h.BreakerEnabled() {
		h.breakers.Get(errorClassKey(kind)).RecordFailure()
	}
	h.logger.WithContext(ctx).WithError(err).Warn("Processing failed", slog.String("error_kind", string(kind)))

	if h.FallbackEnabled() {
		if resp, ok := h.fallback(req, kind, err, "fallback:"+string(kind), ""); ok {
			return resp
		}
	}
	return errorResponse(req, kind, err, "")
}

// HandleProviderError provider 调用失败
//
// 记录 provider 熔断器和健康状态；fallback 开启时依次尝试备用 provider，
// 全部失败后返回指明失败 provider 的降级回复。
func (h *Handler) HandleProviderError(ctx context.Context, err error, req *model.MiddlewareRequest, failed model.ProviderType, alternates []model.ProviderType) *model.MiddlewareResponse {
	kind := Classify(err)
	h.recordProviderFailure(failed, err)
	log := h.logger.WithContext(ctx).WithProvider(string(failed))
	log.WithError(err).Warn("Provider call failed", slog.String("error_kind", string(kind)))

	if !h.FallbackEnabled() {
		return errorResponse(req, kind, err, failed)
	}

	for _, alt := range alternates {
		if alt == failed {
			continue
		}
		if resp := h.tryAlternate(ctx, req, failed, alt); resp != nil {
			log.Info("Failed over to alternate provider", slog.String("alternate", string(alt)))
			return resp
		}
	}

	detail := fmt.Sprintf("provider %s failed: %s", failed, kind)
	if resp, ok := h.fallback(req, kind, err, "fallback_from_"+string(failed), detail); ok {
		return resp
	}
	return errorResponse(req, kind, err, failed)
}

func (h *Handler) tryAlternate(ctx context.Context, req *model.MiddlewareRequest, failed, alt model.ProviderType) *model.MiddlewareResponse {
	p, ok := h.providers.Get(alt)
	if !ok || !h.Allow(alt) {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	start := time.Now()
	reply, err := p.SendMessage(callCtx, req.BotID, req.UserID, req.Message)
	h.logger.WithContext(ctx).ProviderCallLog(string(alt), req.BotID, time.Since(start), err)
	if err != nil {
		h.recordProviderFailure(alt, err)
		return nil
	}
	h.RecordSuccess(alt)

	return &model.MiddlewareResponse{
		RequestID:    req.RequestID,
		ResponseText: reply.Text,
		ProviderUsed: alt,
		Status:       model.ResponseStatusSuccess,
		QuickReplies: reply.QuickReplies,
		ProcessingMetrics: &model.ProcessingMetrics{
			Provider:        alt,
			SelectionReason: "failover_from_" + string(failed),
			Confidence:      0.5,
			NeedsEscalation: reply.Escalate,
		},
		Timestamp:          time.Now(),
		ShouldSendResponse: true,
	}
}

// fallback 生成降级回复，生成失败或 panic 时返回 ok=false
func (h *Handler) fallback(req *model.MiddlewareRequest, kind ErrorKind, cause error, reason, detail string) (resp *model.MiddlewareResponse, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Fallback synthesis panicked", slog.Any("panic", r))
			resp, ok = nil, false
		}
	}()

	var text string
	if kind == KindDomain {
		text = UserMessage(cause)
	} else {
		var err error
		text, err = h.synthesize(req, kind)
		if err != nil || text == "" {
			h.logger.WithError(err).Warn("Fallback synthesis failed")
			return nil, false
		}
	}

	if detail == "" {
		detail = string(kind)
	}
	return &model.MiddlewareResponse{
		RequestID:    req.RequestID,
		ResponseText: text,
		ProviderUsed: model.ProviderFallback,
		Status:       model.ResponseStatusFallback,
		ErrorMessage: detail,
		ProcessingMetrics: &model.ProcessingMetrics{
			Provider:        model.ProviderFallback,
			SelectionReason: reason,
			ErrorKind:       string(kind),
		},
		Timestamp:          time.Now(),
		ShouldSendResponse: true,
	}, true
}

// errorResponse 终态错误响应
func errorResponse(req *model.MiddlewareRequest, kind ErrorKind, cause error, p model.ProviderType) *model.MiddlewareResponse {
	resp := &model.MiddlewareResponse{
		ResponseText: UserMessage(cause),
		ProviderUsed: p,
		Status:       model.ResponseStatusError,
		ErrorMessage: string(kind) + ": " + CanonicalMessage(kind),
		ProcessingMetrics: &model.ProcessingMetrics{
			Provider:  p,
			ErrorKind: string(kind),
		},
		Timestamp:          time.Now(),
		ShouldSendResponse: true,
	}
	if req != nil {
		resp.RequestID = req.RequestID
	}
	return resp
}

// ValidationResponse 请求校验失败的响应，不经过熔断器和降级
func ValidationResponse(req *model.MiddlewareRequest, err error) *model.MiddlewareResponse {
	return errorResponse(req, KindValidation, err, "")
}
