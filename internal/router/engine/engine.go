// Package engine 消息处理主流程
//
// 每条消息的处理顺序：
//
//	校验 → 加载上下文 → 意图分析 → 自定义规则短路 → 选择 provider → 调用
//	  → (失败) 错误处理 → 更新上下文 → 发送分析事件 → 返回响应
//
// 任何路径都返回 MiddlewareResponse，Engine 不向调用方抛出错误或 panic。
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"chat-router/internal/router/customlogic"
	"chat-router/internal/router/errhandler"
	"chat-router/internal/router/intent"
	"chat-router/internal/router/provider"
	"chat-router/internal/router/selector"
	"chat-router/internal/shared/eventbus"
	"chat-router/internal/shared/model"
	"chat-router/pkg/logging"
)

// 默认超时
const (
	DefaultProviderTimeout  = 30 * time.Second
	DefaultUpdateTimeout    = 5 * time.Second
	DefaultAnalyticsTimeout = 2 * time.Second
)

// ContextStore Engine 使用的上下文存储（conversation.Manager 实现）
type ContextStore interface {
	Load(ctx context.Context, req *model.MiddlewareRequest) *model.ConversationContext
	Update(ctx context.Context, c *model.ConversationContext, req *model.MiddlewareRequest, resp *model.MiddlewareResponse) *model.ConversationContext
	Ping(ctx context.Context) (volatileErr, durableErr error)
}

// Config Engine 配置
type Config struct {
	// ProviderTimeout 单次 provider 调用超时
	ProviderTimeout time.Duration
	// UpdateTimeout 上下文写入超时（与调用方取消无关）
	UpdateTimeout time.Duration
	// AnalyticsTimeout 分析事件发送超时
	AnalyticsTimeout time.Duration
}

// Deps Engine 依赖
type Deps struct {
	Contexts  ContextStore
	Analyzer  intent.Analyzer
	Rules     customlogic.Engine
	Selector  *selector.Selector
	Errors    *errhandler.Handler
	Providers *provider.Registry
	Analytics eventbus.AnalyticsBus
	// Registerer Prometheus 注册表，nil 时使用私有注册表
	Registerer prometheus.Registerer
	Logger     *logging.Logger
}

// Engine 消息处理引擎
type Engine struct {
	config    Config
	contexts  ContextStore
	analyzer  intent.Analyzer
	rules     customlogic.Engine
	selector  *selector.Selector
	errors    *errhandler.Handler
	providers *provider.Registry
	analytics eventbus.AnalyticsBus

	metrics    *metrics
	collectors *collectors
	inflight   sync.WaitGroup
	now        func() time.Time
	logger     *logging.Logger
}

// New 创建 Engine
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Contexts == nil {
		return nil, errors.New("engine: context store is required")
	}
	if deps.Selector == nil || deps.Errors == nil || deps.Providers == nil {
		return nil, errors.New("engine: selector, error handler and provider registry are required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = intent.NewKeywordAnalyzer()
	}
	if deps.Rules == nil {
		deps.Rules = customlogic.Nop{}
	}
	if deps.Analytics == nil {
		deps.Analytics = eventbus.NewNoOpEventBus()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = DefaultUpdateTimeout
	}
	if cfg.AnalyticsTimeout <= 0 {
		cfg.AnalyticsTimeout = DefaultAnalyticsTimeout
	}

	e := &Engine{
		config:    cfg,
		contexts:  deps.Contexts,
		analyzer:  deps.Analyzer,
		rules:     deps.Rules,
		selector:  deps.Selector,
		errors:    deps.Errors,
		providers: deps.Providers,
		analytics: deps.Analytics,
		metrics:   newMetrics(),
		now:       time.Now,
		logger:    deps.Logger.Named("engine"),
	}

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c, err := newCollectors(reg, e)
	if err != nil {
		return nil, fmt.Errorf("engine: register metrics: %w", err)
	}
	e.collectors = c
	return e, nil
}

// Close 等待未完成的分析事件发送
func (e *Engine) Close() {
	e.inflight.Wait()
}

// ============================================================================
// Process
// ============================================================================

// Process 处理一条消息
func (e *Engine) Process(ctx context.Context, req *model.MiddlewareRequest) *model.MiddlewareResponse {
	return e.run(ctx, req, nil)
}

// progressFunc 流式处理的阶段回调
type progressFunc func(stage Stage, requestID string)

func (e *Engine) run(ctx context.Context, in *model.MiddlewareRequest, progress progressFunc) (resp *model.MiddlewareResponse) {
	start := e.now()
	req := prepareRequest(in)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Engine panicked",
				slog.String("request_id", req.RequestID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp = e.errors.HandleError(ctx, fmt.Errorf("engine panic: %v", r), req)
			e.finish(resp, start)
			e.record(resp, nil)
		}
	}()

	if err := req.Validate(); err != nil {
		resp = errhandler.ValidationResponse(req, err)
		e.finish(resp, start)
		e.record(resp, nil)
		return resp
	}

	ctx = logging.ContextWithRequest(ctx, req.RequestID, req.TenantID)
	if progress != nil {
		progress(StageProcessing, req.RequestID)
	}

	c := e.contexts.Load(ctx, req)
	ctx = logging.ContextWithContextID(ctx, c.ContextID)

	resp, ia := e.route(ctx, req, c, progress)
	e.finish(resp, start)

	// 调用方取消不影响上下文写入
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.UpdateTimeout)
	updated := e.contexts.Update(updateCtx, c, req, resp)
	cancel()

	e.emitAnalytics(ctx, req, resp, ia, updated)
	e.record(resp, ia)
	return resp
}

// prepareRequest 复制请求并补齐 request_id
func prepareRequest(in *model.MiddlewareRequest) *model.MiddlewareRequest {
	if in == nil {
		return &model.MiddlewareRequest{RequestID: uuid.NewString()}
	}
	req := *in
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return &req
}

// route 意图分析 → 自定义规则 → 选择 provider → 调用
//
// 这一段的 panic 转为错误处理结果，保证后续的上下文更新和分析事件照常执行。
func (e *Engine) route(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext, progress progressFunc) (resp *model.MiddlewareResponse, ia *model.IntentAnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithContext(ctx).Error("Routing panicked", slog.Any("panic", r))
			resp = e.errors.HandleError(ctx, fmt.Errorf("routing panic: %v", r), req)
			resp.IntentAnalysis = ia
		}
	}()

	if progress != nil {
		progress(StageAnalyzing, req.RequestID)
	}
	ia = e.analyze(ctx, req, c)

	custom, err := e.rules.TryHandle(ctx, req, c, ia)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Custom logic failed, continuing with providers")
	}
	if custom != nil {
		return custom, ia
	}

	sel := e.selector.Select(ctx, ia, c)
	resp = e.dispatch(ctx, req, c, sel)
	resp.IntentAnalysis = ia
	return resp, ia
}

func (e *Engine) analyze(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext) *model.IntentAnalysisResult {
	ia, err := e.analyzer.Analyze(ctx, req, c)
	if err != nil || ia == nil {
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Intent analysis failed")
		}
		return &model.IntentAnalysisResult{
			PrimaryIntent: model.IntentUnknown,
			Complexity:    intent.ComplexityOf(req.Message),
			Language:      req.Language,
		}
	}
	return ia
}

// dispatch 调用选中的 provider，失败时交给错误处理器
func (e *Engine) dispatch(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext, sel *model.ProviderSelection) *model.MiddlewareResponse {
	target := sel.ProviderType
	botID := req.BotID
	if botID == "" {
		botID = c.BotID
	}

	p, ok := e.providers.Get(target)
	var reply *provider.Reply
	var err error
	switch {
	case !ok:
		err = fmt.Errorf("%s: %w", target, errhandler.ErrProviderUnavailable)
	case !e.errors.Allow(target):
		err = fmt.Errorf("%s: %w", target, errhandler.ErrCircuitOpen)
	default:
		callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
		start := time.Now()
		reply, err = p.SendMessage(callCtx, botID, req.UserID, req.Message)
		cancel()
		e.logger.WithContext(ctx).ProviderCallLog(string(target), botID, time.Since(start), err)
	}

	if err != nil {
		failover := req
		if req.BotID != botID {
			cp := *req
			cp.BotID = botID
			failover = &cp
		}
		return e.errors.HandleProviderError(ctx, err, failover, target, sel.FallbackProviders)
	}
	e.errors.RecordSuccess(target)

	return &model.MiddlewareResponse{
		RequestID:    req.RequestID,
		ResponseText: reply.Text,
		ProviderUsed: target,
		Status:       model.ResponseStatusSuccess,
		QuickReplies: reply.QuickReplies,
		ProcessingMetrics: &model.ProcessingMetrics{
			Provider:        target,
			SelectionReason: sel.SelectionReason,
			Confidence:      sel.Confidence,
			NeedsEscalation: reply.Escalate,
		},
		Timestamp:          e.now(),
		ShouldSendResponse: true,
	}
}

// finish 补齐处理耗时和时间戳
func (e *Engine) finish(resp *model.MiddlewareResponse, start time.Time) {
	if resp.ProcessingMetrics == nil {
		resp.ProcessingMetrics = &model.ProcessingMetrics{Provider: resp.ProviderUsed}
	}
	resp.ProcessingMetrics.ProcessingTimeMs = e.now().Sub(start).Milliseconds()
	if resp.Timestamp.IsZero() {
		resp.Timestamp = e.now()
	}
}

// emitAnalytics 异步发送分析事件，不阻塞响应
func (e *Engine) emitAnalytics(ctx context.Context, req *model.MiddlewareRequest, resp *model.MiddlewareResponse, ia *model.IntentAnalysisResult, c *model.ConversationContext) {
	event := &eventbus.AnalyticsEvent{
		RequestID:        req.RequestID,
		TenantID:         req.TenantID,
		UserID:           req.UserID,
		Platform:         req.Platform,
		Provider:         string(resp.ProviderUsed),
		Status:           string(resp.Status),
		ProcessingTimeMs: resp.ProcessingMetrics.ProcessingTimeMs,
		Timestamp:        e.now(),
	}
	if c != nil {
		event.ContextID = c.ContextID
	}
	if ia != nil {
		event.Intent = ia.PrimaryIntent
		event.Confidence = ia.Confidence
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.AnalyticsTimeout)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer cancel()
		if err := e.analytics.PublishAnalytics(pubCtx, event); err != nil {
			e.logger.WithContext(pubCtx).WithError(err).Warn("Publish analytics failed")
		}
	}()
}

// ============================================================================
// 热更新
// ============================================================================

// ApplySettings 把路由设置分发到选择器和错误处理器
func (e *Engine) ApplySettings(s *model.RoutingSettings) error {
	if s == nil || s.IsEmpty() {
		return nil
	}
	if s.Strategy != "" {
		if err := e.selector.SetStrategy(s.Strategy); err != nil {
			return err
		}
	}
	if s.FallbackEnabled != nil {
		e.selector.SetFallbackEnabled(*s.FallbackEnabled)
		e.errors.SetFallbackEnabled(*s.FallbackEnabled)
	}
	if s.CircuitBreakerEnabled != nil {
		e.errors.SetBreakerEnabled(*s.CircuitBreakerEnabled)
	}
	e.logger.Info("Routing settings applied",
		slog.String("strategy", string(e.selector.Strategy())),
		slog.Bool("fallback_enabled", e.errors.FallbackEnabled()),
		slog.Bool("circuit_breaker_enabled", e.errors.BreakerEnabled()))
	return nil
}

// Settings 当前生效的路由设置
func (e *Engine) Settings() *model.RoutingSettings {
	fallback := e.errors.FallbackEnabled()
	breaker := e.errors.BreakerEnabled()
	return &model.RoutingSettings{
		Strategy:              string(e.selector.Strategy()),
		FallbackEnabled:       &fallback,
		CircuitBreakerEnabled: &breaker,
	}
}

// WatchSettings 持续应用 updates 中的设置，channel 关闭或 ctx 取消后返回
func (e *Engine) WatchSettings(ctx context.Context, updates <-chan *model.RoutingSettings) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if err := e.ApplySettings(s); err != nil {
				e.logger.WithError(err).Warn("Rejected routing settings")
			}
		}
	}
}
