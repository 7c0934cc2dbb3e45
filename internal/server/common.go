// Package server HTTP 接入层
//
// 本包把 Engine 暴露为 HTTP / WebSocket 接口，包括：
//   - 消息处理（同步、WebSocket 流式）
//   - 健康检查与统计
//   - 会话上下文管理
//   - 路由设置热更新
//
// 文件组织：
//   - common.go: Handler 定义和通用工具函数
//   - handler.go: 路由表和中间件
//   - messages.go: 消息、健康、统计接口
//   - providers.go: 跨实例 provider 健康快照
//   - contexts.go: 上下文管理和路由设置接口
//   - websocket.go: 流式消息网关
//   - metrics.go: HTTP 层 Prometheus 指标
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"chat-router/internal/router/conversation"
	"chat-router/internal/router/engine"
	"chat-router/internal/shared/cache"
	"chat-router/internal/shared/model"
	"chat-router/pkg/logging"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// ContextAdmin 上下文管理操作（conversation.Manager 实现）
type ContextAdmin interface {
	Clear(ctx context.Context, key string) error
	ListActive(ctx context.Context, tenantID string) ([]*model.ConversationContext, error)
	SweepExpired(ctx context.Context) (int64, error)
	Stats() conversation.Stats
}

// SettingsPublisher 路由设置的共享存储（etcd.Store 实现）
//
// 发布后由各实例的 watch 应用；本实例同时立即应用。
type SettingsPublisher interface {
	PutRoutingSettings(ctx context.Context, settings *model.RoutingSettings) error
}

// Deps Handler 依赖
type Deps struct {
	Engine   *engine.Engine
	Contexts ContextAdmin
	// Settings 可选，nil 时路由设置只在本实例生效
	Settings SettingsPublisher
	// ProviderHealth 可选，各实例发布的 provider 健康快照
	ProviderHealth cache.ProviderHealthCache
	// Registerer / Gatherer 为 nil 时使用 Prometheus 默认注册表
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// Handler API 处理器
type Handler struct {
	engine   *engine.Engine
	contexts ContextAdmin
	settings SettingsPublisher
	health   cache.ProviderHealthCache
	gateway  *StreamGateway
	metrics  *Metrics
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewHandler 创建 Handler
func NewHandler(deps Deps) *Handler {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	logger := deps.Logger.Named("http")
	metrics := NewMetrics(deps.Registerer)
	return &Handler{
		engine:   deps.Engine,
		contexts: deps.Contexts,
		settings: deps.Settings,
		health:   deps.ProviderHealth,
		gateway:  NewStreamGateway(deps.Engine, metrics, logger),
		metrics:  metrics,
		gatherer: deps.Gatherer,
		logger:   logger,
	}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON 解析 JSON 请求体
func decodeJSON(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
