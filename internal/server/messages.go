package server

import (
	"net/http"

	"chat-router/internal/router/engine"
	"chat-router/internal/router/errhandler"
	"chat-router/internal/shared/model"
)

// PostMessage 同步处理一条消息
//
// 路由: POST /api/v1/messages
//
// 请求体为 MiddlewareRequest。除请求校验失败返回 400 外，
// 降级和错误响应都以 200 返回，由 status 字段区分。
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req model.MiddlewareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.engine.Process(r.Context(), &req)
	status := http.StatusOK
	if resp.ProcessingMetrics != nil && resp.ProcessingMetrics.ErrorKind == string(errhandler.KindValidation) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// Health 聚合健康检查
//
// 路由: GET /api/v1/health
//
// healthy / degraded 返回 200，unhealthy 返回 503。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.engine.HealthCheck(r.Context())
	status := http.StatusOK
	if report.Status == engine.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Stats 引擎累计指标、上下文存储统计和当前路由设置
//
// 路由: GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":   h.engine.Metrics(),
		"contexts": h.contexts.Stats(),
		"routing":  h.engine.Settings(),
	})
}
