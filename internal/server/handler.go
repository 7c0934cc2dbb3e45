package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 消息处理:
//   - POST   /api/v1/messages                    - 同步处理一条消息
//   - GET    /api/v1/messages/stream             - WebSocket 流式处理
//
// 运行状态:
//   - GET    /api/v1/health                      - 聚合健康检查
//   - GET    /api/v1/stats                       - 引擎和上下文统计
//   - GET    /api/v1/providers/health            - 各实例的 provider 健康快照
//   - GET    /metrics                            - Prometheus 指标
//
// 上下文管理:
//   - GET    /api/v1/tenants/{tenant}/contexts   - 列出租户的活跃上下文
//   - DELETE /api/v1/contexts/{key}              - 清除上下文
//   - POST   /api/v1/contexts/sweep              - 清理过期上下文
//
// 路由设置:
//   - GET    /api/v1/routing                     - 当前生效的路由设置
//   - PUT    /api/v1/routing                     - 更新路由设置
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/messages", h.PostMessage)

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/providers/health", h.ProviderHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/tenants/{tenant}/contexts", h.ListContexts)
	mux.HandleFunc("DELETE /api/v1/contexts/{key}", h.DeleteContext)
	mux.HandleFunc("POST /api/v1/contexts/sweep", h.SweepContexts)

	mux.HandleFunc("GET /api/v1/routing", h.GetRouting)
	mux.HandleFunc("PUT /api/v1/routing", h.PutRouting)

	apiHandler := h.logMiddleware(h.metrics.MetricsMiddleware(mux))

	// WebSocket 绕过指标中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /api/v1/messages/stream", h.gateway.HandleWebSocket)
	topMux.Handle("/", corsMiddleware(apiHandler))
	return topMux
}

// logMiddleware 请求访问日志
func (h *Handler) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		h.logger.HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), r.RemoteAddr)
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
