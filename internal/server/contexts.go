package server

import (
	"net/http"

	"chat-router/internal/shared/model"
)

// ListContexts 列出租户的活跃上下文
//
// 路由: GET /api/v1/tenants/{tenant}/contexts
func (h *Handler) ListContexts(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	list, err := h.contexts.ListActive(r.Context(), tenant)
	if err != nil {
		h.logger.WithError(err).Error("List active contexts failed")
		writeError(w, http.StatusInternalServerError, "failed to list contexts")
		return
	}
	if list == nil {
		list = []*model.ConversationContext{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenant,
		"contexts":  list,
		"count":     len(list),
	})
}

// DeleteContext 清除上下文（两层存储），不存在也返回 204
//
// 路由: DELETE /api/v1/contexts/{key}
func (h *Handler) DeleteContext(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.contexts.Clear(r.Context(), key); err != nil {
		h.logger.WithContextKey(key).WithError(err).Error("Clear context failed")
		writeError(w, http.StatusInternalServerError, "failed to clear context")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SweepContexts 立即执行一次过期上下文清理
//
// 路由: POST /api/v1/contexts/sweep
func (h *Handler) SweepContexts(w http.ResponseWriter, r *http.Request) {
	n, err := h.contexts.SweepExpired(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Sweep expired contexts failed")
		writeError(w, http.StatusInternalServerError, "failed to sweep contexts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// GetRouting 当前生效的路由设置
//
// 路由: GET /api/v1/routing
func (h *Handler) GetRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Settings())
}

// PutRouting 更新路由设置
//
// 路由: PUT /api/v1/routing
//
// 先在本实例应用（非法策略返回 400），再发布到 etcd 供其它实例 watch。
// 发布失败返回 502，本实例的设置保持已应用。
func (h *Handler) PutRouting(w http.ResponseWriter, r *http.Request) {
	var s model.RoutingSettings
	if err := decodeJSON(r, &s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no routing settings given")
		return
	}
	if err := h.engine.ApplySettings(&s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.settings != nil {
		if err := h.settings.PutRoutingSettings(r.Context(), &s); err != nil {
			h.logger.WithError(err).Error("Publish routing settings failed")
			writeError(w, http.StatusBadGateway, "applied locally but failed to publish settings")
			return
		}
	}
	writeJSON(w, http.StatusOK, h.engine.Settings())
}
