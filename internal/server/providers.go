package server

import (
	"log/slog"
	"net/http"

	"chat-router/internal/shared/model"
)

// ProviderHealth 各实例发布的 provider 健康快照
//
// 路由: GET /api/v1/providers/health
//
// 返回 provider -> instance_id -> 健康快照；未配置共享缓存时返回 503。
func (h *Handler) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeError(w, http.StatusServiceUnavailable, "provider health cache not configured")
		return
	}

	out := make(map[model.ProviderType]map[string]*model.ProviderHealth, len(model.KnownProviders))
	for _, p := range model.KnownProviders {
		snapshots, err := h.health.ListProviderHealth(r.Context(), p)
		if err != nil {
			h.logger.WithError(err).Error("List provider health failed", slog.String("provider", string(p)))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out[p] = snapshots
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}
