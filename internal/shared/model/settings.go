package model

// RoutingSettings 可热更新的路由配置
//
// 存放在 etcd 的 {prefix}/routing 下，变更后由 Engine 分发给 Selector 和 Error Handler。
// 零值字段表示不修改。
type RoutingSettings struct {
	Strategy              string `json:"strategy,omitempty"`
	FallbackEnabled       *bool  `json:"fallback_enabled,omitempty"`
	CircuitBreakerEnabled *bool  `json:"circuit_breaker_enabled,omitempty"`
}

// IsEmpty 没有任何需要应用的字段
func (s *RoutingSettings) IsEmpty() bool {
	return s == nil || (s.Strategy == "" && s.FallbackEnabled == nil && s.CircuitBreakerEnabled == nil)
}
