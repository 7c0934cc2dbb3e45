package engine

import (
	"context"
	"time"

	"chat-router/internal/router/errhandler"
	"chat-router/internal/shared/model"
)

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentHealth 子组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthReport 聚合健康检查结果
type HealthReport struct {
	Status     string                                      `json:"status"`
	Timestamp  time.Time                                   `json:"timestamp"`
	Components map[string]ComponentHealth                  `json:"components"`
	Providers  map[model.ProviderType]model.ProviderHealth `json:"providers"`
	Breakers   []errhandler.BreakerSnapshot                `json:"circuit_breakers"`
	Strategy   string                                      `json:"strategy"`
}

// HealthCheck 各子组件的健康快照
//
// 两层存储都不可用为 unhealthy；任一存储层不可用、没有可用 provider
// 或有熔断器处于 OPEN 为 degraded。
func (e *Engine) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     StatusHealthy,
		Timestamp:  e.now(),
		Components: make(map[string]ComponentHealth),
		Providers:  e.selector.HealthSnapshot(),
		Breakers:   e.errors.Breakers(),
		Strategy:   string(e.selector.Strategy()),
	}

	volatileErr, durableErr := e.contexts.Ping(ctx)
	report.Components["volatile_store"] = componentFromErr(volatileErr)
	report.Components["durable_store"] = componentFromErr(durableErr)

	usable := 0
	for _, p := range e.providers.Types() {
		if e.selector.IsUsable(p) {
			usable++
		}
	}
	providers := ComponentHealth{Status: StatusHealthy}
	if usable == 0 {
		providers = ComponentHealth{Status: StatusDegraded, Message: "no usable provider"}
	}
	report.Components["providers"] = providers

	breakers := ComponentHealth{Status: StatusHealthy}
	for _, b := range report.Breakers {
		if b.State == errhandler.StateOpen {
			breakers = ComponentHealth{Status: StatusDegraded, Message: "circuit open: " + b.Name}
			break
		}
	}
	report.Components["circuit_breakers"] = breakers

	switch {
	case volatileErr != nil && durableErr != nil:
		report.Status = StatusUnhealthy
	default:
		for _, c := range report.Components {
			if c.Status != StatusHealthy {
				report.Status = StatusDegraded
				break
			}
		}
	}
	return report
}

func componentFromErr(err error) ComponentHealth {
	if err != nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
	}
	return ComponentHealth{Status: StatusHealthy}
}
