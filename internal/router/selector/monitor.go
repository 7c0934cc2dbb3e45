package selector

import (
	"context"
	"sync"
	"time"

	"chat-router/internal/router/provider"
	"chat-router/internal/shared/cache"
	"chat-router/pkg/logging"
)

// DefaultCheckInterval 默认检查间隔
const DefaultCheckInterval = 30 * time.Second

// MonitorConfig HealthMonitor 配置
type MonitorConfig struct {
	Interval time.Duration
	// BotID 检查时传给 provider 的 bot_id
	BotID string
	// InstanceID 本实例 ID，发布健康快照时使用
	InstanceID string
	// CheckTimeout 单次检查超时，默认为 Interval 的一半
	CheckTimeout time.Duration
}

// HealthMonitor 周期性检查所有已注册 provider 并更新 Selector 的健康状态
//
// 配置了 publisher 时把检查结果写入共享缓存，供其他实例和运维查看。
type HealthMonitor struct {
	config    MonitorConfig
	providers *provider.Registry
	selector  *Selector
	publisher cache.ProviderHealthCache
	logger    *logging.Logger
}

// NewHealthMonitor 创建健康检查器，publisher 可以为 nil
func NewHealthMonitor(cfg MonitorConfig, providers *provider.Registry, selector *Selector, publisher cache.ProviderHealthCache, logger *logging.Logger) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = cfg.Interval / 2
	}
	if cfg.BotID == "" {
		cfg.BotID = "health-check"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &HealthMonitor{
		config:    cfg,
		providers: providers,
		selector:  selector,
		publisher: publisher,
		logger:    logger.Named("health-monitor"),
	}
}

// Start 启动检查循环，ctx 取消后返回
func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll 并发检查所有 provider，全部完成后返回
func (m *HealthMonitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range m.providers.Types() {
		p, ok := m.providers.Get(t)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(p provider.Provider) {
			defer wg.Done()
			m.check(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (m *HealthMonitor) check(ctx context.Context, p provider.Provider) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	start := time.Now()
	healthy := p.HealthCheck(checkCtx, m.config.BotID)
	m.logger.HealthCheckLog(string(p.Type()), healthy, time.Since(start))

	if ctx.Err() != nil {
		return
	}
	msg := "health check ok"
	if !healthy {
		msg = "health check failed"
	}
	m.selector.UpdateHealth(p.Type(), healthy, msg)

	if m.publisher == nil || m.config.InstanceID == "" {
		return
	}
	h, ok := m.selector.Health(p.Type())
	if !ok {
		return
	}
	if err := m.publisher.PublishProviderHealth(ctx, m.config.InstanceID, p.Type(), &h); err != nil {
		m.logger.WithProvider(string(p.Type())).WithError(err).Warn("Publish provider health failed")
	}
}

