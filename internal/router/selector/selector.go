package selector

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat-router/internal/shared/model"
	"chat-router/pkg/logging"
)

// Config Selector 配置
type Config struct {
	Strategy        StrategyName
	FallbackEnabled bool
}

// healthEntry 单个 provider 的健康状态，自带锁
type healthEntry struct {
	mu     sync.Mutex
	health model.ProviderHealth
}

// Selector provider 选择器
//
// 持有各 provider 的健康状态，按当前策略为每条消息选择 provider。
// 健康状态 map 只在插入新 provider 时加写锁，更新单个条目只锁该条目。
type Selector struct {
	strategy        atomic.Value // StrategyName
	fallbackEnabled atomic.Bool

	mu     sync.RWMutex
	health map[model.ProviderType]*healthEntry

	now    func() time.Time
	pick   func(n int) int
	logger *logging.Logger
}

// New 创建选择器，已知 provider 初始视为健康
func New(cfg Config, logger *logging.Logger) *Selector {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Selector{
		health: make(map[model.ProviderType]*healthEntry),
		now:    time.Now,
		pick:   rand.Intn,
		logger: logger.Named("selector"),
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	if _, ok := strategies[cfg.Strategy]; !ok {
		s.logger.Warn("Unknown strategy, using default", slog.String("strategy", string(cfg.Strategy)))
		cfg.Strategy = DefaultStrategy
	}
	s.strategy.Store(cfg.Strategy)
	s.fallbackEnabled.Store(cfg.FallbackEnabled)
	for _, p := range model.KnownProviders {
		s.health[p] = &healthEntry{health: model.ProviderHealth{Healthy: true}}
	}
	return s
}

// ============================================================================
// 热更新
// ============================================================================

// SetStrategy 切换选择策略
func (s *Selector) SetStrategy(name string) error {
	n, err := ParseStrategy(name)
	if err != nil {
		return err
	}
	if old := s.Strategy(); old != n {
		s.strategy.Store(n)
		s.logger.Info("Selection strategy changed", slog.String("from", string(old)), slog.String("to", string(n)))
	}
	return nil
}

// Strategy 当前策略
func (s *Selector) Strategy() StrategyName {
	return s.strategy.Load().(StrategyName)
}

// SetFallbackEnabled 开关备用 provider 列表
func (s *Selector) SetFallbackEnabled(v bool) {
	s.fallbackEnabled.Store(v)
}

// FallbackEnabled 是否返回备用 provider
func (s *Selector) FallbackEnabled() bool {
	return s.fallbackEnabled.Load()
}

// ============================================================================
// 选择
// ============================================================================

// Select 为一条消息选择 provider
func (s *Selector) Select(ctx context.Context, intent *model.IntentAnalysisResult, c *model.ConversationContext) *model.ProviderSelection {
	name := s.Strategy()
	in := &Input{
		Intent:  intent,
		Context: c,
		Usable:  s.usableSet(),
		Pick:    s.pick,
	}

	p, reason := strategies[name](in)
	if strings.HasSuffix(reason, "none_healthy") {
		s.logger.WithContext(ctx).Warn("No healthy provider, using default", slog.String("provider", string(p)))
	}

	sel := &model.ProviderSelection{
		ProviderType:      p,
		SelectionReason:   reason,
		Confidence:        confidence(intent, c, p, in.usable(p)),
		FallbackProviders: []model.ProviderType{},
	}
	if s.FallbackEnabled() {
		for _, alt := range model.KnownProviders {
			if alt != p && in.usable(alt) {
				sel.FallbackProviders = append(sel.FallbackProviders, alt)
			}
		}
	}
	return sel
}

// confidence 选择置信度：0.5 + 0.3×意图置信度 + 0.2（与上一个 provider 一致）+ 0.2（健康），截断到 [0,1]
func confidence(intent *model.IntentAnalysisResult, c *model.ConversationContext, p model.ProviderType, healthy bool) float64 {
	score := 0.5
	if intent != nil {
		score += 0.3 * intent.Confidence
	}
	if c != nil && c.PreviousProvider != "" && c.PreviousProvider == p {
		score += 0.2
	}
	if healthy {
		score += 0.2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ============================================================================
// 健康状态
// ============================================================================

func (s *Selector) entry(p model.ProviderType) *healthEntry {
	s.mu.RLock()
	e, ok := s.health[p]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.health[p]; ok {
		return e
	}
	e = &healthEntry{health: model.ProviderHealth{Healthy: true}}
	s.health[p] = e
	return e
}

// UpdateHealth 更新 provider 健康状态（唯一的写入路径）
//
// 成功时连续失败数归零，失败时加一，两种情况都刷新 LastCheck。
func (s *Selector) UpdateHealth(p model.ProviderType, healthy bool, message string) {
	e := s.entry(p)
	e.mu.Lock()
	wasUsable := e.health.Usable()
	e.health.Healthy = healthy
	e.health.LastMessage = message
	e.health.LastCheck = s.now()
	if healthy {
		e.health.ConsecutiveFailures = 0
	} else {
		e.health.ConsecutiveFailures++
	}
	usable := e.health.Usable()
	failures := e.health.ConsecutiveFailures
	e.mu.Unlock()

	if wasUsable != usable {
		s.logger.Info("Provider health changed",
			slog.String("provider", string(p)),
			slog.Bool("usable", usable),
			slog.Int("consecutive_failures", failures),
			slog.String("message", message))
	}
}

// Health 单个 provider 的健康状态副本
func (s *Selector) Health(p model.ProviderType) (model.ProviderHealth, bool) {
	s.mu.RLock()
	e, ok := s.health[p]
	s.mu.RUnlock()
	if !ok {
		return model.ProviderHealth{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health, true
}

// IsUsable provider 是否可用
func (s *Selector) IsUsable(p model.ProviderType) bool {
	h, ok := s.Health(p)
	return ok && h.Usable()
}

// HealthSnapshot 所有 provider 的健康状态副本
func (s *Selector) HealthSnapshot() map[model.ProviderType]model.ProviderHealth {
	s.mu.RLock()
	entries := make(map[model.ProviderType]*healthEntry, len(s.health))
	for p, e := range s.health {
		entries[p] = e
	}
	s.mu.RUnlock()

	out := make(map[model.ProviderType]model.ProviderHealth, len(entries))
	for p, e := range entries {
		e.mu.Lock()
		out[p] = e.health
		e.mu.Unlock()
	}
	return out
}

// Providers 已跟踪的 provider 列表（已知 provider 在前）
func (s *Selector) Providers() []model.ProviderType {
	snap := s.HealthSnapshot()
	out := make([]model.ProviderType, 0, len(snap))
	for _, p := range model.KnownProviders {
		if _, ok := snap[p]; ok {
			out = append(out, p)
			delete(snap, p)
		}
	}
	rest := make([]model.ProviderType, 0, len(snap))
	for p := range snap {
		rest = append(rest, p)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func (s *Selector) usableSet() map[model.ProviderType]bool {
	snap := s.HealthSnapshot()
	out := make(map[model.ProviderType]bool, len(snap))
	for p, h := range snap {
		out[p] = h.Usable()
	}
	return out
}
