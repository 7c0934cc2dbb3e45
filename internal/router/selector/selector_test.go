package selector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat-router/internal/router/provider"
	"chat-router/internal/shared/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSelector(strategy StrategyName, fallback bool) *Selector {
	return New(Config{Strategy: strategy, FallbackEnabled: fallback}, nil)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Strategy: "nonsense"}, nil)
	assert.Equal(t, StrategyHybrid, s.Strategy())
	assert.False(t, s.FallbackEnabled())
	for _, p := range model.KnownProviders {
		assert.True(t, s.IsUsable(p), p)
	}
	assert.Equal(t, model.KnownProviders, s.Providers())
}

func TestSetStrategy(t *testing.T) {
	s := newSelector(StrategyHybrid, true)
	require.NoError(t, s.SetStrategy("complexity_based"))
	assert.Equal(t, StrategyComplexityBased, s.Strategy())

	assert.Error(t, s.SetStrategy("weighted"))
	assert.Equal(t, StrategyComplexityBased, s.Strategy())

	sel := s.Select(context.Background(), intentOf(model.IntentOrderInquiry, 1, model.ComplexityMedium), nil)
	assert.Equal(t, model.ProviderDialogue, sel.ProviderType)
	assert.Equal(t, "complexity_based:medium", sel.SelectionReason)
}

func TestSelect_Confidence(t *testing.T) {
	s := newSelector(StrategyHybrid, true)
	ctx := context.Background()

	// 0.5 + 0.3×0.5 + 0.2（健康）
	sel := s.Select(ctx, intentOf(model.IntentOrderInquiry, 0.5, model.ComplexityLow), nil)
	assert.Equal(t, model.ProviderRuleBased, sel.ProviderType)
	assert.InDelta(t, 0.85, sel.Confidence, 1e-9)

	// 与上一个 provider 一致后截断到 1
	c := &model.ConversationContext{PreviousProvider: model.ProviderRuleBased, MessageCountInCurrentSession: 1}
	sel = s.Select(ctx, intentOf(model.IntentOrderInquiry, 0.9, model.ComplexityLow), c)
	assert.Equal(t, 1.0, sel.Confidence)

	// 不健康时不加分
	for i := 0; i < model.MaxConsecutiveFailures; i++ {
		s.UpdateHealth(model.ProviderRuleBased, false, "timeout")
	}
	sel = s.Select(ctx, intentOf(model.IntentOrderInquiry, 0, model.ComplexityLow), nil)
	assert.Equal(t, model.ProviderRuleBased, sel.ProviderType)
	assert.InDelta(t, 0.5, sel.Confidence, 1e-9)
}

func TestSelect_FallbackProviders(t *testing.T) {
	s := newSelector(StrategyHybrid, true)
	ctx := context.Background()
	intent := intentOf(model.IntentOrderInquiry, 0.9, model.ComplexityLow)

	sel := s.Select(ctx, intent, nil)
	assert.Equal(t, []model.ProviderType{model.ProviderDialogue}, sel.FallbackProviders)

	// 不可用的 provider 不进入备用列表
	s.UpdateHealth(model.ProviderDialogue, false, "down")
	sel = s.Select(ctx, intent, nil)
	assert.Empty(t, sel.FallbackProviders)

	s.UpdateHealth(model.ProviderDialogue, true, "ok")
	s.SetFallbackEnabled(false)
	sel = s.Select(ctx, intent, nil)
	assert.NotNil(t, sel.FallbackProviders)
	assert.Empty(t, sel.FallbackProviders)
}

func TestSelect_HealthBasedNoneHealthy(t *testing.T) {
	s := newSelector(StrategyHealthBased, true)
	for _, p := range model.KnownProviders {
		s.UpdateHealth(p, false, "down")
	}
	sel := s.Select(context.Background(), nil, nil)
	assert.Equal(t, model.ProviderRuleBased, sel.ProviderType)
	assert.Equal(t, "health_based:none_healthy", sel.SelectionReason)
}

func TestUpdateHealth(t *testing.T) {
	s := newSelector(StrategyHybrid, true)
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.UpdateHealth(model.ProviderDialogue, false, "503")
	s.UpdateHealth(model.ProviderDialogue, false, "503")
	h, ok := s.Health(model.ProviderDialogue)
	require.True(t, ok)
	assert.False(t, h.Healthy)
	assert.Equal(t, 2, h.ConsecutiveFailures)
	assert.Equal(t, "503", h.LastMessage)
	assert.Equal(t, fixed, h.LastCheck)

	s.UpdateHealth(model.ProviderDialogue, true, "ok")
	h, _ = s.Health(model.ProviderDialogue)
	assert.True(t, h.Healthy)
	assert.Zero(t, h.ConsecutiveFailures)

	// 未知 provider 按需加入
	s.UpdateHealth("LLM", true, "ok")
	assert.True(t, s.IsUsable("LLM"))
	assert.Equal(t, []model.ProviderType{model.ProviderRuleBased, model.ProviderDialogue, "LLM"}, s.Providers())

	_, ok = s.Health("MISSING")
	assert.False(t, ok)
	assert.False(t, s.IsUsable("MISSING"))
}

func TestUpdateHealth_Concurrent(t *testing.T) {
	s := newSelector(StrategyHybrid, true)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := model.KnownProviders[i%2]
			for j := 0; j < 25; j++ {
				s.UpdateHealth(p, false, fmt.Sprintf("fail-%d", j))
				s.Select(context.Background(), nil, nil)
			}
		}(i)
	}
	wg.Wait()

	snap := s.HealthSnapshot()
	assert.Equal(t, 500, snap[model.ProviderRuleBased].ConsecutiveFailures)
	assert.Equal(t, 500, snap[model.ProviderDialogue].ConsecutiveFailures)
}

// ============================================================================
// HealthMonitor
// ============================================================================

// memoryPublisher 记录发布的健康快照
type memoryPublisher struct {
	mu       sync.Mutex
	received map[model.ProviderType]model.ProviderHealth
}

func (m *memoryPublisher) PublishProviderHealth(ctx context.Context, instanceID string, p model.ProviderType, h *model.ProviderHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.received == nil {
		m.received = map[model.ProviderType]model.ProviderHealth{}
	}
	m.received[p] = *h
	return nil
}

func (m *memoryPublisher) ListProviderHealth(ctx context.Context, p model.ProviderType) (map[string]*model.ProviderHealth, error) {
	return nil, nil
}

func (m *memoryPublisher) get(p model.ProviderType) (model.ProviderHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.received[p]
	return h, ok
}

func TestHealthMonitor_CheckAll(t *testing.T) {
	a := provider.NewMockProvider(model.ProviderRuleBased, "a")
	b := provider.NewMockProvider(model.ProviderDialogue, "b")
	b.SetHealthy(false)

	s := newSelector(StrategyHybrid, true)
	pub := &memoryPublisher{}
	m := NewHealthMonitor(MonitorConfig{Interval: time.Minute, InstanceID: "router-1"},
		provider.NewRegistry(a, b), s, pub, nil)

	m.CheckAll(context.Background())

	assert.Equal(t, int64(1), a.HealthChecks())
	assert.Equal(t, int64(1), b.HealthChecks())
	assert.True(t, s.IsUsable(model.ProviderRuleBased))
	h, _ := s.Health(model.ProviderDialogue)
	assert.False(t, h.Healthy)
	assert.Equal(t, 1, h.ConsecutiveFailures)

	published, ok := pub.get(model.ProviderDialogue)
	require.True(t, ok)
	assert.False(t, published.Healthy)
}

func TestHealthMonitor_StartStops(t *testing.T) {
	a := provider.NewMockProvider(model.ProviderRuleBased, "a")
	s := newSelector(StrategyHybrid, true)
	m := NewHealthMonitor(MonitorConfig{Interval: 10 * time.Millisecond}, provider.NewRegistry(a), s, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return a.HealthChecks() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
