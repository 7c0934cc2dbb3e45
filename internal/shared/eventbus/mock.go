// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
	"sync"
)

// ============================================================================
// NoOpEventBus - 空操作的 AnalyticsBus 实现（用于测试和关闭分析时）
// ============================================================================

// NoOpEventBus 是一个不做任何操作的 AnalyticsBus 实现
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

func (e *NoOpEventBus) Close() error {
	return nil
}

func (e *NoOpEventBus) PublishAnalytics(ctx context.Context, event *AnalyticsEvent) error {
	return nil
}

func (e *NoOpEventBus) GetAnalytics(ctx context.Context, fromID string, count int64) ([]*AnalyticsEvent, error) {
	return []*AnalyticsEvent{}, nil
}

func (e *NoOpEventBus) GetAnalyticsCount(ctx context.Context) (int64, error) {
	return 0, nil
}

// ============================================================================
// MemoryEventBus - 内存实现（用于测试断言已发布的事件）
// ============================================================================

// MemoryEventBus 把事件保存在内存中
type MemoryEventBus struct {
	mu     sync.Mutex
	events []*AnalyticsEvent
}

// NewMemoryEventBus 创建 MemoryEventBus 实例
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{}
}

func (e *MemoryEventBus) Close() error {
	return nil
}

func (e *MemoryEventBus) PublishAnalytics(ctx context.Context, event *AnalyticsEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *event
	e.events = append(e.events, &cp)
	return nil
}

func (e *MemoryEventBus) GetAnalytics(ctx context.Context, fromID string, count int64) ([]*AnalyticsEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*AnalyticsEvent, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (e *MemoryEventBus) GetAnalyticsCount(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.events)), nil
}

// 确保实现了 AnalyticsBus 接口
var (
	_ AnalyticsBus = (*NoOpEventBus)(nil)
	_ AnalyticsBus = (*MemoryEventBus)(nil)
)
