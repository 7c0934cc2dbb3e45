package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"chat-router/internal/shared/model"
)

// ============================================================================
// MockProvider - 可编程的 Provider 实现（用于测试）
// ============================================================================

// MockProvider 返回预设的回复或错误，并记录调用次数
type MockProvider struct {
	Kind model.ProviderType

	mu      sync.Mutex
	reply   *Reply
	err     error
	healthy bool
	lastBot string

	calls        atomic.Int64
	healthChecks atomic.Int64
}

// NewMockProvider 创建默认健康、回复 text 的 MockProvider
func NewMockProvider(kind model.ProviderType, text string) *MockProvider {
	return &MockProvider{Kind: kind, reply: &Reply{Text: text}, healthy: true}
}

// SetReply 设置回复并清除错误
func (m *MockProvider) SetReply(r *Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply, m.err = r, nil
}

// SetError 之后的调用都返回 err
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetHealthy 设置 HealthCheck 结果
func (m *MockProvider) SetHealthy(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = ok
}

// Calls SendMessage 调用次数
func (m *MockProvider) Calls() int64 {
	return m.calls.Load()
}

// LastBotID 最近一次 SendMessage 收到的 bot id
func (m *MockProvider) LastBotID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBot
}

// HealthChecks HealthCheck 调用次数
func (m *MockProvider) HealthChecks() int64 {
	return m.healthChecks.Load()
}

func (m *MockProvider) Type() model.ProviderType {
	return m.Kind
}

func (m *MockProvider) SendMessage(ctx context.Context, botID, userID, text string) (*Reply, error) {
	m.calls.Add(1)
	m.mu.Lock()
	reply, err := m.reply, m.err
	m.lastBot = botID
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := *reply
	return &cp, nil
}

func (m *MockProvider) HealthCheck(ctx context.Context, botID string) bool {
	m.healthChecks.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

var _ Provider = (*MockProvider)(nil)
