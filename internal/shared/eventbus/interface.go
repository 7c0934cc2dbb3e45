// Package eventbus 事件总线抽象接口
//
// 提供分析事件的发布和回放能力，当前由 Redis Streams 实现。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// AnalyticsBus 分析事件总线接口
//
// Engine 每处理完一条消息发布一条事件，下游（报表、计费对账）按 Stream 消费。
type AnalyticsBus interface {
	PublishAnalytics(ctx context.Context, event *AnalyticsEvent) error
	GetAnalytics(ctx context.Context, fromID string, count int64) ([]*AnalyticsEvent, error)
	GetAnalyticsCount(ctx context.Context) (int64, error)
	Close() error
}
