// Package redis 分析事件操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"chat-router/internal/shared/eventbus"
)

// PublishAnalytics 发布分析事件
func (s *Store) PublishAnalytics(ctx context.Context, event *eventbus.AnalyticsEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"tenant_id": event.TenantID,
			"provider":  event.Provider,
			"status":    event.Status,
			"data":      string(data),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish analytics event: %w", err)
	}
	event.ID = id
	return nil
}

// GetAnalytics 按 ID 顺序读取分析事件，fromID 为空时从头读取
func (s *Store) GetAnalytics(ctx context.Context, fromID string, count int64) ([]*eventbus.AnalyticsEvent, error) {
	if fromID == "" {
		fromID = "-"
	}

	var msgs []redis.XMessage
	var err error
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, s.stream, fromID, "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, s.stream, fromID, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics events: %w", err)
	}

	events := make([]*eventbus.AnalyticsEvent, 0, len(msgs))
	for _, msg := range msgs {
		dataStr, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var event eventbus.AnalyticsEvent
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			log.Printf("[Redis/EventBus] Skipping malformed analytics event %s: %v", msg.ID, err)
			continue
		}
		event.ID = msg.ID
		events = append(events, &event)
	}
	return events, nil
}

// GetAnalyticsCount 获取事件数量
func (s *Store) GetAnalyticsCount(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.stream).Result()
}
