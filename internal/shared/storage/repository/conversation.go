// Package repository ConversationContext 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chat-router/internal/shared/model"
	"chat-router/internal/shared/storage/dbutil"
)

// 索引列单独存储，完整上下文以 JSON 存入 data 列
const contextColumns = `context_key, context_id, tenant_id, user_id, platform, session_id,
	status, message_count, data, last_activity, expires_at`

// SaveContext 以 context_key 为主键 upsert 会话上下文
func (s *Store) SaveContext(ctx context.Context, c *model.ConversationContext) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode context %s: %w", c.ContextKey, err)
	}

	conflict := s.dialect.UpsertConflict("context_key", []string{
		"session_id = EXCLUDED.session_id",
		"status = EXCLUDED.status",
		"message_count = EXCLUDED.message_count",
		"data = EXCLUDED.data",
		"last_activity = EXCLUDED.last_activity",
		"expires_at = EXCLUDED.expires_at",
		"updated_at = " + s.now(),
	})
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO conversation_contexts (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
		%s
	`, contextColumns, conflict))

	_, err = s.db.ExecContext(ctx, query,
		c.ContextKey, c.ContextID, c.TenantID, c.UserID, c.Platform, c.SessionID,
		string(c.Status), c.MessageCount, string(data),
		c.LastActivity.UTC(), nullableTime(c.ExpiresAt))
	return err
}

// GetContext 获取会话上下文，不存在返回 (nil, nil)
func (s *Store) GetContext(ctx context.Context, key string) (*model.ConversationContext, error) {
	query := s.rebind(`SELECT data FROM conversation_contexts WHERE context_key = $1`)

	var data []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeContext(data)
}

// DeleteContext 删除会话上下文（不存在不报错）
func (s *Store) DeleteContext(ctx context.Context, key string) error {
	query := s.rebind(`DELETE FROM conversation_contexts WHERE context_key = $1`)
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

// ListActiveContexts 列出租户下活跃且未过期的会话上下文
func (s *Store) ListActiveContexts(ctx context.Context, tenantID string, now time.Time) ([]*model.ConversationContext, error) {
	query := dbutil.BuildDynamicQuery(s.dialect,
		`SELECT data FROM conversation_contexts`,
		[]string{
			"tenant_id = $1",
			"status = $2",
			"(expires_at IS NULL OR expires_at > $3)",
		},
		"ORDER BY last_activity DESC")
	return s.queryContexts(ctx, query, tenantID, string(model.ContextStatusActive), now.UTC())
}

// ListExpiredContexts 列出已过期的会话上下文
func (s *Store) ListExpiredContexts(ctx context.Context, before time.Time, limit int) ([]*model.ConversationContext, error) {
	suffix := "ORDER BY expires_at"
	if limit > 0 {
		suffix += fmt.Sprintf(" LIMIT %d", limit)
	}
	query := dbutil.BuildDynamicQuery(s.dialect,
		`SELECT data FROM conversation_contexts`,
		[]string{"expires_at IS NOT NULL", "expires_at <= $1"},
		suffix)
	return s.queryContexts(ctx, query, before.UTC())
}

// DeleteExpiredContexts 删除已过期的会话上下文
func (s *Store) DeleteExpiredContexts(ctx context.Context, before time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM conversation_contexts WHERE expires_at IS NOT NULL AND expires_at <= $1`)
	res, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) queryContexts(ctx context.Context, query string, args ...interface{}) ([]*model.ConversationContext, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*model.ConversationContext{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		c, err := decodeContext(data)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func decodeContext(data []byte) (*model.ConversationContext, error) {
	var c model.ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	c.Normalize()
	c.DurableSynced = true
	return &c, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
