// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和轻量级部署场景。
package sqlite

import (
	"database/sql"
	"fmt"

	"chat-router/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string) string {
	return dbutil.UpsertOnConflict(conflictColumn, updateExprs)
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:test.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// :memory: 每个连接是独立数据库，限制为单连接
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 建表语句（等价于 deployments/init-db.sql）
const schema = `
CREATE TABLE IF NOT EXISTS conversation_contexts (
    context_key   VARCHAR(255) PRIMARY KEY,
    context_id    VARCHAR(64)  NOT NULL UNIQUE,
    tenant_id     VARCHAR(64)  NOT NULL DEFAULT '',
    user_id       VARCHAR(128) NOT NULL,
    platform      VARCHAR(32)  NOT NULL,
    session_id    VARCHAR(64),
    status        VARCHAR(16)  NOT NULL DEFAULT 'active',
    message_count INTEGER      NOT NULL DEFAULT 0,
    data          TEXT         NOT NULL,
    last_activity DATETIME     NOT NULL,
    expires_at    DATETIME,
    created_at    DATETIME     DEFAULT (datetime('now')),
    updated_at    DATETIME     DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_conversation_contexts_tenant_status
    ON conversation_contexts (tenant_id, status, last_activity);
CREATE INDEX IF NOT EXISTS idx_conversation_contexts_expires_at
    ON conversation_contexts (expires_at);
`
