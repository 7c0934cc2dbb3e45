// Package deployments 嵌入部署相关文件到二进制
//
// 包含：
//   - init-db.sql: PostgreSQL 建表脚本（幂等，启动时执行）
package deployments

import (
	_ "embed"
)

// InitDBSQL PostgreSQL 初始化脚本
//
//go:embed init-db.sql
var InitDBSQL string
