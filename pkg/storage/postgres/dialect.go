// Package postgres 提供PostgreSQL方言实现。
package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/stevelan1995/hrflow/pkg/storage"
)

// Dialect PostgreSQL方言实现（对外导出）
type Dialect struct{}

// NewDialect 创建PostgreSQL方言实例
func NewDialect() *Dialect {
	return &Dialect{}
}

// Name 返回方言名称
func (d *Dialect) Name() string {
	return "postgres"
}

// DriverName 返回sql驱动注册名
func (d *Dialect) DriverName() string {
	return "postgres"
}

// UpsertSQL 返回PostgreSQL的UPSERT语句（使用ON CONFLICT DO UPDATE）
func (d *Dialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		conflictColumn,
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 转换DDL为PostgreSQL兼容格式
func (d *Dialect) CreateTableSQL(schema string) string {
	result := schema

	// 替换DATETIME为TIMESTAMP
	result = strings.ReplaceAll(result, "DATETIME", "TIMESTAMP")

	return result
}

// ConfigureDB 返回PostgreSQL配置SQL
func (d *Dialect) ConfigureDB() []string {
	return []string{
		"SET timezone = 'UTC';",
	}
}

// IsDuplicateKeyError 判断错误是否为唯一约束冲突
func (d *Dialect) IsDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 23505 = unique_violation
		return pqErr.Code == "23505"
	}
	return false
}

// 确保实现接口
var _ storage.Dialect = (*Dialect)(nil)
