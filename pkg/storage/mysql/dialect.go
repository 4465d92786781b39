// Package mysql 提供MySQL方言实现。
package mysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/stevelan1995/hrflow/pkg/storage"
)

// Dialect MySQL方言实现（对外导出）
type Dialect struct{}

// NewDialect 创建MySQL方言实例
func NewDialect() *Dialect {
	return &Dialect{}
}

// Name 返回方言名称
func (d *Dialect) Name() string {
	return "mysql"
}

// DriverName 返回sql驱动注册名
func (d *Dialect) DriverName() string {
	return "mysql"
}

// UpsertSQL 返回MySQL的UPSERT语句（使用ON DUPLICATE KEY UPDATE）
func (d *Dialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 转换DDL为MySQL兼容格式
// TEXT列不能做主键或索引键，统一转为VARCHAR；JSON大字段恢复为MEDIUMTEXT
// 注意：这里用简单替换处理，依赖基准DDL的书写约定
func (d *Dialect) CreateTableSQL(schema string) string {
	result := schema

	result = strings.ReplaceAll(result, "TEXT PRIMARY KEY", "VARCHAR(64) PRIMARY KEY")
	result = strings.ReplaceAll(result, "TEXT NOT NULL", "VARCHAR(255) NOT NULL")
	result = strings.ReplaceAll(result, "TEXT,", "VARCHAR(255),")

	// JSON大字段不受255限制；MySQL的TEXT/MEDIUMTEXT不允许DEFAULT，去掉默认值
	for _, col := range []string{"config", "context", "result", "payload", "form_fields", "description", "hero_body", "last_error"} {
		result = strings.ReplaceAll(result, col+" VARCHAR(255) NOT NULL DEFAULT '{}'", col+" MEDIUMTEXT NOT NULL")
		result = strings.ReplaceAll(result, col+" VARCHAR(255) NOT NULL DEFAULT '[]'", col+" MEDIUMTEXT NOT NULL")
		result = strings.ReplaceAll(result, col+" VARCHAR(255) NOT NULL DEFAULT ''", col+" MEDIUMTEXT NOT NULL")
	}

	// MySQL的CREATE INDEX不支持IF NOT EXISTS；重复初始化产生的
	// Duplicate key name错误由initSchema忽略
	result = strings.ReplaceAll(result, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX")
	result = strings.ReplaceAll(result, "CREATE UNIQUE INDEX IF NOT EXISTS", "CREATE UNIQUE INDEX")

	return result
}

// ConfigureDB 返回MySQL配置SQL
func (d *Dialect) ConfigureDB() []string {
	return []string{
		"SET time_zone = '+00:00';",
	}
}

// IsDuplicateKeyError 判断错误是否为唯一约束冲突
func (d *Dialect) IsDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1062 = ER_DUP_ENTRY
		return mysqlErr.Number == 1062
	}
	return false
}

// 确保实现接口
var _ storage.Dialect = (*Dialect)(nil)
