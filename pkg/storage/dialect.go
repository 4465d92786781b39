package storage

import "errors"

// ErrDuplicateRun 幂等键冲突（对外导出）
// CreateRun在 (workflow_id, employee_id, trigger_event_id) 已存在时返回
var ErrDuplicateRun = errors.New("相同幂等键的Run已存在")

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异；共享的Repository实现统一使用?占位符，
// 由sqlx按驱动Rebind
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回sql驱动注册名
	DriverName() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句
	// tableName: 表名
	// columns: 列名列表（使用:name命名占位符）
	// conflictColumn: 冲突判断列（通常是主键）
	// updateColumns: 冲突时需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// CreateTableSQL 将基准DDL（SQLite风格）转换为本方言的DDL
	CreateTableSQL(schema string) string

	// ConfigureDB 配置数据库连接（如SQLite的PRAGMA）
	// 返回需要执行的SQL语句列表
	ConfigureDB() []string

	// IsDuplicateKeyError 判断错误是否为唯一约束冲突
	IsDuplicateKeyError(err error) bool
}
