// Package storage 提供数据库工厂：按配置选择方言并打开共享Repository实现。
package storage

import (
	"fmt"

	"github.com/stevelan1995/hrflow/pkg/storage"
	"github.com/stevelan1995/hrflow/pkg/storage/mysql"
	"github.com/stevelan1995/hrflow/pkg/storage/postgres"
	"github.com/stevelan1995/hrflow/pkg/storage/sqldb"
	"github.com/stevelan1995/hrflow/pkg/storage/sqlite"
)

// Repositories 存储Repository集合（内部使用）
// 定义聚合根和Run聚合根由同一个连接承载
type Repositories struct {
	Workflow     storage.WorkflowRepository
	RunAggregate storage.RunAggregateRepository

	db *sqldb.DB
}

// NewRepositories 按数据库类型创建Repository集合（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 数据库连接字符串
func NewRepositories(dbType, dsn string) (*Repositories, error) {
	dialect, err := dialectFor(dbType)
	if err != nil {
		return nil, err
	}

	db, err := sqldb.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开%s数据库失败: %w", dialect.Name(), err)
	}

	return &Repositories{
		Workflow:     db,
		RunAggregate: db,
		db:           db,
	}, nil
}

// dialectFor 根据类型名选择方言
func dialectFor(dbType string) (storage.Dialect, error) {
	switch dbType {
	case "sqlite", "":
		return sqlite.NewDialect(), nil
	case "mysql":
		return mysql.NewDialect(), nil
	case "postgres", "postgresql":
		return postgres.NewDialect(), nil
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", dbType)
	}
}

// Close 关闭数据库连接
func (r *Repositories) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
