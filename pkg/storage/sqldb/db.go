// Package sqldb 提供基于sqlx的Repository共享实现。
// SQL统一按SQLite风格书写（?占位符、SQLite类型），由Dialect转换DDL、
// 由sqlx在执行前按驱动Rebind，因此同一套实现可服务sqlite/mysql/postgres。
package sqldb

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/stevelan1995/hrflow/pkg/storage"
)

// DB 数据库句柄（对外导出）
// 同时承载定义聚合根和Run聚合根两个Repository
type DB struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

// Open 打开数据库并初始化表结构（对外导出）
func Open(dialect storage.Dialect, dsn string) (*DB, error) {
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	if dialect.Name() == "sqlite" {
		// sqlite同一时刻只允许一个写者，且PRAGMA只作用于执行它的连接。
		// 收紧为单连接：并发写在连接池排队而不是SQLITE_BUSY报错
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置数据库失败: %w", err)
		}
	}

	d := &DB{db: db, dialect: dialect}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return d, nil
}

// NewFromDB 从已有连接创建（对外导出，测试用）
func NewFromDB(db *sqlx.DB, dialect storage.Dialect) (*DB, error) {
	d := &DB{db: db, dialect: dialect}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return d, nil
}

// GetDB 获取底层数据库连接（对外导出）
func (d *DB) GetDB() *sqlx.DB {
	return d.db
}

// Close 关闭数据库连接（对外导出）
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// rebind 将?占位符转换为当前驱动的占位符格式
func (d *DB) rebind(query string) string {
	return d.db.Rebind(query)
}

// initSchema 初始化数据库表结构
func (d *DB) initSchema() error {
	// 工作流定义表
	createWorkflowSQL := `
	CREATE TABLE IF NOT EXISTS workflow (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		active_version_id TEXT,
		create_time DATETIME NOT NULL,
		update_time DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_tenant_id ON workflow(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_workflow_status ON workflow(status);
	`

	// 工作流版本表（发布后不可变）
	createVersionSQL := `
	CREATE TABLE IF NOT EXISTS workflow_version (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		version_number INTEGER NOT NULL DEFAULT 0,
		published INTEGER NOT NULL DEFAULT 0,
		published_at DATETIME,
		create_time DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_version_workflow_id ON workflow_version(workflow_id);
	`

	// 节点表
	createNodeSQL := `
	CREATE TABLE IF NOT EXISTS workflow_node (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL,
		node_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		node_type TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_node_version_id ON workflow_node(version_id);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_workflow_node_version_key ON workflow_node(version_id, node_key);
	`

	// 边表
	createEdgeSQL := `
	CREATE TABLE IF NOT EXISTS workflow_edge (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL,
		source_node_id TEXT NOT NULL,
		target_node_id TEXT NOT NULL,
		edge_condition TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_edge_version_id ON workflow_edge(version_id);
	`

	// Run表（幂等键唯一索引 + 单写者推进锁字段）
	createRunSQL := `
	CREATE TABLE IF NOT EXISTS workflow_run (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		trigger_event_id TEXT NOT NULL,
		status TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '{}',
		error_message TEXT,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_expires_at DATETIME,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		create_time DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_workflow_run_dedup ON workflow_run(workflow_id, employee_id, trigger_event_id);
	CREATE INDEX IF NOT EXISTS idx_workflow_run_tenant_id ON workflow_run(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_workflow_run_status ON workflow_run(status);
	`

	// 步骤表
	createStepSQL := `
	CREATE TABLE IF NOT EXISTS workflow_run_step (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_key TEXT NOT NULL,
		node_type TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL DEFAULT '{}',
		error_message TEXT,
		due_at DATETIME,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		create_time DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_workflow_run_step_node ON workflow_run_step(run_id, node_id);
	CREATE INDEX IF NOT EXISTS idx_workflow_run_step_status ON workflow_run_step(status);
	`

	// 人工任务表
	createTaskSQL := `
	CREATE TABLE IF NOT EXISTS hr_task (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		assignee_id TEXT NOT NULL,
		form_fields TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		due_at DATETIME,
		result TEXT,
		completed_at DATETIME,
		create_time DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hr_task_run_id ON hr_task(run_id);
	CREATE INDEX IF NOT EXISTS idx_hr_task_assignee ON hr_task(tenant_id, assignee_id, status);
	`

	// 动作队列表
	createQueueSQL := `
	CREATE TABLE IF NOT EXISTS workflow_action_queue (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		resume_at DATETIME NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		claimed_by TEXT NOT NULL DEFAULT '',
		claim_expire_at DATETIME,
		create_time DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_action_queue_resume_at ON workflow_action_queue(resume_at);
	CREATE INDEX IF NOT EXISTS idx_workflow_action_queue_run_id ON workflow_action_queue(run_id);
	`

	// 事件日志表（只追加）
	createEventSQL := `
	CREATE TABLE IF NOT EXISTS workflow_event (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		step_id TEXT,
		task_id TEXT,
		payload TEXT NOT NULL DEFAULT '{}',
		create_time DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_workflow_event_position ON workflow_event(run_id, position);
	`

	// 员工旅程视图表（能力凭证）
	createJourneySQL := `
	CREATE TABLE IF NOT EXISTS employee_journey_view (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		share_token TEXT NOT NULL,
		hero_title TEXT NOT NULL DEFAULT '',
		hero_body TEXT NOT NULL DEFAULT '',
		create_time DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_employee_journey_view_token ON employee_journey_view(share_token);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_employee_journey_view_run ON employee_journey_view(run_id);
	`

	schemas := []string{
		createWorkflowSQL, createVersionSQL, createNodeSQL, createEdgeSQL,
		createRunSQL, createStepSQL, createTaskSQL, createQueueSQL,
		createEventSQL, createJourneySQL,
	}
	for _, schema := range schemas {
		// 逐条执行：mysql/postgres驱动默认不支持一次Exec多条语句
		for _, stmt := range strings.Split(d.dialect.CreateTableSQL(schema), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := d.db.Exec(stmt); err != nil {
				// MySQL的CREATE INDEX不支持IF NOT EXISTS，重复初始化时索引已存在
				if strings.HasPrefix(stmt, "CREATE") && strings.Contains(stmt, "INDEX") &&
					strings.Contains(err.Error(), "Duplicate key name") {
					continue
				}
				return fmt.Errorf("执行DDL失败: %w", err)
			}
		}
	}

	return nil
}
