// Package dao 定义数据库表的数据访问对象。
package dao

import (
	"database/sql"
	"time"
)

// WorkflowDAO workflow表的数据访问对象（内部使用）
type WorkflowDAO struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	Name            string         `db:"name"`
	Description     string         `db:"description"`
	Kind            string         `db:"kind"`   // onboarding/offboarding
	Status          string         `db:"status"` // draft/published/archived
	ActiveVersionID sql.NullString `db:"active_version_id"`
	CreateTime      time.Time      `db:"create_time"`
	UpdateTime      time.Time      `db:"update_time"`
}

// VersionDAO workflow_version表的数据访问对象（内部使用）
type VersionDAO struct {
	ID            string       `db:"id"`
	WorkflowID    string       `db:"workflow_id"`
	VersionNumber int          `db:"version_number"`
	Published     int          `db:"published"` // 0=草稿, 1=已发布

	PublishedAt   sql.NullTime `db:"published_at"`
	CreateTime    time.Time    `db:"create_time"`
}

// NodeDAO workflow_node表的数据访问对象（内部使用）
type NodeDAO struct {
	ID        string `db:"id"`
	VersionID string `db:"version_id"`
	NodeKey   string `db:"node_key"`
	Name      string `db:"name"`
	NodeType  string `db:"node_type"`
	Config    string `db:"config"` // JSON格式存储
}

// EdgeDAO workflow_edge表的数据访问对象（内部使用）
type EdgeDAO struct {
	ID           string `db:"id"`
	VersionID    string `db:"version_id"`
	SourceNodeID string `db:"source_node_id"`
	TargetNodeID string `db:"target_node_id"`
	Condition    string `db:"edge_condition"`
	Position     int    `db:"position"`
}
