package dao

import (
	"database/sql"
	"time"
)

// RunDAO workflow_run表的数据访问对象（内部使用）
type RunDAO struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	WorkflowID     string         `db:"workflow_id"`
	VersionID      string         `db:"version_id"`
	EmployeeID     string         `db:"employee_id"`
	TriggerEventID string         `db:"trigger_event_id"`
	Status         string         `db:"status"`
	Context        string         `db:"context"` // JSON格式存储
	ErrorMessage   sql.NullString `db:"error_message"`
	LeaseOwner     string         `db:"lease_owner"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	StartTime      time.Time      `db:"start_time"`
	EndTime        sql.NullTime   `db:"end_time"`
	CreateTime     time.Time      `db:"create_time"`
}

// StepDAO workflow_run_step表的数据访问对象（内部使用）
type StepDAO struct {
	ID           string         `db:"id"`
	RunID        string         `db:"run_id"`
	NodeID       string         `db:"node_id"`
	NodeKey      string         `db:"node_key"`
	NodeType     string         `db:"node_type"`
	Status       string         `db:"status"`
	Attempts     int            `db:"attempts"`
	Result       string         `db:"result"` // JSON格式存储
	ErrorMessage sql.NullString `db:"error_message"`
	DueAt        sql.NullTime   `db:"due_at"`
	StartTime    time.Time      `db:"start_time"`
	EndTime      sql.NullTime   `db:"end_time"`
	CreateTime   time.Time      `db:"create_time"`
}

// TaskDAO hr_task表的数据访问对象（内部使用）
type TaskDAO struct {
	ID          string         `db:"id"`
	RunID       string         `db:"run_id"`
	StepID      string         `db:"step_id"`
	TenantID    string         `db:"tenant_id"`
	EmployeeID  string         `db:"employee_id"`
	TaskType    string         `db:"task_type"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	AssigneeID  string         `db:"assignee_id"`
	FormFields  string         `db:"form_fields"` // JSON格式存储
	Status      string         `db:"status"`
	DueAt       sql.NullTime   `db:"due_at"`
	Result      sql.NullString `db:"result"` // JSON格式存储
	CompletedAt sql.NullTime   `db:"completed_at"`
	CreateTime  time.Time      `db:"create_time"`
}

// QueueDAO workflow_action_queue表的数据访问对象（内部使用）
type QueueDAO struct {
	ID            string       `db:"id"`
	RunID         string       `db:"run_id"`
	StepID        string       `db:"step_id"`
	ResumeAt      time.Time    `db:"resume_at"`
	Attempts      int          `db:"attempts"`
	LastError     string       `db:"last_error"`
	ClaimedBy     string       `db:"claimed_by"`
	ClaimExpireAt sql.NullTime `db:"claim_expire_at"`
	CreateTime    time.Time    `db:"create_time"`
}

// EventDAO workflow_event表的数据访问对象（内部使用）
type EventDAO struct {
	ID         string         `db:"id"`
	RunID      string         `db:"run_id"`
	Position   int64          `db:"position"`
	EventType  string         `db:"event_type"`
	StepID     sql.NullString `db:"step_id"`
	TaskID     sql.NullString `db:"task_id"`
	Payload    string         `db:"payload"` // JSON格式存储
	CreateTime time.Time      `db:"create_time"`
}

// JourneyDAO employee_journey_view表的数据访问对象（内部使用）
type JourneyDAO struct {
	ID         string    `db:"id"`
	RunID      string    `db:"run_id"`
	ShareToken string    `db:"share_token"`
	HeroTitle  string    `db:"hero_title"`
	HeroBody   string    `db:"hero_body"`
	CreateTime time.Time `db:"create_time"`
}
