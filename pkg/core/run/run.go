// Package run 定义工作流运行态领域模型：
// Run（版本实例化执行）、Step（节点执行记录）、队列条目、事件与员工旅程视图。
package run

import (
	"time"

	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// Status Run状态（对外导出）
type Status string

const (
	// StatusPending 已创建，尚未开始推进
	StatusPending Status = "pending"
	// StatusInProgress 推进中（包含存在waiting_input或queued步骤的"暂停"状态）
	StatusInProgress Status = "in_progress"
	// StatusCompleted 所有分支都到达终点
	StatusCompleted Status = "completed"
	// StatusCanceled 已取消
	StatusCanceled Status = "canceled"
	// StatusFailed 必需节点重试耗尽，需要人工介入
	StatusFailed Status = "failed"
)

// Terminal 判断Run状态是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

// Run 工作流运行实例（对外导出）
// 固定引用创建时的激活版本：之后的发布不影响执行中的Run；
// (WorkflowID, EmployeeID, TriggerEventID) 是幂等键，保证至少一次投递下每个事件只创建一个Run
type Run struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	WorkflowID     string         `json:"workflow_id"`
	VersionID      string         `json:"version_id"`
	EmployeeID     string         `json:"employee_id"`
	TriggerEventID string         `json:"trigger_event_id"`
	Status         Status         `json:"status"`
	Context        map[string]any `json:"context,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	CreateTime     time.Time      `json:"create_time"`
}

// StepStatus 步骤状态（对外导出）
// 状态迁移单调：进入终态后不再变化
type StepStatus string

const (
	// StepStatusPending 已创建，待执行
	StepStatusPending StepStatus = "pending"
	// StepStatusQueued 已入动作队列（延迟等待或重试退避中）
	StepStatusQueued StepStatus = "queued"
	// StepStatusWaitingInput 等待人工任务完成
	StepStatusWaitingInput StepStatus = "waiting_input"
	// StepStatusInProgress 执行中
	StepStatusInProgress StepStatus = "in_progress"
	// StepStatusCompleted 已完成（终态）
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed 已失败（终态）
	StepStatusFailed StepStatus = "failed"
	// StepStatusCanceled 已取消（终态）
	StepStatusCanceled StepStatus = "canceled"
)

// Terminal 判断步骤状态是否为终态
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusCanceled
}

// Waiting 判断步骤是否处于等待状态（存在对应的队列条目或人工任务）
func (s StepStatus) Waiting() bool {
	return s == StepStatusQueued || s == StepStatusWaitingInput
}

// Step 节点执行记录（对外导出）
// 每个Run访问过的节点对应一条Step，(RunID, NodeID) 唯一
type Step struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	NodeID       string            `json:"node_id"`
	NodeKey      string            `json:"node_key"`
	NodeType     workflow.NodeType `json:"node_type"`
	Status       StepStatus        `json:"status"`
	Attempts     int               `json:"attempts"`
	Result       map[string]any    `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	DueAt        *time.Time        `json:"due_at,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	CreateTime   time.Time         `json:"create_time"`
}

// QueueEntry 动作队列条目（对外导出）
// 每个处于等待状态的延迟/重试步骤对应恰好一条调度票据；
// 成功恢复时原子删除，失败时按退避重新入队
type QueueEntry struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	StepID      string     `json:"step_id"`
	ResumeAt    time.Time  `json:"resume_at"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimExpire *time.Time `json:"claim_expire,omitempty"`
	CreateTime  time.Time  `json:"create_time"`
}

// EventType 事件类型（对外导出）
type EventType string

const (
	EventRunCreated         EventType = "run_created"
	EventRunStarted         EventType = "run_started"
	EventRunCompleted       EventType = "run_completed"
	EventRunCanceled        EventType = "run_canceled"
	EventRunFailed          EventType = "run_failed"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventStepRetryScheduled EventType = "step_retry_scheduled"
	EventDelayScheduled     EventType = "delay_scheduled"
	EventDelayFired         EventType = "delay_fired"
	EventBranchEvaluated    EventType = "branch_evaluated"
	EventTaskCreated        EventType = "task_created"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskCanceled       EventType = "task_canceled"
)

// Event 审计事件（对外导出）
// 追加写入，每个Run内Position单调递增，从不更新或删除；
// 事件日志是"发生过什么"的权威记录，可完整重建时间线
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Position   int64          `json:"position"`
	Type       EventType      `json:"type"`
	StepID     string         `json:"step_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreateTime time.Time      `json:"create_time"`
}

// JourneyView 员工旅程视图（对外导出）
// ShareToken是一个能力凭证（capability）而非会话：持有者只能读取并操作这一个Run
type JourneyView struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	ShareToken string    `json:"share_token"`
	HeroTitle  string    `json:"hero_title"`
	HeroBody   string    `json:"hero_body"`
	CreateTime time.Time `json:"create_time"`
}
