package dto

import (
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Kind        string `json:"kind" binding:"required,oneof=onboarding offboarding"`
}

// SaveDraftRequest 保存草稿版本请求（全量替换节点和边）
type SaveDraftRequest struct {
	Nodes []*workflow.Node `json:"nodes" binding:"required"`
	Edges []*workflow.Edge `json:"edges"`
}

// CompleteTaskRequest 完成任务请求
type CompleteTaskRequest struct {
	Payload *task.Payload `json:"payload"`
}

// DispatchEventRequest 领域事件分发请求
type DispatchEventRequest struct {
	ID         string         `json:"id"`
	Type       string         `json:"type" binding:"required"`
	TenantID   string         `json:"tenant_id" binding:"required"`
	EmployeeID string         `json:"employee_id" binding:"required"`
	Payload    map[string]any `json:"payload"`
}

// ListQueryRequest 通用列表查询请求
type ListQueryRequest struct {
	TenantID   string `form:"tenant_id"`
	WorkflowID string `form:"workflow_id"`
	EmployeeID string `form:"employee_id"`
	AssigneeID string `form:"assignee_id"`
}
