// Package task 定义动作步骤生成的人工任务及其按类型区分的提交负载。
package task

import (
	"fmt"
	"time"

	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// Type 任务类型（对外导出）
type Type string

const (
	// TypeGeneral 普通确认任务，完成时不需要负载
	TypeGeneral Type = "general"
	// TypeDocument 文档任务，完成时必须携带已上传文档的ID
	TypeDocument Type = "document"
	// TypeForm 表单任务，完成时必须填写所有必填字段
	TypeForm Type = "form"
)

// Valid 判断任务类型是否合法
func (t Type) Valid() bool {
	return t == TypeGeneral || t == TypeDocument || t == TypeForm
}

// Status 任务状态（对外导出）
type Status string

const (
	// StatusPending 待处理
	StatusPending Status = "pending"
	// StatusCompleted 已完成（终态）
	StatusCompleted Status = "completed"
	// StatusCanceled 已取消（终态，随Run取消）
	StatusCanceled Status = "canceled"
)

// Terminal 判断任务状态是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Task 人工任务（对外导出）
// 由动作步骤生成，面向受理人；完成后驱动所属Run继续推进
type Task struct {
	ID          string               `json:"id"`
	RunID       string               `json:"run_id"`
	StepID      string               `json:"step_id"`
	TenantID    string               `json:"tenant_id"`
	EmployeeID  string               `json:"employee_id"`
	Type        Type                 `json:"type"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	AssigneeID  string               `json:"assignee_id"`
	Form        []workflow.FormField `json:"form,omitempty"`
	Status      Status               `json:"status"`
	DueAt       *time.Time           `json:"due_at,omitempty"`
	Result      map[string]any       `json:"result,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	CreateTime  time.Time            `json:"create_time"`
}

// Overdue 判断任务是否已过期（仅用于升级提醒，不自动失败）
func (t *Task) Overdue(now time.Time) bool {
	return t.Status == StatusPending && t.DueAt != nil && t.DueAt.Before(now)
}

// DocumentPayload 文档任务的提交负载（对外导出）
type DocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// FormPayload 表单任务的提交负载（对外导出）
type FormPayload struct {
	Fields map[string]any `json:"fields"`
}

// Payload 任务提交负载（对外导出）
// 按任务类型区分的标签联合：general不需要负载，document/form各有强类型负载
type Payload struct {
	Type     Type             `json:"type"`
	Document *DocumentPayload `json:"document,omitempty"`
	Form     *FormPayload     `json:"form,omitempty"`
}

// Validate 校验提交负载与任务声明的类型是否匹配
func (t *Task) Validate(p *Payload) error {
	switch t.Type {
	case TypeGeneral:
		// 普通任务不需要负载，容忍空Payload或仅有匹配类型的Payload
		if p != nil && p.Type != "" && p.Type != TypeGeneral {
			return workflow.NewValidationError("", []string{
				fmt.Sprintf("任务 %s 是general类型，提交的负载类型是 %s", t.ID, p.Type),
			})
		}
		return nil
	case TypeDocument:
		if p == nil || p.Document == nil || p.Document.DocumentID == "" {
			return workflow.NewValidationError("", []string{
				fmt.Sprintf("文档任务 %s 必须提交document_id", t.ID),
			})
		}
		return nil
	case TypeForm:
		if p == nil || p.Form == nil {
			return workflow.NewValidationError("", []string{
				fmt.Sprintf("表单任务 %s 必须提交表单字段", t.ID),
			})
		}
		var missing []string
		for _, f := range t.Form {
			if !f.Required {
				continue
			}
			v, ok := p.Form.Fields[f.Key]
			if !ok || v == nil || v == "" {
				missing = append(missing, f.Key)
			}
		}
		if len(missing) > 0 {
			return workflow.NewValidationError("", []string{
				fmt.Sprintf("表单任务 %s 缺少必填字段: %v", t.ID, missing),
			})
		}
		return nil
	default:
		return workflow.NewValidationError("", []string{
			fmt.Sprintf("任务 %s 的类型 %s 不合法", t.ID, t.Type),
		})
	}
}

// CompletionResult 根据负载构造任务完成结果
// 写入任务和步骤的Result字段，并合并进Run上下文供逻辑节点求值
func (t *Task) CompletionResult(p *Payload) map[string]any {
	result := map[string]any{"task_type": string(t.Type)}
	if p == nil {
		return result
	}
	if p.Document != nil {
		result["document_id"] = p.Document.DocumentID
	}
	if p.Form != nil {
		result["fields"] = p.Form.Fields
	}
	return result
}
