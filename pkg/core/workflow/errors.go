package workflow

import (
	"fmt"
	"strings"
)

// ValidationError 工作流定义校验错误（对外导出）
// 在发布时返回，Defects枚举所有具体缺陷（孤立节点、循环依赖、缺失分支等）
type ValidationError struct {
	WorkflowID string
	Defects    []string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	return fmt.Sprintf("工作流定义校验失败: %s", strings.Join(e.Defects, "; "))
}

// NewValidationError 创建校验错误
func NewValidationError(workflowID string, defects []string) *ValidationError {
	return &ValidationError{WorkflowID: workflowID, Defects: defects}
}

// NotFoundError 资源不存在错误（对外导出）
type NotFoundError struct {
	Resource string
	ID       string
}

// Error 实现error接口
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s 不存在", e.Resource, e.ID)
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError 并发冲突错误（对外导出）
// 例如重复发布竞争、Run推进锁被占用、状态不允许的操作
type ConflictError struct {
	Reason string
}

// Error 实现error接口
func (e *ConflictError) Error() string {
	return fmt.Sprintf("操作冲突: %s", e.Reason)
}

// NewConflictError 创建冲突错误
func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// ExternalDependencyError 外部依赖错误（对外导出）
// 动作步骤执行期间受理人解析或通知发送失败，由动作队列按退避重试
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

// Error 实现error接口
func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("外部依赖 %s 调用失败: %v", e.Dependency, e.Err)
}

// Unwrap 返回底层错误
func (e *ExternalDependencyError) Unwrap() error {
	return e.Err
}

// NewExternalDependencyError 创建外部依赖错误
func NewExternalDependencyError(dependency string, err error) *ExternalDependencyError {
	return &ExternalDependencyError{Dependency: dependency, Err: err}
}

// TerminalRunError 不可恢复的Run级错误（对外导出）
// Run已标记为failed，需要人工介入处理
type TerminalRunError struct {
	RunID  string
	Reason string
}

// Error 实现error接口
func (e *TerminalRunError) Error() string {
	return fmt.Sprintf("Run %s 已失败: %s", e.RunID, e.Reason)
}

// NewTerminalRunError 创建Run级终态错误
func NewTerminalRunError(runID, reason string) *TerminalRunError {
	return &TerminalRunError{RunID: runID, Reason: reason}
}

// RunCanceledError Run已取消错误（对外导出）
// 在已取消的Run上完成任务等操作会返回此错误
type RunCanceledError struct {
	RunID string
}

// Error 实现error接口
func (e *RunCanceledError) Error() string {
	return fmt.Sprintf("Run %s 已取消，不能再执行操作", e.RunID)
}

// NewRunCanceledError 创建Run已取消错误
func NewRunCanceledError(runID string) *RunCanceledError {
	return &RunCanceledError{RunID: runID}
}
