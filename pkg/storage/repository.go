// Package storage 定义引擎的持久化契约。
// 所有引擎状态都是持久的：任何工作进程都可以在崩溃或重启后恢复任何Run。
package storage

import (
	"context"
	"time"

	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// WorkflowRepository 工作流定义聚合根Repository（对外导出）
// 管理Workflow及其版本（节点、边）的事务操作
//
// 不可变性保证：
//   - 版本一旦发布便不再修改（发布即冻结节点和边）
//   - 只有草稿版本允许被替换
type WorkflowRepository interface {
	// SaveWorkflow 保存Workflow定义（幂等，存在则更新）
	SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error

	// GetWorkflow 根据ID获取Workflow
	// 如果不存在返回 nil, nil
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)

	// ListWorkflows 列出租户下的所有Workflow
	ListWorkflows(ctx context.Context, tenantID string) ([]*workflow.Workflow, error)

	// ListPublishedWorkflows 列出租户下所有已发布的Workflow（触发分发用）
	ListPublishedWorkflows(ctx context.Context, tenantID string) ([]*workflow.Workflow, error)

	// SaveDraftVersion 保存草稿版本及其节点和边（事务，全量替换）
	// 同一Workflow最多存在一个草稿版本；已发布版本不受影响
	SaveDraftVersion(ctx context.Context, v *workflow.Version) error

	// GetDraftVersion 获取Workflow的草稿版本（含节点和边）
	// 如果不存在返回 nil, nil
	GetDraftVersion(ctx context.Context, workflowID string) (*workflow.Version, error)

	// GetVersion 根据ID获取版本（含节点和边）
	// 如果不存在返回 nil, nil
	GetVersion(ctx context.Context, versionID string) (*workflow.Version, error)

	// ListVersions 列出Workflow的所有版本（不含节点和边）
	ListVersions(ctx context.Context, workflowID string) ([]*workflow.Version, error)

	// PublishVersion 发布草稿版本（事务）
	// 分配下一个version_number，标记为已发布，将Workflow切换到published状态
	// 并把active_version_id指向新版本（旧激活版本自然停用）；没有部分写入
	PublishVersion(ctx context.Context, workflowID, versionID string) (*workflow.Version, error)
}

// RunAggregateRepository Run聚合根Repository（对外导出）
// 统一管理Run及其关联实体（步骤、任务、队列条目、事件、旅程视图）的事务操作
type RunAggregateRepository interface {
	// ========== Run相关操作 ==========

	// CreateRun 创建Run及其初始步骤和旅程视图（事务）
	// (workflow_id, employee_id, trigger_event_id) 唯一索引保证幂等：
	// 重复创建返回 ErrDuplicateRun
	CreateRun(ctx context.Context, r *run.Run, steps []*run.Step, view *run.JourneyView) error

	// GetRun 根据ID获取Run
	// 如果不存在返回 nil, nil
	GetRun(ctx context.Context, id string) (*run.Run, error)

	// GetRunByDedupKey 根据幂等键查找Run
	// 如果不存在返回 nil, nil
	GetRunByDedupKey(ctx context.Context, workflowID, employeeID, triggerEventID string) (*run.Run, error)

	// ListRuns 列出Run，workflowID/employeeID为空表示不过滤
	ListRuns(ctx context.Context, tenantID, workflowID, employeeID string) ([]*run.Run, error)

	// UpdateRunStatusIf 条件更新Run状态（单调迁移保证）
	// 只有当前状态在from列表中才更新；进入终态时写入end_time
	UpdateRunStatusIf(ctx context.Context, id string, from []run.Status, to run.Status, errorMsg string) (bool, error)

	// UpdateRunContext 更新Run的累积上下文
	UpdateRunContext(ctx context.Context, id string, context map[string]any) error

	// AcquireRunLease 获取Run的单写者推进锁
	// 锁空闲、已过期或已被同一owner持有时获取成功；返回是否获取到
	AcquireRunLease(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error)

	// ReleaseRunLease 释放Run推进锁（仅owner本人可释放，幂等）
	ReleaseRunLease(ctx context.Context, runID, owner string) error

	// ========== Step相关操作 ==========

	// SaveStep 保存步骤（幂等，存在则更新）
	SaveStep(ctx context.Context, s *run.Step) error

	// GetStep 根据ID获取步骤
	// 如果不存在返回 nil, nil
	GetStep(ctx context.Context, id string) (*run.Step, error)

	// GetStepsByRun 获取Run的所有步骤
	GetStepsByRun(ctx context.Context, runID string) ([]*run.Step, error)

	// UpdateStepIfOpen 条件更新步骤（终态不可再变）
	// 只有步骤尚未进入终态时才更新状态/结果/错误/尝试次数；返回是否更新成功
	UpdateStepIfOpen(ctx context.Context, s *run.Step) (bool, error)

	// CancelOpenSteps 将Run下所有非终态步骤标记为canceled，返回受影响行数
	CancelOpenSteps(ctx context.Context, runID string) (int64, error)

	// ListOrphanedOpenSteps 列出失去驱动来源的孤立步骤
	// 筛选条件：步骤处于in_progress或queued、创建早于cutoff、所属Run未终结，
	// 且既没有调度票据也没有待处理任务能推动它（崩溃落在步骤落库与
	// 任务/票据写入之间时出现）
	ListOrphanedOpenSteps(ctx context.Context, cutoff time.Time, limit int) ([]*run.Step, error)

	// ========== Task相关操作 ==========

	// SaveTask 保存任务
	SaveTask(ctx context.Context, t *task.Task) error

	// GetTask 根据ID获取任务
	// 如果不存在返回 nil, nil
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// CompleteTaskIfPending 条件完成任务
	// 只有pending状态才更新为completed；并发重复提交时恰好一个调用返回true
	CompleteTaskIfPending(ctx context.Context, taskID string, result map[string]any, completedAt time.Time) (bool, error)

	// ListPendingTasksByRun 列出Run下所有待处理任务
	ListPendingTasksByRun(ctx context.Context, runID string) ([]*task.Task, error)

	// ListPendingTasksByAssignee 列出受理人名下所有待处理任务
	ListPendingTasksByAssignee(ctx context.Context, tenantID, assigneeID string) ([]*task.Task, error)

	// ListOverdueTasks 列出已过期但仍待处理的任务（仅用于升级提醒）
	ListOverdueTasks(ctx context.Context, tenantID string, now time.Time) ([]*task.Task, error)

	// CancelOpenTasks 将Run下所有待处理任务标记为canceled，返回受影响行数
	CancelOpenTasks(ctx context.Context, runID string) (int64, error)

	// ========== 动作队列相关操作 ==========

	// EnqueueAction 入队调度票据
	EnqueueAction(ctx context.Context, e *run.QueueEntry) error

	// ClaimDueActions 认领到期的调度票据（单一所有者租约）
	// 票据空闲或租约过期才能认领成功；同一票据不会被并发恢复
	ClaimDueActions(ctx context.Context, owner string, now time.Time, leaseTTL time.Duration, limit int) ([]*run.QueueEntry, error)

	// RescheduleAction 失败后重新排期（记录attempts和last_error，释放认领）
	RescheduleAction(ctx context.Context, id string, resumeAt time.Time, attempts int, lastError string) error

	// DeleteAction 删除调度票据（成功恢复时原子移除，幂等）
	DeleteAction(ctx context.Context, id string) error

	// DeleteActionsByRun 删除Run下所有调度票据（取消Run时使用，幂等）
	DeleteActionsByRun(ctx context.Context, runID string) error

	// ========== 事件日志相关操作 ==========

	// AppendEvent 追加事件（事务内分配Run内单调递增的Position）
	// 事件日志只追加，从不更新或删除
	AppendEvent(ctx context.Context, ev *run.Event) error

	// ListEventsByRun 按Position顺序列出Run的所有事件
	ListEventsByRun(ctx context.Context, runID string) ([]*run.Event, error)

	// ========== 旅程视图相关操作 ==========

	// GetJourneyViewByToken 根据分享令牌获取旅程视图
	// 如果不存在返回 nil, nil
	GetJourneyViewByToken(ctx context.Context, token string) (*run.JourneyView, error)

	// GetJourneyViewByRun 根据Run ID获取旅程视图
	// 如果不存在返回 nil, nil
	GetJourneyViewByRun(ctx context.Context, runID string) (*run.JourneyView, error)
}
