// Package engine 实现Run执行器和任务管理：
// 可重入的AdvanceRun、人工任务的幂等完成、协作式取消。
// 所有状态都持久化在Repository中，任何工作进程都可以在崩溃后接续推进。
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/stevelan1995/hrflow/pkg/core/dag"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/directory"
	"github.com/stevelan1995/hrflow/pkg/core/docstore"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/plugin"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// TopicRunTimeline 时间线事件发布主题（对外导出）
// 每条写入事件日志的事件同时发布到此主题，供WebSocket流订阅
const TopicRunTimeline = "run_timeline"

// Config 引擎配置（对外导出）
type Config struct {
	// WorkerID 工作进程标识，用于Run推进锁和队列认领
	WorkerID string
	// LeaseTTL Run推进锁的TTL
	LeaseTTL time.Duration
	// DefaultMaxAttempts 动作步骤的默认重试预算
	DefaultMaxAttempts int
	// RetryBase 退避基准间隔，第n次重试等待 RetryBase * 2^(n-1)
	RetryBase time.Duration
}

// withDefaults 填充配置默认值
func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.New().String()[:8]
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	return c
}

// Engine Run执行器（对外导出）
type Engine struct {
	defs    *definition.Store
	repo    storage.RunAggregateRepository
	plugins *plugin.Manager
	dir     directory.Resolver
	docs    docstore.Resolver
	pub     message.Publisher
	cfg     Config
}

// NewEngine 创建Run执行器
// plugins/dir/docs是外部协作方，允许为nil（对应能力不可用时按外部依赖错误处理）
func NewEngine(defs *definition.Store, repo storage.RunAggregateRepository,
	plugins *plugin.Manager, dir directory.Resolver, docs docstore.Resolver, cfg Config) *Engine {
	return &Engine{
		defs:    defs,
		repo:    repo,
		plugins: plugins,
		dir:     dir,
		docs:    docs,
		cfg:     cfg.withDefaults(),
	}
}

// SetPublisher 设置时间线事件发布器（对外导出）
func (e *Engine) SetPublisher(pub message.Publisher) {
	e.pub = pub
}

// WorkerID 返回工作进程标识
func (e *Engine) WorkerID() string {
	return e.cfg.WorkerID
}

// ========== Run创建 ==========

// CreateRun 从匹配的触发节点创建Run（对外导出）
// 幂等键 (workflow_id, employee_id, trigger_event_id) 冲突时返回已存在的Run
// 和 created=false；首次创建会在同一事务内写入全部触发步骤和旅程视图：
// 命中的触发步骤标记completed，其余触发步骤标记canceled（对应分支死亡）
func (e *Engine) CreateRun(ctx context.Context, wf *workflow.Workflow, g *dag.CompiledGraph,
	employeeID, triggerEventID string, matched *workflow.Node, payload map[string]any) (*run.Run, bool, error) {
	now := time.Now()
	runCtx := map[string]any{
		"employee_id": employeeID,
		"event":       payload,
	}

	r := &run.Run{
		ID:             uuid.New().String(),
		TenantID:       wf.TenantID,
		WorkflowID:     wf.ID,
		VersionID:      g.VersionID,
		EmployeeID:     employeeID,
		TriggerEventID: triggerEventID,
		Status:         run.StatusPending,
		Context:        runCtx,
		StartTime:      now,
		CreateTime:     now,
	}

	var steps []*run.Step
	var matchedStep *run.Step
	for _, trigger := range g.Triggers() {
		s := &run.Step{
			ID:         uuid.New().String(),
			RunID:      r.ID,
			NodeID:     trigger.ID,
			NodeKey:    trigger.Key,
			NodeType:   workflow.NodeTypeTrigger,
			Attempts:   1,
			StartTime:  now,
			CreateTime: now,
		}
		if trigger.ID == matched.ID {
			s.Status = run.StepStatusCompleted
			s.Result = map[string]any{"event_type": trigger.Config.Trigger.EventType}
			endTime := now
			s.EndTime = &endTime
			matchedStep = s
		} else {
			// 未命中的触发节点：其下游分支视为死分支
			s.Status = run.StepStatusCanceled
			endTime := now
			s.EndTime = &endTime
		}
		steps = append(steps, s)
	}

	view := &run.JourneyView{
		ID:         uuid.New().String(),
		RunID:      r.ID,
		ShareToken: uuid.New().String(),
		HeroTitle:  wf.Name,
		HeroBody:   wf.Description,
		CreateTime: now,
	}

	if err := e.repo.CreateRun(ctx, r, steps, view); err != nil {
		if err == storage.ErrDuplicateRun {
			existing, getErr := e.repo.GetRunByDedupKey(ctx, wf.ID, employeeID, triggerEventID)
			if getErr != nil {
				return nil, false, getErr
			}
			log.Printf("⏭️ Run已存在，跳过重复创建: Workflow=%s, Employee=%s, Event=%s", wf.ID, employeeID, triggerEventID)
			return existing, false, nil
		}
		return nil, false, err
	}

	e.appendEvent(ctx, &run.Event{
		RunID: r.ID,
		Type:  run.EventRunCreated,
		Payload: map[string]any{
			"workflow_id":    wf.ID,
			"version_number": g.VersionNumber,
			"employee_id":    employeeID,
		},
	})
	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventStepCompleted,
		StepID:  matchedStep.ID,
		Payload: map[string]any{"node_key": matchedStep.NodeKey},
	})

	log.Printf("🚀 Run创建成功: ID=%s, Workflow=%s, Employee=%s", r.ID, wf.Name, employeeID)
	return r, true, nil
}

// ========== 协作式取消 ==========

// CancelRun 取消Run（对外导出）
// 取消后不再产生任何新任务：关闭所有未完成步骤和待处理任务，
// 清空动作队列；已完成的步骤保持不变
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	r, err := e.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r == nil {
		return workflow.NewNotFoundError("run", runID)
	}

	ok, err := e.repo.UpdateRunStatusIf(ctx, runID,
		[]run.Status{run.StatusPending, run.StatusInProgress}, run.StatusCanceled, "")
	if err != nil {
		return err
	}
	if !ok {
		return workflow.NewConflictError("Run %s 已处于终态，不能取消", runID)
	}

	canceledSteps, err := e.repo.CancelOpenSteps(ctx, runID)
	if err != nil {
		return err
	}
	canceledTasks, err := e.repo.CancelOpenTasks(ctx, runID)
	if err != nil {
		return err
	}
	if err := e.repo.DeleteActionsByRun(ctx, runID); err != nil {
		return err
	}

	e.appendEvent(ctx, &run.Event{
		RunID: runID,
		Type:  run.EventRunCanceled,
		Payload: map[string]any{
			"canceled_steps": canceledSteps,
			"canceled_tasks": canceledTasks,
		},
	})

	log.Printf("🛑 Run已取消: ID=%s, 关闭步骤=%d, 关闭任务=%d", runID, canceledSteps, canceledTasks)
	return nil
}

// ========== 任务完成 ==========

// CompleteTask 完成人工任务（对外导出）
// 幂等：对已完成任务的重复调用返回先前的结果而不是报错；
// 并发重复提交由条件更新保证恰好一个胜出，败者同样拿到先前结果。
// 属于已取消Run的任务返回RunCanceledError
func (e *Engine) CompleteTask(ctx context.Context, taskID string, payload *task.Payload) (*task.Task, error) {
	t, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, workflow.NewNotFoundError("task", taskID)
	}

	r, err := e.repo.GetRun(ctx, t.RunID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, workflow.NewNotFoundError("run", t.RunID)
	}
	if r.Status == run.StatusCanceled {
		return nil, workflow.NewRunCanceledError(r.ID)
	}

	// 重复提交：返回先前结果
	if t.Status == task.StatusCompleted {
		return t, nil
	}
	if t.Status == task.StatusCanceled {
		return nil, workflow.NewRunCanceledError(r.ID)
	}

	if err := t.Validate(payload); err != nil {
		return nil, err
	}
	// 文档任务的文档ID必须对应一份已上传的文档
	if t.Type == task.TypeDocument && e.docs != nil {
		exists, err := e.docs.Exists(ctx, t.TenantID, payload.Document.DocumentID)
		if err != nil {
			return nil, workflow.NewExternalDependencyError("document_storage", err)
		}
		if !exists {
			return nil, workflow.NewValidationError("", []string{
				fmt.Sprintf("文档 %s 不存在", payload.Document.DocumentID),
			})
		}
	}

	result := t.CompletionResult(payload)
	completedAt := time.Now()
	won, err := e.repo.CompleteTaskIfPending(ctx, taskID, result, completedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// 并发败者：重新读取并返回胜者写入的结果
		t, err = e.repo.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t != nil && t.Status == task.StatusCompleted {
			return t, nil
		}
		return nil, workflow.NewConflictError("任务 %s 的状态不允许完成", taskID)
	}

	t.Status = task.StatusCompleted
	t.Result = result
	t.CompletedAt = &completedAt

	e.appendEvent(ctx, &run.Event{
		RunID:   t.RunID,
		Type:    run.EventTaskCompleted,
		StepID:  t.StepID,
		TaskID:  t.ID,
		Payload: map[string]any{"task_type": string(t.Type)},
	})

	// 关闭对应的waiting_input步骤并把结果并入Run上下文，供下游逻辑节点求值
	step, err := e.repo.GetStep(ctx, t.StepID)
	if err != nil {
		return nil, err
	}
	if step != nil && !step.Status.Terminal() {
		// 先合并上下文再关闭步骤：并发推进一旦观察到步骤completed，
		// 下游逻辑节点读到的上下文必须已经包含任务结果
		if r.Context == nil {
			r.Context = make(map[string]any)
		}
		r.Context[step.NodeKey] = result
		if err := e.repo.UpdateRunContext(ctx, r.ID, r.Context); err != nil {
			return nil, err
		}

		step.Status = run.StepStatusCompleted
		step.Result = result
		endTime := completedAt
		step.EndTime = &endTime
		if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
			return nil, err
		}
		e.appendEvent(ctx, &run.Event{
			RunID:   t.RunID,
			Type:    run.EventStepCompleted,
			StepID:  step.ID,
			Payload: map[string]any{"node_key": step.NodeKey},
		})
	}

	log.Printf("✅ 任务完成: ID=%s, Run=%s", taskID, t.RunID)

	if err := e.AdvanceRun(ctx, t.RunID); err != nil {
		return nil, err
	}
	return t, nil
}

// ========== 查询 ==========

// GetRun 获取Run
func (e *Engine) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	r, err := e.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, workflow.NewNotFoundError("run", runID)
	}
	return r, nil
}

// GetRunSteps 获取Run的所有步骤
func (e *Engine) GetRunSteps(ctx context.Context, runID string) ([]*run.Step, error) {
	return e.repo.GetStepsByRun(ctx, runID)
}

// GetRunTimeline 按发生顺序获取Run的事件时间线
func (e *Engine) GetRunTimeline(ctx context.Context, runID string) ([]*run.Event, error) {
	return e.repo.ListEventsByRun(ctx, runID)
}

// GetTask 获取任务
func (e *Engine) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, workflow.NewNotFoundError("task", taskID)
	}
	return t, nil
}

// ListPendingTasksByAssignee 列出受理人名下的待处理任务
func (e *Engine) ListPendingTasksByAssignee(ctx context.Context, tenantID, assigneeID string) ([]*task.Task, error) {
	return e.repo.ListPendingTasksByAssignee(ctx, tenantID, assigneeID)
}

// ListOverdueTasks 列出已过期但仍待处理的任务（仅用于升级提醒）
func (e *Engine) ListOverdueTasks(ctx context.Context, tenantID string) ([]*task.Task, error) {
	return e.repo.ListOverdueTasks(ctx, tenantID, time.Now())
}

// ========== 事件写入 ==========

// appendEvent 追加审计事件并发布到时间线主题
// 事件日志是"发生过什么"的权威记录；写入失败只记日志，不阻断状态迁移
func (e *Engine) appendEvent(ctx context.Context, ev *run.Event) {
	ev.ID = uuid.New().String()
	ev.CreateTime = time.Now()
	if err := e.repo.AppendEvent(ctx, ev); err != nil {
		log.Printf("❌ 追加事件失败: Run=%s, Type=%s, Error=%v", ev.RunID, ev.Type, err)
		return
	}
	e.publishTimeline(ev)
}

// publishTimeline 将事件发布到时间线主题（发布器未设置时跳过）
func (e *Engine) publishTimeline(ev *run.Event) {
	if e.pub == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("run_id", ev.RunID)
	if err := e.pub.Publish(TopicRunTimeline, msg); err != nil {
		log.Printf("⚠️ 发布时间线事件失败: Run=%s, Error=%v", ev.RunID, err)
	}
}
