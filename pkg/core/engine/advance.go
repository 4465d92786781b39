package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stevelan1995/hrflow/pkg/core/dag"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/plugin"
)

// edgeClass 入边的求值结果（内部使用）
type edgeClass int

const (
	// edgeSatisfied 源步骤已完成且条件命中
	edgeSatisfied edgeClass = iota
	// edgePending 源节点还活着但尚未完成
	edgePending
	// edgeDead 这条路径永远不会走到：源节点死亡、源步骤失败/取消或分支条件未命中
	edgeDead
)

// nodeState 节点在本轮推进中的状态（内部使用）
type nodeState struct {
	step  *run.Step
	dead  bool
	ready bool
}

// ========== Run推进 ==========

// AdvanceRun 推进Run（对外导出）
// 可重入：执行前沿完全由已持久化的步骤行推导，崩溃后重新调用从同一状态继续。
// 通过Run级推进锁保证单写者，锁被其他工作进程持有时本次调用直接返回
func (e *Engine) AdvanceRun(ctx context.Context, runID string) error {
	ok, err := e.repo.AcquireRunLease(ctx, runID, e.cfg.WorkerID, e.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("⏳ Run推进锁被占用，跳过本次推进: ID=%s", runID)
		return nil
	}
	defer func() {
		if err := e.repo.ReleaseRunLease(context.WithoutCancel(ctx), runID, e.cfg.WorkerID); err != nil {
			log.Printf("⚠️ 释放Run推进锁失败: ID=%s, Error=%v", runID, err)
		}
	}()

	r, err := e.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r == nil {
		return workflow.NewNotFoundError("run", runID)
	}
	if r.Status.Terminal() {
		return nil
	}

	if r.Status == run.StatusPending {
		if ok, err := e.repo.UpdateRunStatusIf(ctx, runID,
			[]run.Status{run.StatusPending}, run.StatusInProgress, ""); err != nil {
			return err
		} else if ok {
			r.Status = run.StatusInProgress
			e.appendEvent(ctx, &run.Event{RunID: runID, Type: run.EventRunStarted})
		}
	}

	g, err := e.defs.GetDefinition(ctx, r.VersionID)
	if err != nil {
		return err
	}

	// 循环执行就绪节点，直到没有新的节点可以启动。
	// 逻辑节点同步完成会立即解锁下游，所以一轮推进内可能执行多个节点
	for {
		steps, err := e.repo.GetStepsByRun(ctx, runID)
		if err != nil {
			return err
		}

		states := computeNodeStates(g, steps)
		ready := readyNodes(g, states)
		if len(ready) == 0 {
			break
		}

		for _, node := range ready {
			// 协作式取消的边界：每个节点启动前重新观察Run状态。
			// 中途落地的取消最多让当前步骤完成迁移，批次里剩余的
			// 就绪节点不再启动，也就不再产生新的任务
			r, err = e.repo.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			if r == nil || r.Status.Terminal() {
				return nil
			}
			terminal, err := e.executeNode(ctx, r, g, node)
			if err != nil {
				return err
			}
			if terminal {
				// 必需节点失败已将Run标记为failed，停止推进
				return nil
			}
		}

		// 重新读取上下文：逻辑节点求值依赖任务结果的累积
		r, err = e.repo.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if r == nil || r.Status.Terminal() {
			return nil
		}
	}

	return e.finalizeIfComplete(ctx, r, g)
}

// finalizeIfComplete 所有活分支都到达终点时将Run标记为completed
func (e *Engine) finalizeIfComplete(ctx context.Context, r *run.Run, g *dag.CompiledGraph) error {
	steps, err := e.repo.GetStepsByRun(ctx, r.ID)
	if err != nil {
		return err
	}

	// 仍有未终结的步骤（等待任务、延迟或重试）：Run保持in_progress
	for _, s := range steps {
		if !s.Status.Terminal() {
			return nil
		}
	}
	// 没有就绪节点且没有未终结步骤 => 每个活节点都已执行完毕
	states := computeNodeStates(g, steps)
	if len(readyNodes(g, states)) > 0 {
		return nil
	}

	ok, err := e.repo.UpdateRunStatusIf(ctx, r.ID,
		[]run.Status{run.StatusPending, run.StatusInProgress}, run.StatusCompleted, "")
	if err != nil {
		return err
	}
	if ok {
		e.appendEvent(ctx, &run.Event{RunID: r.ID, Type: run.EventRunCompleted})
		log.Printf("✅ Run执行完成: ID=%s", r.ID)
	}
	return nil
}

// computeNodeStates 从已持久化的步骤推导每个节点的状态
// 按拓扑序处理，保证判定某节点时它的所有上游都已判定：
//   - 触发节点：步骤为canceled即死亡（未命中的触发分支）
//   - 其他节点：所有入边都死亡才死亡；入边死亡 = 源节点死亡，或源步骤
//     失败/取消，或逻辑分支条件未命中
func computeNodeStates(g *dag.CompiledGraph, steps []*run.Step) map[string]*nodeState {
	stepByNode := make(map[string]*run.Step, len(steps))
	for _, s := range steps {
		stepByNode[s.NodeID] = s
	}

	states := make(map[string]*nodeState, len(g.Nodes()))
	order := g.TopologicalSort()
	for _, level := range order.Levels {
		for _, nodeID := range level {
			node := g.Node(nodeID)
			st := &nodeState{step: stepByNode[nodeID]}
			states[nodeID] = st

			if node.Type == workflow.NodeTypeTrigger {
				st.dead = st.step == nil || st.step.Status == run.StepStatusCanceled
				continue
			}

			satisfied, pending, deadEdges := 0, 0, 0
			inEdges := g.InEdges(nodeID)
			for _, edge := range inEdges {
				switch classifyEdge(g, states, edge) {
				case edgeSatisfied:
					satisfied++
				case edgePending:
					pending++
				case edgeDead:
					deadEdges++
				}
			}

			if len(inEdges) == 0 || deadEdges == len(inEdges) {
				st.dead = st.step == nil
				continue
			}
			// 汇合语义：等到没有悬而未决的入边才启动（all-branches join）
			if st.step == nil && pending == 0 && satisfied >= 1 {
				st.ready = true
			}
		}
	}
	return states
}

// classifyEdge 求值一条入边
func classifyEdge(g *dag.CompiledGraph, states map[string]*nodeState, edge *workflow.Edge) edgeClass {
	src := states[edge.SourceNodeID]
	if src == nil || src.dead {
		return edgeDead
	}
	if src.step == nil {
		return edgePending
	}
	switch src.step.Status {
	case run.StepStatusCompleted:
		srcNode := g.Node(edge.SourceNodeID)
		if srcNode.Type == workflow.NodeTypeLogic {
			if outcomeMatches(src.step, edge.Condition) {
				return edgeSatisfied
			}
			return edgeDead
		}
		return edgeSatisfied
	case run.StepStatusFailed, run.StepStatusCanceled:
		// 非必需节点失败只终结所在分支
		return edgeDead
	default:
		return edgePending
	}
}

// outcomeMatches 判断逻辑步骤的求值结果是否命中边条件
func outcomeMatches(s *run.Step, condition string) bool {
	outcome, _ := s.Result["outcome"].(bool)
	if outcome {
		return condition == workflow.ConditionTrue
	}
	return condition == workflow.ConditionFalse
}

// readyNodes 收集就绪节点，按拓扑序返回保证确定性
func readyNodes(g *dag.CompiledGraph, states map[string]*nodeState) []*workflow.Node {
	var ready []*workflow.Node
	order := g.TopologicalSort()
	for _, level := range order.Levels {
		for _, nodeID := range level {
			if states[nodeID].ready {
				ready = append(ready, g.Node(nodeID))
			}
		}
	}
	return ready
}

// ========== 节点执行 ==========

// executeNode 执行一个就绪节点
// 返回terminal=true表示必需节点失败已将Run收敛为failed
func (e *Engine) executeNode(ctx context.Context, r *run.Run, g *dag.CompiledGraph, node *workflow.Node) (bool, error) {
	now := time.Now()
	step := &run.Step{
		ID:         uuid.New().String(),
		RunID:      r.ID,
		NodeID:     node.ID,
		NodeKey:    node.Key,
		NodeType:   node.Type,
		Status:     run.StepStatusInProgress,
		Attempts:   1,
		StartTime:  now,
		CreateTime: now,
	}
	if err := e.repo.SaveStep(ctx, step); err != nil {
		return false, err
	}
	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventStepStarted,
		StepID:  step.ID,
		Payload: map[string]any{"node_key": node.Key, "node_type": string(node.Type)},
	})

	switch node.Type {
	case workflow.NodeTypeLogic:
		return false, e.executeLogic(ctx, r, node, step)
	case workflow.NodeTypeDelay:
		return false, e.executeDelay(ctx, r, node, step)
	case workflow.NodeTypeAction:
		return e.executeAction(ctx, r, node, step)
	default:
		return false, fmt.Errorf("节点 %s 的类型 %s 不可执行", node.Key, node.Type)
	}
}

// executeLogic 执行逻辑节点：对Run上下文同步求值并立即完成
func (e *Engine) executeLogic(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step) error {
	outcome := node.Config.Logic.Expression.Evaluate(r.Context)

	step.Status = run.StepStatusCompleted
	step.Result = map[string]any{"outcome": outcome}
	endTime := time.Now()
	step.EndTime = &endTime
	if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
		return err
	}

	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventBranchEvaluated,
		StepID:  step.ID,
		Payload: map[string]any{"node_key": node.Key, "outcome": outcome},
	})
	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventStepCompleted,
		StepID:  step.ID,
		Payload: map[string]any{"node_key": node.Key},
	})

	log.Printf("🔀 逻辑节点求值: Run=%s, Node=%s, Outcome=%v", r.ID, node.Key, outcome)
	return nil
}

// executeDelay 执行延迟节点：步骤挂起并写入调度票据
func (e *Engine) executeDelay(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step) error {
	resumeAt := time.Now().Add(node.Config.Delay.Duration())

	step.Status = run.StepStatusQueued
	step.DueAt = &resumeAt
	if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
		return err
	}

	entry := &run.QueueEntry{
		ID:         uuid.New().String(),
		RunID:      r.ID,
		StepID:     step.ID,
		ResumeAt:   resumeAt,
		CreateTime: time.Now(),
	}
	if err := e.repo.EnqueueAction(ctx, entry); err != nil {
		return err
	}

	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventDelayScheduled,
		StepID:  step.ID,
		Payload: map[string]any{"node_key": node.Key, "resume_at": resumeAt.Format(time.RFC3339)},
	})

	log.Printf("⏰ 延迟已排期: Run=%s, Node=%s, ResumeAt=%s", r.ID, node.Key, resumeAt.Format(time.RFC3339))
	return nil
}

// executeAction 执行动作节点
// 声明了task_type时生成人工任务并挂起等待；否则执行自动通知后立即完成。
// 受理人解析或通知发送失败按外部依赖错误走退避重试
func (e *Engine) executeAction(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step) (bool, error) {
	cfg := node.Config.Action

	if cfg.TaskType != "" {
		if err := e.createHumanTask(ctx, r, node, step); err != nil {
			return e.handleActionFailure(ctx, r, node, step, err)
		}
		return false, nil
	}

	if err := e.sendNotification(ctx, r, node, step); err != nil {
		return e.handleActionFailure(ctx, r, node, step, err)
	}

	step.Status = run.StepStatusCompleted
	endTime := time.Now()
	step.EndTime = &endTime
	if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
		return false, err
	}
	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventStepCompleted,
		StepID:  step.ID,
		Payload: map[string]any{"node_key": node.Key},
	})
	return false, nil
}

// createHumanTask 为动作节点生成人工任务，步骤进入waiting_input
func (e *Engine) createHumanTask(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step) error {
	cfg := node.Config.Action

	assigneeID, err := e.resolveAssignee(ctx, r, cfg.Assignee)
	if err != nil {
		return workflow.NewExternalDependencyError("employee_directory", err)
	}

	now := time.Now()
	t := &task.Task{
		ID:          uuid.New().String(),
		RunID:       r.ID,
		StepID:      step.ID,
		TenantID:    r.TenantID,
		EmployeeID:  r.EmployeeID,
		Type:        task.Type(cfg.TaskType),
		Title:       renderOr(cfg.Title, r.Context, node.Name),
		Description: renderOr(cfg.Description, r.Context, ""),
		AssigneeID:  assigneeID,
		Form:        cfg.Form,
		Status:      task.StatusPending,
		CreateTime:  now,
	}
	if cfg.DueInHours > 0 {
		dueAt := now.Add(time.Duration(cfg.DueInHours) * time.Hour)
		t.DueAt = &dueAt
	}
	if err := e.repo.SaveTask(ctx, t); err != nil {
		return err
	}

	step.Status = run.StepStatusWaitingInput
	step.DueAt = t.DueAt
	if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
		return err
	}

	e.appendEvent(ctx, &run.Event{
		RunID:  r.ID,
		Type:   run.EventTaskCreated,
		StepID: step.ID,
		TaskID: t.ID,
		Payload: map[string]any{
			"node_key":  node.Key,
			"task_type": string(t.Type),
			"assignee":  assigneeID,
		},
	})

	// 伴随任务的通知尽力而为：发送失败不影响任务等待
	if cfg.Notify != nil {
		if err := e.sendNotification(ctx, r, node, step); err != nil {
			log.Printf("⚠️ 任务通知发送失败（任务继续等待）: Run=%s, Node=%s, Error=%v", r.ID, node.Key, err)
		}
	}

	log.Printf("📋 人工任务已创建: ID=%s, Run=%s, Node=%s, Assignee=%s", t.ID, r.ID, node.Key, assigneeID)
	return nil
}

// sendNotification 发送动作节点声明的自动通知
func (e *Engine) sendNotification(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step) error {
	cfg := node.Config.Action.Notify
	if cfg == nil {
		return nil
	}
	if e.plugins == nil {
		return workflow.NewExternalDependencyError("notification",
			fmt.Errorf("通知插件管理器未配置"))
	}

	recipientID, err := e.resolveAssignee(ctx, r, cfg.Recipient)
	if err != nil {
		return workflow.NewExternalDependencyError("employee_directory", err)
	}

	subject, _ := workflow.RenderTemplate(cfg.Template, r.Context)
	n := &plugin.Notification{
		TenantID:    r.TenantID,
		RunID:       r.ID,
		RecipientID: recipientID,
		Channel:     cfg.Channel,
		Subject:     subject,
		Body:        renderOr(node.Config.Action.Description, r.Context, subject),
		Context:     r.Context,
		CreatedAt:   time.Now(),
	}
	if err := e.plugins.Send(ctx, n); err != nil {
		return workflow.NewExternalDependencyError("notification", err)
	}
	return nil
}

// resolveAssignee 解析受理人引用，未设置时默认为Run对应的员工本人
func (e *Engine) resolveAssignee(ctx context.Context, r *run.Run, ref *workflow.AssigneeRef) (string, error) {
	if ref == nil || ref.Mode == workflow.AssigneeModeEmployee {
		return r.EmployeeID, nil
	}
	if ref.Mode == workflow.AssigneeModeExplicit {
		return ref.Value, nil
	}
	if e.dir == nil {
		return "", fmt.Errorf("员工目录未配置，无法解析 %s 受理人", ref.Mode)
	}
	return e.dir.ResolveAssignee(ctx, r.TenantID, *ref, r.EmployeeID)
}

// renderOr 渲染模板，模板为空时返回默认值
func renderOr(template string, ctx map[string]any, fallback string) string {
	if template == "" {
		return fallback
	}
	rendered, _ := workflow.RenderTemplate(template, ctx)
	return rendered
}

// ========== 失败处理与重试 ==========

// handleActionFailure 处理动作步骤的执行失败
// 重试预算内按指数退避排入动作队列；预算耗尽时步骤失败，
// 必需节点进一步把整个Run收敛为failed（返回terminal=true）
func (e *Engine) handleActionFailure(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step, cause error) (bool, error) {
	maxAttempts := e.maxAttemptsFor(node)
	step.ErrorMessage = cause.Error()

	if step.Attempts < maxAttempts {
		resumeAt := time.Now().Add(e.backoff(step.Attempts))
		step.Status = run.StepStatusQueued
		step.DueAt = &resumeAt
		if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
			return false, err
		}
		entry := &run.QueueEntry{
			ID:         uuid.New().String(),
			RunID:      r.ID,
			StepID:     step.ID,
			ResumeAt:   resumeAt,
			Attempts:   step.Attempts,
			LastError:  cause.Error(),
			CreateTime: time.Now(),
		}
		if err := e.repo.EnqueueAction(ctx, entry); err != nil {
			return false, err
		}
		e.appendEvent(ctx, &run.Event{
			RunID:  r.ID,
			Type:   run.EventStepRetryScheduled,
			StepID: step.ID,
			Payload: map[string]any{
				"node_key":  node.Key,
				"attempts":  step.Attempts,
				"resume_at": resumeAt.Format(time.RFC3339),
				"error":     cause.Error(),
			},
		})
		log.Printf("🔁 动作步骤将重试: Run=%s, Node=%s, Attempts=%d/%d", r.ID, node.Key, step.Attempts, maxAttempts)
		return false, nil
	}

	return e.failStep(ctx, r, node, step, cause)
}

// failStep 重试预算耗尽：步骤进入failed终态
func (e *Engine) failStep(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step, cause error) (bool, error) {
	step.Status = run.StepStatusFailed
	endTime := time.Now()
	step.EndTime = &endTime
	if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
		return false, err
	}
	e.appendEvent(ctx, &run.Event{
		RunID:  r.ID,
		Type:   run.EventStepFailed,
		StepID: step.ID,
		Payload: map[string]any{
			"node_key": node.Key,
			"error":    cause.Error(),
		},
	})

	if node.Config.Action != nil && node.Config.Action.Required {
		return true, e.failRun(ctx, r, fmt.Sprintf("必需节点 %s 重试耗尽: %v", node.Key, cause))
	}

	log.Printf("⚠️ 非必需节点失败，分支终结: Run=%s, Node=%s", r.ID, node.Key)
	return false, nil
}

// failRun 必需节点失败：整个Run收敛为failed，需要人工介入
func (e *Engine) failRun(ctx context.Context, r *run.Run, reason string) error {
	ok, err := e.repo.UpdateRunStatusIf(ctx, r.ID,
		[]run.Status{run.StatusPending, run.StatusInProgress}, run.StatusFailed, reason)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if _, err := e.repo.CancelOpenSteps(ctx, r.ID); err != nil {
		return err
	}
	if _, err := e.repo.CancelOpenTasks(ctx, r.ID); err != nil {
		return err
	}
	if err := e.repo.DeleteActionsByRun(ctx, r.ID); err != nil {
		return err
	}

	e.appendEvent(ctx, &run.Event{
		RunID:   r.ID,
		Type:    run.EventRunFailed,
		Payload: map[string]any{"reason": reason},
	})
	log.Printf("❌ Run执行失败: ID=%s, Reason=%s", r.ID, reason)
	return nil
}

// maxAttemptsFor 返回节点的重试预算
func (e *Engine) maxAttemptsFor(node *workflow.Node) int {
	if node.Config.Action != nil && node.Config.Action.MaxAttempts > 0 {
		return node.Config.Action.MaxAttempts
	}
	return e.cfg.DefaultMaxAttempts
}

// backoff 第attempts次失败后的退避时长（指数增长，上限1小时）
func (e *Engine) backoff(attempts int) time.Duration {
	d := e.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}

// ========== 队列恢复 ==========

// RecoverOrphanedSteps 重新挂接孤立的未终结步骤（对外导出）
// 崩溃可能落在步骤落库与任务/票据写入之间，留下一个既没有任务
// 也没有票据能驱动的步骤，Run会永远停在那里。超过租约TTL仍处于
// 这种状态的步骤补写一张调度票据，交给常规扫描按原路径恢复：
// 延迟步骤按DueAt到期，动作步骤立即重试。返回补写的票据数
func (e *Engine) RecoverOrphanedSteps(ctx context.Context, now time.Time, limit int) (int, error) {
	steps, err := e.repo.ListOrphanedOpenSteps(ctx, now.Add(-e.cfg.LeaseTTL), limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, s := range steps {
		resumeAt := now
		if s.DueAt != nil && s.DueAt.After(now) {
			resumeAt = *s.DueAt
		}
		entry := &run.QueueEntry{
			ID:         uuid.New().String(),
			RunID:      s.RunID,
			StepID:     s.ID,
			ResumeAt:   resumeAt,
			Attempts:   s.Attempts,
			LastError:  s.ErrorMessage,
			CreateTime: now,
		}
		if err := e.repo.EnqueueAction(ctx, entry); err != nil {
			return recovered, err
		}
		recovered++
		log.Printf("🔁 孤立步骤已补写票据: Run=%s, Step=%s, Node=%s, ResumeAt=%s",
			s.RunID, s.ID, s.NodeKey, resumeAt.Format(time.RFC3339))
	}
	return recovered, nil
}

// ResumeAction 恢复一张已认领的调度票据（对外导出）
// 由调度器在票据到期后调用：延迟步骤直接完成，重试步骤重新执行动作。
// 票据对应的Run或步骤已终结时直接清理票据（陈旧票据）
func (e *Engine) ResumeAction(ctx context.Context, entry *run.QueueEntry) error {
	r, err := e.repo.GetRun(ctx, entry.RunID)
	if err != nil {
		return err
	}
	if r == nil || r.Status.Terminal() {
		return e.repo.DeleteAction(ctx, entry.ID)
	}

	step, err := e.repo.GetStep(ctx, entry.StepID)
	if err != nil {
		return err
	}
	if step == nil || step.Status.Terminal() {
		return e.repo.DeleteAction(ctx, entry.ID)
	}

	g, err := e.defs.GetDefinition(ctx, r.VersionID)
	if err != nil {
		return err
	}
	node := g.Node(step.NodeID)
	if node == nil {
		return e.repo.DeleteAction(ctx, entry.ID)
	}

	switch node.Type {
	case workflow.NodeTypeDelay:
		return e.resumeDelay(ctx, r, node, step, entry)
	case workflow.NodeTypeAction:
		return e.retryAction(ctx, r, node, step, entry)
	default:
		return e.repo.DeleteAction(ctx, entry.ID)
	}
}

// resumeDelay 延迟到期：完成步骤并继续推进
func (e *Engine) resumeDelay(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step, entry *run.QueueEntry) error {
	step.Status = run.StepStatusCompleted
	endTime := time.Now()
	step.EndTime = &endTime
	updated, err := e.repo.UpdateStepIfOpen(ctx, step)
	if err != nil {
		return err
	}
	if err := e.repo.DeleteAction(ctx, entry.ID); err != nil {
		return err
	}
	if updated {
		e.appendEvent(ctx, &run.Event{
			RunID:   r.ID,
			Type:    run.EventDelayFired,
			StepID:  step.ID,
			Payload: map[string]any{"node_key": node.Key},
		})
		e.appendEvent(ctx, &run.Event{
			RunID:   r.ID,
			Type:    run.EventStepCompleted,
			StepID:  step.ID,
			Payload: map[string]any{"node_key": node.Key},
		})
		log.Printf("⏰ 延迟到期: Run=%s, Node=%s", r.ID, node.Key)
	}
	return e.AdvanceRun(ctx, r.ID)
}

// retryAction 重试到期的动作步骤
func (e *Engine) retryAction(ctx context.Context, r *run.Run, node *workflow.Node, step *run.Step, entry *run.QueueEntry) error {
	step.Attempts++
	step.Status = run.StepStatusInProgress
	if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
		return err
	}

	var execErr error
	if node.Config.Action.TaskType != "" {
		execErr = e.createHumanTask(ctx, r, node, step)
	} else {
		execErr = e.sendNotification(ctx, r, node, step)
	}

	if execErr != nil {
		maxAttempts := e.maxAttemptsFor(node)
		if step.Attempts < maxAttempts {
			resumeAt := time.Now().Add(e.backoff(step.Attempts))
			step.Status = run.StepStatusQueued
			step.DueAt = &resumeAt
			step.ErrorMessage = execErr.Error()
			if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
				return err
			}
			if err := e.repo.RescheduleAction(ctx, entry.ID, resumeAt, step.Attempts, execErr.Error()); err != nil {
				return err
			}
			e.appendEvent(ctx, &run.Event{
				RunID:  r.ID,
				Type:   run.EventStepRetryScheduled,
				StepID: step.ID,
				Payload: map[string]any{
					"node_key":  node.Key,
					"attempts":  step.Attempts,
					"resume_at": resumeAt.Format(time.RFC3339),
					"error":     execErr.Error(),
				},
			})
			return nil
		}

		if err := e.repo.DeleteAction(ctx, entry.ID); err != nil {
			return err
		}
		if _, err := e.failStep(ctx, r, node, step, execErr); err != nil {
			return err
		}
		return e.AdvanceRun(ctx, r.ID)
	}

	// 执行成功：人工任务已进入waiting_input，自动通知则步骤完成
	if err := e.repo.DeleteAction(ctx, entry.ID); err != nil {
		return err
	}
	if node.Config.Action.TaskType == "" {
		step.Status = run.StepStatusCompleted
		endTime := time.Now()
		step.EndTime = &endTime
		if _, err := e.repo.UpdateStepIfOpen(ctx, step); err != nil {
			return err
		}
		e.appendEvent(ctx, &run.Event{
			RunID:   r.ID,
			Type:    run.EventStepCompleted,
			StepID:  step.ID,
			Payload: map[string]any{"node_key": node.Key},
		})
		return e.AdvanceRun(ctx, r.ID)
	}
	return nil
}
